//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

// Port reuse is unavailable here; the runtime already enables broadcast on
// datagram sockets.
func setSockopts(fd uintptr, reuse bool) error {
	return nil
}
