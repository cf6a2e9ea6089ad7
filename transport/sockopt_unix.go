//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package transport

import (
	"golang.org/x/sys/unix"
)

func setSockopts(fd uintptr, reuse bool) error {
	s := int(fd)
	if err := unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return err
	}
	if !reuse {
		return nil
	}
	if err := unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
