// Package transport opens the sockets dchat runs on: the TCP listener peers
// connect to, outbound TCP dials, and the UDP socket discovery beacons use.
//
// The discovery socket is bound with address and port reuse where the
// platform supports it so several chat processes on one host can share the
// well-known port:
//
//	pc, err := transport.ListenDatagram(ctx, ":1337", true)
//	ln, err := transport.Listen(ctx, ":1337")
//
// AcceptLoop feeds accepted connections to a callback until the listener is
// closed, which is how the event loop's accept pump is built.
package transport
