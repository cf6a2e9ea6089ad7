// Package peer holds established, authenticated and encrypted connections.
//
// A Registry is owned by the event loop and is not synchronized: every
// mutation happens on the loop goroutine. Peers keep insertion order so
// broadcasts and listings are stable.
//
// Each Peer has one writer. Send only queues a frame; WriteLoop, run on its
// own goroutine, performs the writes in order and returns the first error.
package peer
