package dchat

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchPeer indicates a file command for an address with no peer.
	ErrNoSuchPeer = errors.New("no such peer")

	// ErrClosed indicates the chat is no longer running.
	ErrClosed = errors.New("chat closed")

	// ErrAlreadyRunning indicates a second call to Run.
	ErrAlreadyRunning = errors.New("chat already running")
)

// PeerError represents a failure scoped to one peer or connection attempt.
type PeerError struct {
	Op   string // operation that failed
	Addr string // remote address if known
	Err  error  // underlying error
}

func (e *PeerError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("dchat %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("dchat %s: %v", e.Op, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

func newPeerError(op, addr string, err error) *PeerError {
	return &PeerError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
