package peer

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dchat/auth"
	"github.com/opd-ai/dchat/frame"
)

// DefaultWriteTimeout bounds the write of a single frame.
const DefaultWriteTimeout = 10 * time.Second

// SendQueueSize is the number of encoded frames that may wait for the writer.
const SendQueueSize = 64

var (
	// ErrClosed indicates a Send on a peer that has been closed.
	ErrClosed = errors.New("peer closed")
	// ErrQueueFull indicates the peer is not draining its outbound queue.
	ErrQueueFull = errors.New("peer send queue full")
)

// Peer is one admitted connection. Send and Close are called from the event
// loop; WriteLoop runs on its own goroutine and owns all writes to Conn.
type Peer struct {
	ID        uuid.UUID
	Conn      net.Conn
	Addr      netip.AddrPort
	Role      auth.Role
	Since     time.Time
	Assembler *frame.Assembler

	writeTimeout time.Duration
	queue        chan []byte
	done         chan struct{}
	closeOnce    sync.Once
}

// New wraps conn, whose remote endpoint is addr, as a Peer. maxFileSize
// bounds files the peer may send.
func New(conn net.Conn, addr netip.AddrPort, role auth.Role, maxFileSize int64) *Peer {
	return &Peer{
		ID:           uuid.New(),
		Conn:         conn,
		Addr:         addr,
		Role:         role,
		Since:        time.Now(),
		Assembler:    frame.NewAssembler(maxFileSize),
		writeTimeout: DefaultWriteTimeout,
		queue:        make(chan []byte, SendQueueSize),
		done:         make(chan struct{}),
	}
}

// SetWriteTimeout changes the deadline applied to each frame write. Zero
// disables it. It must be called before WriteLoop starts.
func (p *Peer) SetWriteTimeout(d time.Duration) {
	p.writeTimeout = d
}

// Host is the remote IP in text form, used for display, file naming and
// address matching.
func (p *Peer) Host() string {
	return p.Addr.Addr().String()
}

// String returns the remote endpoint.
func (p *Peer) String() string {
	return p.Addr.String()
}

// Send queues one encoded frame for WriteLoop without blocking. A full queue
// means the peer stopped reading and is reported as ErrQueueFull.
func (p *Peer) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.queue <- data:
		return nil
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"peer":     p.String(),
			"queued":   len(p.queue),
		}).Warn("Peer send queue full")
		return ErrQueueFull
	}
}

// minSendRate stretches the write deadline for large frames.
const minSendRate = 256 << 10

// WriteLoop writes queued frames in order until the peer is closed, in which
// case it returns nil, or a write fails. The deadline of each write grows
// with its size so large files are not cut off on slow links.
func (p *Peer) WriteLoop() error {
	for {
		var data []byte
		select {
		case <-p.done:
			return nil
		case data = <-p.queue:
		}

		if p.writeTimeout > 0 {
			timeout := p.writeTimeout + time.Duration(len(data)/minSendRate)*time.Second
			if err := p.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return p.writeFailed(len(data), fmt.Errorf("set write deadline: %w", err))
			}
		}
		if _, err := p.Conn.Write(data); err != nil {
			return p.writeFailed(len(data), err)
		}
	}
}

func (p *Peer) writeFailed(size int, err error) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	logrus.WithFields(logrus.Fields{
		"function": "WriteLoop",
		"peer":     p.String(),
		"size":     size,
		"error":    err.Error(),
	}).Warn("Send to peer failed")
	return err
}

// Close closes the connection once. Frames still queued are discarded.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.Assembler.Reset()
		err = p.Conn.Close()
	})
	return err
}
