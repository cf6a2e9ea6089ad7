package noise

import (
	"net"
	"sync"

	"github.com/flynn/noise"

	"github.com/opd-ai/dchat/limits"
)

// Conn is an encrypted net.Conn produced by Upgrade. Reads and writes may
// run concurrently with each other, but not with themselves.
type Conn struct {
	net.Conn

	wmu  sync.Mutex
	send *noise.CipherState

	rmu     sync.Mutex
	recv    *noise.CipherState
	pending []byte

	peerVersion uint8
}

func newConn(raw net.Conn, send, recv *noise.CipherState, peerVersion uint8) *Conn {
	return &Conn{Conn: raw, send: send, recv: recv, peerVersion: peerVersion}
}

// PeerVersion returns the protocol version the peer advertised.
func (c *Conn) PeerVersion() uint8 {
	return c.peerVersion
}

// Read returns plaintext from at most one record. If p is smaller than the
// record, the remainder is returned by subsequent calls before any new record
// is read. io.EOF is returned when the peer closes between records.
func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for len(c.pending) == 0 {
		ciphertext, err := readFrame(c.Conn)
		if err != nil {
			return 0, err
		}
		plaintext, err := c.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			return 0, err
		}
		c.pending = plaintext
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write encrypts p into as few records as possible and sends them.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > limits.MaxRecordPayload {
			chunk = chunk[:limits.MaxRecordPayload]
		}
		ciphertext, err := c.send.Encrypt(nil, nil, chunk)
		if err != nil {
			return written, err
		}
		if err := writeFrame(c.Conn, ciphertext); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}
