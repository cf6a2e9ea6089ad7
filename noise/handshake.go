package noise

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

var (
	// ErrVersionTooOld indicates the peer advertised a version below the floor.
	ErrVersionTooOld = errors.New("peer protocol version too old")
	// ErrInvalidMessage indicates a handshake message could not be processed.
	ErrInvalidMessage = errors.New("invalid handshake message")
)

// prologueLabel prefixes the Noise prologue.
const prologueLabel = "dchat/1"

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake. The side that dialed out.
	Initiator HandshakeRole = iota
	// Responder answers the handshake. The side that accepted.
	Responder
)

// String returns the role name.
func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Upgrader turns authenticated connections into secure ones.
type Upgrader struct {
	suite      noise.CipherSuite
	minVersion uint8
	version    uint8
}

// NewUpgrader validates policy and returns an Upgrader enforcing it.
func NewUpgrader(policy Policy) (*Upgrader, error) {
	suite, err := policy.cipherSuite()
	if err != nil {
		return nil, err
	}

	version := policy.Version
	if version == 0 {
		version = ProtocolVersion
	}
	minVersion := policy.MinVersion
	if minVersion == 0 {
		minVersion = 1
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewUpgrader",
		"suite":       string(suite.Name()),
		"prime_bits":  policy.Params.Bits(),
		"min_version": minVersion,
	}).Debug("Secure channel policy ready")

	return &Upgrader{suite: suite, minVersion: minVersion, version: version}, nil
}

// Upgrade runs the anonymous NN handshake over conn and returns the
// encrypted connection. binding must be identical on both sides; it is mixed
// into the prologue. On failure conn is closed.
func (u *Upgrader) Upgrade(conn net.Conn, role HandshakeRole, binding []byte) (secure *Conn, err error) {
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	prologue := make([]byte, 0, len(prologueLabel)+len(binding))
	prologue = append(prologue, prologueLabel...)
	prologue = append(prologue, binding...)

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: u.suite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNN,
		Initiator:   role == Initiator,
		Prologue:    prologue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	if role == Initiator {
		secure, err = u.initiate(conn, hs)
	} else {
		secure, err = u.respond(conn, hs)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Upgrade",
			"role":     role.String(),
			"remote":   conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Error("Secure channel upgrade failed")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Upgrade",
		"role":         role.String(),
		"remote":       conn.RemoteAddr().String(),
		"peer_version": secure.PeerVersion(),
	}).Debug("Secure channel established")

	return secure, nil
}

// initiate: -> e, then <- e, ee
func (u *Upgrader) initiate(conn net.Conn, hs *noise.HandshakeState) (*Conn, error) {
	msg, _, _, err := hs.WriteMessage(nil, []byte{u.version})
	if err != nil {
		return nil, fmt.Errorf("initiator write failed: %w", err)
	}
	if err := writeFrame(conn, msg); err != nil {
		return nil, err
	}

	reply, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("read responder message: %w", err)
	}
	payload, toResponder, toInitiator, err := hs.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if toResponder == nil || toInitiator == nil {
		return nil, fmt.Errorf("%w: handshake incomplete", ErrInvalidMessage)
	}

	peerVersion, err := u.checkVersion(payload)
	if err != nil {
		return nil, err
	}
	return newConn(conn, toResponder, toInitiator, peerVersion), nil
}

// respond: <- e, then -> e, ee
func (u *Upgrader) respond(conn net.Conn, hs *noise.HandshakeState) (*Conn, error) {
	first, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("read initiator message: %w", err)
	}
	payload, _, _, err := hs.ReadMessage(nil, first)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	peerVersion, err := u.checkVersion(payload)
	if err != nil {
		return nil, err
	}

	msg, toResponder, toInitiator, err := hs.WriteMessage(nil, []byte{u.version})
	if err != nil {
		return nil, fmt.Errorf("responder write failed: %w", err)
	}
	if toResponder == nil || toInitiator == nil {
		return nil, fmt.Errorf("%w: handshake incomplete", ErrInvalidMessage)
	}
	if err := writeFrame(conn, msg); err != nil {
		return nil, err
	}
	return newConn(conn, toInitiator, toResponder, peerVersion), nil
}

func (u *Upgrader) checkVersion(payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: version payload of %d bytes", ErrInvalidMessage, len(payload))
	}
	if payload[0] < u.minVersion {
		return payload[0], fmt.Errorf("%w: got %d, need at least %d", ErrVersionTooOld, payload[0], u.minVersion)
	}
	return payload[0], nil
}

// writeFrame sends data with a big-endian u16 length prefix in one write.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("frame of %d bytes exceeds 65535", len(data))
	}
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed frame. A clean EOF before the length
// prefix is returned as io.EOF.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
