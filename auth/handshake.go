package auth

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dchat/limits"
)

// ErrDigestMismatch indicates the peer's digest did not match the expected one.
var ErrDigestMismatch = errors.New("authentication digest mismatch")

// Role identifies which side of the handshake a node plays.
type Role uint8

const (
	// RoleServer is played by the side that accepted the connection.
	RoleServer Role = iota
	// RoleClient is played by the side that dialed out.
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Result describes a successful handshake.
type Result struct {
	Role         Role
	Local        netip.AddrPort
	Remote       netip.AddrPort
	ClientDigest []byte
	ServerDigest []byte
}

// Binding returns client digest ‖ server digest, identical on both sides.
// The secure channel mixes it into its prologue.
func (r *Result) Binding() []byte {
	out := make([]byte, 0, len(r.ClientDigest)+len(r.ServerDigest))
	out = append(out, r.ClientDigest...)
	return append(out, r.ServerDigest...)
}

// Authenticator runs the challenge/response handshake for one channel.
type Authenticator struct {
	digester *Digester
}

// NewAuthenticator creates an Authenticator using d.
func NewAuthenticator(d *Digester) *Authenticator {
	return &Authenticator{digester: d}
}

// Digester returns the underlying Digester.
func (a *Authenticator) Digester() *Digester {
	return a.digester
}

// Server authenticates an accepted connection. It reads the client's digest,
// checks it against the observed remote endpoint, and answers with the digest
// of its own local endpoint.
func (a *Authenticator) Server(conn net.Conn) (res *Result, err error) {
	defer closeOnError(conn, &err)

	local, remote, err := endpoints(conn)
	if err != nil {
		return nil, err
	}

	clientDigest, err := a.readDigest(conn)
	if err != nil {
		return nil, fmt.Errorf("read client digest: %w", err)
	}

	if !a.digester.Verify(clientDigest, remote) {
		logrus.WithFields(logrus.Fields{
			"function": "Server",
			"remote":   remote.String(),
		}).Warn("Client digest wrong")
		return nil, fmt.Errorf("client %s: %w", remote, ErrDigestMismatch)
	}

	serverDigest := a.digester.Digest(local)
	if _, err := conn.Write(serverDigest); err != nil {
		return nil, fmt.Errorf("write server digest: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server",
		"remote":   remote.String(),
	}).Debug("Client authenticated")

	return &Result{
		Role:         RoleServer,
		Local:        local,
		Remote:       remote,
		ClientDigest: clientDigest,
		ServerDigest: serverDigest,
	}, nil
}

// Client authenticates an outbound connection. It sends the digest of its
// own local endpoint, then checks the server's reply against the observed
// remote endpoint.
func (a *Authenticator) Client(conn net.Conn) (res *Result, err error) {
	defer closeOnError(conn, &err)

	local, remote, err := endpoints(conn)
	if err != nil {
		return nil, err
	}

	clientDigest := a.digester.Digest(local)
	if _, err := conn.Write(clientDigest); err != nil {
		return nil, fmt.Errorf("write client digest: %w", err)
	}

	serverDigest, err := a.readDigest(conn)
	if err != nil {
		return nil, fmt.Errorf("read server digest: %w", err)
	}

	if !a.digester.Verify(serverDigest, remote) {
		logrus.WithFields(logrus.Fields{
			"function": "Client",
			"remote":   remote.String(),
		}).Warn("Server digest wrong")
		return nil, fmt.Errorf("server %s: %w", remote, ErrDigestMismatch)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client",
		"remote":   remote.String(),
	}).Debug("Server authenticated")

	return &Result{
		Role:         RoleClient,
		Local:        local,
		Remote:       remote,
		ClientDigest: clientDigest,
		ServerDigest: serverDigest,
	}, nil
}

// Run dispatches to Server or Client according to role.
func (a *Authenticator) Run(conn net.Conn, role Role) (*Result, error) {
	if role == RoleClient {
		return a.Client(conn)
	}
	return a.Server(conn)
}

// readDigest reads at least one digest worth of bytes and at most
// limits.MaxDigestRead. Anything received is compared in full.
func (a *Authenticator) readDigest(conn net.Conn) ([]byte, error) {
	buf := make([]byte, limits.MaxDigestRead)
	n, err := io.ReadAtLeast(conn, buf, a.digester.Size())
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func endpoints(conn net.Conn) (local, remote netip.AddrPort, err error) {
	local, err = EndpointOf(conn.LocalAddr())
	if err != nil {
		return local, remote, fmt.Errorf("local endpoint: %w", err)
	}
	remote, err = EndpointOf(conn.RemoteAddr())
	if err != nil {
		return local, remote, fmt.Errorf("remote endpoint: %w", err)
	}
	return local, remote, nil
}

func closeOnError(conn net.Conn, err *error) {
	if *err != nil {
		conn.Close()
	}
}
