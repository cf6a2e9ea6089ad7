package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net"
	"net/netip"

	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/dchat/config"
)

// ErrUnsupportedAddr indicates an endpoint that is not an IP address and port.
var ErrUnsupportedAddr = errors.New("endpoint is not an IP address")

// Digester computes Authentication Digests for a single channel.
type Digester struct {
	tag    []byte
	secret []byte
	newMAC func() hash.Hash
}

// NewDigester returns a Digester for the given Identity Tag, Channel Secret and
// digest algorithm (config.DigestHMACSHA256 or config.DigestBLAKE2b).
func NewDigester(tag, secret []byte, algorithm string) (*Digester, error) {
	if len(tag) == 0 {
		return nil, config.ErrEmptyChannel
	}
	if len(secret) == 0 {
		return nil, config.ErrEmptySecret
	}

	d := &Digester{
		tag:    append([]byte(nil), tag...),
		secret: append([]byte(nil), secret...),
	}

	switch algorithm {
	case "", config.DigestHMACSHA256:
		d.newMAC = func() hash.Hash { return hmac.New(sha256.New, d.secret) }
	case config.DigestBLAKE2b:
		if _, err := blake2b.New256(d.secret); err != nil {
			return nil, fmt.Errorf("invalid key for %s: %w", algorithm, err)
		}
		d.newMAC = func() hash.Hash {
			h, _ := blake2b.New256(d.secret)
			return h
		}
	default:
		return nil, fmt.Errorf("unknown digest algorithm %q", algorithm)
	}

	return d, nil
}

// Size returns the digest length in bytes.
func (d *Digester) Size() int {
	return d.newMAC().Size()
}

// Digest returns the Authentication Digest for ep.
func (d *Digester) Digest(ep netip.AddrPort) []byte {
	h := d.newMAC()
	h.Write(d.tag)
	h.Write(EndpointBytes(ep))
	return h.Sum(nil)
}

// Verify reports, in constant time, whether digest is the one expected for ep.
func (d *Digester) Verify(digest []byte, ep netip.AddrPort) bool {
	return hmac.Equal(digest, d.Digest(ep))
}

// EndpointBytes encodes ep as address bytes followed by a big-endian port.
func EndpointBytes(ep netip.AddrPort) []byte {
	addr := ep.Addr().Unmap()
	out := addr.AsSlice()
	return binary.BigEndian.AppendUint16(out, ep.Port())
}

// EndpointOf extracts the IP endpoint of a TCP or UDP address.
func EndpointOf(addr net.Addr) (netip.AddrPort, error) {
	var ep netip.AddrPort
	switch a := addr.(type) {
	case *net.TCPAddr:
		ep = a.AddrPort()
	case *net.UDPAddr:
		ep = a.AddrPort()
	default:
		if addr == nil {
			return netip.AddrPort{}, ErrUnsupportedAddr
		}
		parsed, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrUnsupportedAddr, addr.String())
		}
		ep = parsed
	}
	if !ep.Addr().IsValid() {
		return netip.AddrPort{}, ErrUnsupportedAddr
	}
	return netip.AddrPortFrom(ep.Addr().Unmap(), ep.Port()), nil
}
