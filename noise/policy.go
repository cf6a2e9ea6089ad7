package noise

import (
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

// ProtocolVersion is the secure channel version spoken by this build.
const ProtocolVersion uint8 = 1

// ErrUnsupportedCipher indicates a cipher or hash outside the permitted policy.
var ErrUnsupportedCipher = errors.New("cipher not permitted by policy")

var ciphers = map[string]noise.CipherFunc{
	"ChaChaPoly": noise.CipherChaChaPoly,
	"AESGCM":     noise.CipherAESGCM,
}

var hashes = map[string]noise.HashFunc{
	"SHA256":  noise.HashSHA256,
	"SHA512":  noise.HashSHA512,
	"BLAKE2s": noise.HashBLAKE2s,
	"BLAKE2b": noise.HashBLAKE2b,
}

// Policy restricts how a connection may be upgraded.
type Policy struct {
	// Params is the DH group, loaded once at startup.
	Params *Params
	// AllowWeakDH lowers the prime size floor to MinWeakPrimeBits.
	AllowWeakDH bool
	// Cipher and Hash name the AEAD and hash of the Noise cipher suite.
	Cipher string
	Hash   string
	// MinVersion is the oldest peer protocol version accepted.
	MinVersion uint8
	// Version is advertised to the peer. Zero means ProtocolVersion.
	Version uint8
}

// cipherSuite validates p and builds the Noise cipher suite.
func (p Policy) cipherSuite() (noise.CipherSuite, error) {
	if p.Params == nil {
		return nil, fmt.Errorf("%w: no DH parameters loaded", ErrInvalidParams)
	}
	if err := p.Params.Check(p.AllowWeakDH); err != nil {
		return nil, err
	}

	c, ok := ciphers[p.Cipher]
	if !ok {
		return nil, fmt.Errorf("%w: cipher %q", ErrUnsupportedCipher, p.Cipher)
	}
	h, ok := hashes[p.Hash]
	if !ok {
		return nil, fmt.Errorf("%w: hash %q", ErrUnsupportedCipher, p.Hash)
	}

	return noise.NewCipherSuite(NewDHFunc(p.Params), c, h), nil
}
