package noise

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/flynn/noise"
)

// ErrInvalidPublicKey indicates a peer DH value outside (1, p-1).
var ErrInvalidPublicKey = errors.New("invalid DH public value")

var one = big.NewInt(1)

// ffdh is a finite-field noise.DHFunc over a Params group. Keys and shared
// secrets are big-endian and left-padded to the byte length of the prime.
type ffdh struct {
	p       *big.Int
	g       *big.Int
	pMinus1 *big.Int
	size    int
}

// NewDHFunc returns a noise.DHFunc performing Diffie-Hellman in params' group.
func NewDHFunc(params *Params) noise.DHFunc {
	return &ffdh{
		p:       params.P,
		g:       params.G,
		pMinus1: new(big.Int).Sub(params.P, one),
		size:    (params.P.BitLen() + 7) / 8,
	}
}

func (d *ffdh) GenerateKeypair(random io.Reader) (noise.DHKey, error) {
	if random == nil {
		random = rand.Reader
	}
	// Private exponent uniformly in [2, p-2].
	upper := new(big.Int).Sub(d.p, big.NewInt(3))
	x, err := rand.Int(random, upper)
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("generate DH private value: %w", err)
	}
	x.Add(x, big.NewInt(2))

	y := new(big.Int).Exp(d.g, x, d.p)
	return noise.DHKey{
		Private: d.pad(x),
		Public:  d.pad(y),
	}, nil
}

func (d *ffdh) DH(privkey, pubkey []byte) ([]byte, error) {
	if len(pubkey) != d.size {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidPublicKey, len(pubkey), d.size)
	}
	y := new(big.Int).SetBytes(pubkey)
	if y.Cmp(one) <= 0 || y.Cmp(d.pMinus1) >= 0 {
		return nil, ErrInvalidPublicKey
	}
	x := new(big.Int).SetBytes(privkey)
	z := new(big.Int).Exp(y, x, d.p)
	if z.Cmp(one) <= 0 {
		return nil, ErrInvalidPublicKey
	}
	return d.pad(z), nil
}

func (d *ffdh) DHLen() int { return d.size }

func (d *ffdh) DHName() string { return fmt.Sprintf("FFDH%d", d.p.BitLen()) }

func (d *ffdh) pad(n *big.Int) []byte {
	out := make([]byte, d.size)
	return n.FillBytes(out)
}
