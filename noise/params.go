package noise

import (
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// PEMType is the PEM block type of a DH parameter file.
const PEMType = "DH PARAMETERS"

const (
	// MinPrimeBits is the smallest prime accepted by default.
	MinPrimeBits = 2048
	// MinWeakPrimeBits is the floor when weak groups are explicitly allowed.
	MinWeakPrimeBits = 512
)

var (
	// ErrInvalidParams indicates a malformed DH parameter file.
	ErrInvalidParams = errors.New("invalid DH parameters")
	// ErrWeakParams indicates a group below the configured size floor.
	ErrWeakParams = errors.New("DH parameters too weak")
)

// Params is a finite-field Diffie-Hellman group.
type Params struct {
	P *big.Int
	G *big.Int
}

// LoadParams reads a PEM encoded PKCS#3 DHParameter file.
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DH parameters: %w", err)
	}
	return ParseParams(data)
}

// ParseParams decodes the first PEM "DH PARAMETERS" block in data.
func ParseParams(data []byte) (*Params, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no %q PEM block", ErrInvalidParams, PEMType)
		}
		if block.Type == PEMType {
			return parseDER(block.Bytes)
		}
	}
}

// DHParameter ::= SEQUENCE { prime INTEGER, base INTEGER, privateValueLength INTEGER OPTIONAL }
func parseDER(der []byte) (*Params, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: malformed sequence", ErrInvalidParams)
	}

	p, g := new(big.Int), new(big.Int)
	if !seq.ReadASN1Integer(p) || !seq.ReadASN1Integer(g) {
		return nil, fmt.Errorf("%w: malformed prime or generator", ErrInvalidParams)
	}

	params := &Params{P: p, G: g}
	if err := params.validateShape(); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Params) validateShape() error {
	if p.P == nil || p.G == nil {
		return fmt.Errorf("%w: missing prime or generator", ErrInvalidParams)
	}
	if p.P.Sign() <= 0 || p.P.Bit(0) == 0 {
		return fmt.Errorf("%w: prime must be odd and positive", ErrInvalidParams)
	}
	pMinus1 := new(big.Int).Sub(p.P, big.NewInt(1))
	if p.G.Cmp(big.NewInt(1)) <= 0 || p.G.Cmp(pMinus1) >= 0 {
		return fmt.Errorf("%w: generator out of range", ErrInvalidParams)
	}
	return nil
}

// Bits returns the prime size in bits.
func (p *Params) Bits() int {
	return p.P.BitLen()
}

// Check enforces the prime size floor.
func (p *Params) Check(allowWeak bool) error {
	if err := p.validateShape(); err != nil {
		return err
	}
	floor := MinPrimeBits
	if allowWeak {
		floor = MinWeakPrimeBits
	}
	if p.Bits() < floor {
		return fmt.Errorf("%w: %d-bit prime below %d-bit floor", ErrWeakParams, p.Bits(), floor)
	}
	return nil
}

// MarshalPEM encodes the group as a PEM "DH PARAMETERS" block.
func (p *Params) MarshalPEM() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		seq.AddASN1BigInt(p.P)
		seq.AddASN1BigInt(p.G)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode DH parameters: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMType, Bytes: der}), nil
}

// WriteParamsFile writes p to path, refusing to overwrite an existing file.
func WriteParamsFile(path string, p *Params) error {
	data, err := p.MarshalPEM()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ffdhe2048Hex is the RFC 7919 ffdhe2048 prime.
const ffdhe2048Hex = "" +
	"FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF1" +
	"D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3EF9" +
	"7D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD6561" +
	"2433F51F5F066ED0856365553DED1AF3B557135E7F57C935" +
	"984F0C70E0E68B77E2A689DAF3EFE8721DF158A136ADE735" +
	"30ACCA4F483A797ABC0AB182B324FB61D108A94BB2C8E3FB" +
	"B96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76372BB19" +
	"0B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD28342F61" +
	"9172FE9CE98583FF8E4F1232EEF28183C3FE3B1B4C6FAD73" +
	"3BB5FCBC2EC22005C58EF1837D1683B2C6F34A26C1B2EFFA" +
	"886B423861285C97FFFFFFFFFFFFFFFF"

// FFDHE2048 returns the RFC 7919 ffdhe2048 group with generator 2.
func FFDHE2048() *Params {
	p, ok := new(big.Int).SetString(ffdhe2048Hex, 16)
	if !ok {
		panic("noise: bad ffdhe2048 constant")
	}
	return &Params{P: p, G: big.NewInt(2)}
}
