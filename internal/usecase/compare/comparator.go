// Package compare implements the blinded comparison protocol: the oracle
// learns the sign of r*(a-b), never its magnitude.
package compare

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
)

// Op is a comparison operator.
type Op int

const (
	// GE is a >= b.
	GE Op = iota
	// LE is a <= b.
	LE
	// GT is a > b.
	GT
	// LT is a < b.
	LT
)

func (o Op) String() string {
	switch o {
	case GE:
		return ">="
	case LE:
		return "<="
	case GT:
		return ">"
	case LT:
		return "<"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// MaxFactor bounds the blinding factor: r is drawn from [1, MaxFactor).
const MaxFactor = 1000

// FactorSource draws a blinding factor.
type FactorSource func() (int64, error)

// RandomFactor draws r uniformly from [1, MaxFactor) using crypto/rand.
func RandomFactor() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxFactor-1))
	if err != nil {
		return 0, fmt.Errorf("draw blinding factor: %w", err)
	}
	return n.Int64() + 1, nil
}

// Comparator builds blinded diffs. Safe for concurrent use.
type Comparator struct {
	cipher Cipher
	factor FactorSource
}

// New creates a Comparator drawing factors from crypto/rand.
func New(c Cipher) *Comparator {
	return &Comparator{cipher: c, factor: RandomFactor}
}

// WithFactorSource replaces the factor source.
func (c *Comparator) WithFactorSource(f FactorSource) *Comparator {
	c.factor = f
	return c
}

// Compare returns the blinded diff deciding "a op b". A fresh factor is drawn
// on every call.
func (c *Comparator) Compare(a, b crypto.EncryptedValue, op Op) (oracle.Diff, error) {
	lhs, rhs := a, b
	if op == LE || op == LT {
		lhs, rhs = b, a
	}

	neg, err := c.cipher.Negate(rhs)
	if err != nil {
		return oracle.Diff{}, fmt.Errorf("compare %s: %w", op, err)
	}
	diff, err := c.cipher.Add(lhs, neg)
	if err != nil {
		return oracle.Diff{}, fmt.Errorf("compare %s: %w", op, err)
	}

	r, err := c.factor()
	if err != nil {
		return oracle.Diff{}, err
	}
	if r <= 0 {
		return oracle.Diff{}, fmt.Errorf("blinding factor must be positive, got %d", r)
	}
	blinded, err := c.cipher.ScalarMul(diff, r)
	if err != nil {
		return oracle.Diff{}, fmt.Errorf("compare %s: %w", op, err)
	}

	return oracle.Diff{Value: blinded, Strict: op == GT || op == LT}, nil
}

// ComparePlain encrypts a plaintext node-side value under the public key,
// then compares it against an encrypted query value.
func (c *Comparator) ComparePlain(node int64, q crypto.EncryptedValue, op Op) (oracle.Diff, error) {
	enc, err := c.cipher.Encrypt(node)
	if err != nil {
		return oracle.Diff{}, fmt.Errorf("encrypt node value: %w", err)
	}
	return c.Compare(enc, q, op)
}

// InRange returns the two independent diffs of min <= x <= max.
func (c *Comparator) InRange(x, lo, hi crypto.EncryptedValue) ([]oracle.Diff, error) {
	geMin, err := c.Compare(x, lo, GE)
	if err != nil {
		return nil, err
	}
	leMax, err := c.Compare(x, hi, LE)
	if err != nil {
		return nil, err
	}
	return []oracle.Diff{geMin, leMax}, nil
}
