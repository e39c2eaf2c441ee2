// Package cryptotest provides a plaintext stand-in for the BGV engine so
// protocol code can be tested without lattice arithmetic.
package cryptotest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
)

const textPrefix = "plain:"

// Plain maps opaque ciphertext handles to plaintexts. It implements the
// engine, decryptor and codec method sets used across the repo.
type Plain struct {
	mu     sync.Mutex
	values map[*rlwe.Ciphertext]int64
	ids    map[*rlwe.Ciphertext]int
	byID   map[int]*rlwe.Ciphertext
}

// NewPlain creates an empty registry.
func NewPlain() *Plain {
	return &Plain{
		values: make(map[*rlwe.Ciphertext]int64),
		ids:    make(map[*rlwe.Ciphertext]int),
		byID:   make(map[int]*rlwe.Ciphertext),
	}
}

// Encrypt returns a fresh handle for v. Equal plaintexts get distinct handles.
func (p *Plain) Encrypt(v int64) (crypto.EncryptedValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(v), nil
}

// MustEncrypt is Encrypt for test setup.
func (p *Plain) MustEncrypt(v int64) crypto.EncryptedValue {
	ct, _ := p.Encrypt(v)
	return ct
}

// Foreign returns a non-empty handle the registry does not know. Reading it
// fails with domain.ErrDeserialization.
func (p *Plain) Foreign() crypto.EncryptedValue {
	return crypto.Wrap(new(rlwe.Ciphertext))
}

func (p *Plain) put(v int64) crypto.EncryptedValue {
	ct := new(rlwe.Ciphertext)
	id := len(p.byID) + 1
	p.values[ct] = v
	p.ids[ct] = id
	p.byID[id] = ct
	return crypto.Wrap(ct)
}

func (p *Plain) get(v crypto.EncryptedValue) (int64, error) {
	if v.IsZero() {
		return 0, fmt.Errorf("empty ciphertext: %w", domain.ErrValidation)
	}
	x, ok := p.values[v.Ciphertext()]
	if !ok {
		return 0, fmt.Errorf("unknown ciphertext: %w", domain.ErrDeserialization)
	}
	return x, nil
}

func (p *Plain) binary(a, b crypto.EncryptedValue, f func(x, y int64) int64) (crypto.EncryptedValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	x, err := p.get(a)
	if err != nil {
		return crypto.EncryptedValue{}, err
	}
	y, err := p.get(b)
	if err != nil {
		return crypto.EncryptedValue{}, err
	}
	return p.put(f(x, y)), nil
}

// Add returns a handle for a+b.
func (p *Plain) Add(a, b crypto.EncryptedValue) (crypto.EncryptedValue, error) {
	return p.binary(a, b, func(x, y int64) int64 { return x + y })
}

// Sub returns a handle for a-b.
func (p *Plain) Sub(a, b crypto.EncryptedValue) (crypto.EncryptedValue, error) {
	return p.binary(a, b, func(x, y int64) int64 { return x - y })
}

// ScalarMul returns a handle for k*a.
func (p *Plain) ScalarMul(a crypto.EncryptedValue, k int64) (crypto.EncryptedValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	x, err := p.get(a)
	if err != nil {
		return crypto.EncryptedValue{}, err
	}
	return p.put(k * x), nil
}

// Negate returns a handle for -a.
func (p *Plain) Negate(a crypto.EncryptedValue) (crypto.EncryptedValue, error) {
	return p.ScalarMul(a, -1)
}

// Decrypt returns the plaintext of a handle.
func (p *Plain) Decrypt(v crypto.EncryptedValue) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(v)
}

// Sign reports x >= 0, or x > 0 when strict.
func (p *Plain) Sign(v crypto.EncryptedValue, strict bool) (bool, error) {
	x, err := p.Decrypt(v)
	if err != nil {
		return false, err
	}
	if strict {
		return x > 0, nil
	}
	return x >= 0, nil
}

// Fingerprint returns a stable key per handle.
func (p *Plain) Fingerprint(v crypto.EncryptedValue) (string, error) {
	return p.EncodeString(v)
}

// EncodeString returns "plain:<id>" for a known handle.
func (p *Plain) EncodeString(v crypto.EncryptedValue) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.get(v); err != nil {
		return "", err
	}
	return textPrefix + strconv.Itoa(p.ids[v.Ciphertext()]), nil
}

// DecodeString resolves a string produced by EncodeString.
func (p *Plain) DecodeString(s string) (crypto.EncryptedValue, error) {
	raw, ok := strings.CutPrefix(s, textPrefix)
	if !ok {
		return crypto.EncryptedValue{}, fmt.Errorf("decode %q: %w", s, domain.ErrDeserialization)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return crypto.EncryptedValue{}, fmt.Errorf("decode %q: %w", s, domain.ErrDeserialization)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ct, ok := p.byID[id]
	if !ok {
		return crypto.EncryptedValue{}, fmt.Errorf("decode %q: %w", s, domain.ErrDeserialization)
	}
	return crypto.Wrap(ct), nil
}
