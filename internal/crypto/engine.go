package crypto

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Engine performs the public-key half of the cipher: encryption and
// ciphertext arithmetic. Safe for concurrent use.
type Engine struct {
	params bgv.Parameters
	pk     *rlwe.PublicKey
	pool   sync.Pool
}

// worker holds per-goroutine Lattigo objects; encoders and evaluators keep
// internal buffers and must not be shared.
type worker struct {
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	evaluator *bgv.Evaluator
}

// NewEngine creates an engine. pk may be nil; every operation then fails
// with domain.ErrKeyUnavailable.
func NewEngine(params bgv.Parameters, pk *rlwe.PublicKey) *Engine {
	e := &Engine{params: params, pk: pk}
	if pk == nil {
		return e
	}
	encoder := bgv.NewEncoder(params)
	encryptor := rlwe.NewEncryptor(params, pk)
	evaluator := bgv.NewEvaluator(params, nil)
	e.pool.New = func() any {
		return &worker{
			encoder:   encoder.ShallowCopy(),
			encryptor: encryptor.ShallowCopy(),
			evaluator: evaluator.ShallowCopy(),
		}
	}
	return e
}

// Parameters returns the scheme parameters.
func (e *Engine) Parameters() bgv.Parameters { return e.params }

// HasPublicKey reports whether encryption is possible.
func (e *Engine) HasPublicKey() bool { return e.pk != nil }

func (e *Engine) acquire() (*worker, error) {
	if e.pk == nil {
		return nil, fmt.Errorf("public key not loaded: %w", domain.ErrKeyUnavailable)
	}
	return e.pool.Get().(*worker), nil
}

// Encrypt encrypts a single scalar into slot 0.
func (e *Engine) Encrypt(v int64) (EncryptedValue, error) {
	w, err := e.acquire()
	if err != nil {
		return EncryptedValue{}, err
	}
	defer e.pool.Put(w)

	pt := bgv.NewPlaintext(e.params, e.params.MaxLevel())
	if err := w.encoder.Encode([]int64{v}, pt); err != nil {
		return EncryptedValue{}, fmt.Errorf("encode plaintext: %w", err)
	}
	ct, err := w.encryptor.EncryptNew(pt)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("encrypt: %w", err)
	}
	return EncryptedValue{ct: ct}, nil
}

// Add returns the encryption of a+b.
func (e *Engine) Add(a, b EncryptedValue) (EncryptedValue, error) {
	w, err := e.acquireBinary(a, b)
	if err != nil {
		return EncryptedValue{}, err
	}
	defer e.pool.Put(w)

	ct, err := w.evaluator.AddNew(a.ct, b.ct)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("add: %w", err)
	}
	return EncryptedValue{ct: ct}, nil
}

// Sub returns the encryption of a-b.
func (e *Engine) Sub(a, b EncryptedValue) (EncryptedValue, error) {
	w, err := e.acquireBinary(a, b)
	if err != nil {
		return EncryptedValue{}, err
	}
	defer e.pool.Put(w)

	ct, err := w.evaluator.SubNew(a.ct, b.ct)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("sub: %w", err)
	}
	return EncryptedValue{ct: ct}, nil
}

// ScalarMul returns the encryption of k*a.
func (e *Engine) ScalarMul(a EncryptedValue, k int64) (EncryptedValue, error) {
	w, err := e.acquire()
	if err != nil {
		return EncryptedValue{}, err
	}
	defer e.pool.Put(w)

	if a.IsZero() {
		return EncryptedValue{}, fmt.Errorf("scalar mul on empty ciphertext: %w", domain.ErrValidation)
	}
	ct, err := w.evaluator.MulNew(a.ct, k)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("scalar mul: %w", err)
	}
	return EncryptedValue{ct: ct}, nil
}

// Negate returns the encryption of -a.
func (e *Engine) Negate(a EncryptedValue) (EncryptedValue, error) {
	return e.ScalarMul(a, -1)
}

func (e *Engine) acquireBinary(a, b EncryptedValue) (*worker, error) {
	w, err := e.acquire()
	if err != nil {
		return nil, err
	}
	if a.IsZero() || b.IsZero() {
		e.pool.Put(w)
		return nil, fmt.Errorf("operation on empty ciphertext: %w", domain.ErrValidation)
	}
	return w, nil
}
