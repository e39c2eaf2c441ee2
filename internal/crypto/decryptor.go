package crypto

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Decryptor is the secret-key half, held only by the decryption oracle.
type Decryptor struct {
	params bgv.Parameters
	sk     *rlwe.SecretKey
	pool   sync.Pool
}

type decWorker struct {
	encoder   *bgv.Encoder
	decryptor *rlwe.Decryptor
}

// NewDecryptor creates a decryptor. sk may be nil; Decrypt then fails with
// domain.ErrKeyUnavailable.
func NewDecryptor(params bgv.Parameters, sk *rlwe.SecretKey) *Decryptor {
	d := &Decryptor{params: params, sk: sk}
	if sk == nil {
		return d
	}
	encoder := bgv.NewEncoder(params)
	decryptor := rlwe.NewDecryptor(params, sk)
	d.pool.New = func() any {
		return &decWorker{encoder: encoder.ShallowCopy(), decryptor: decryptor.ShallowCopy()}
	}
	return d
}

// Decrypt returns the centered plaintext of slot 0, in [-T/2, T/2).
func (d *Decryptor) Decrypt(v EncryptedValue) (int64, error) {
	if d.sk == nil {
		return 0, fmt.Errorf("secret key not loaded: %w", domain.ErrKeyUnavailable)
	}
	if v.IsZero() {
		return 0, fmt.Errorf("decrypt empty ciphertext: %w", domain.ErrValidation)
	}
	w := d.pool.Get().(*decWorker)
	defer d.pool.Put(w)

	pt := w.decryptor.DecryptNew(v.ct)
	values := make([]int64, d.params.MaxSlots())
	if err := w.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("decode plaintext: %w", err)
	}
	return values[0], nil
}

// Sign reports whether the plaintext of v is non-negative (strict=false)
// or strictly positive (strict=true).
func (d *Decryptor) Sign(v EncryptedValue, strict bool) (bool, error) {
	x, err := d.Decrypt(v)
	if err != nil {
		return false, err
	}
	if strict {
		return x > 0, nil
	}
	return x >= 0, nil
}
