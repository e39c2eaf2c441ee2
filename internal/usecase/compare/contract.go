package compare

import "github.com/kailas-cloud/stquery/internal/crypto"

// Cipher is the public-key arithmetic needed by the comparator.
type Cipher interface {
	Encrypt(v int64) (crypto.EncryptedValue, error)
	Add(a, b crypto.EncryptedValue) (crypto.EncryptedValue, error)
	Negate(a crypto.EncryptedValue) (crypto.EncryptedValue, error)
	ScalarMul(a crypto.EncryptedValue, k int64) (crypto.EncryptedValue, error)
}
