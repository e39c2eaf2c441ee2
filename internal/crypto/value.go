package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// EncryptedValue is an opaque ciphertext under the process public key.
// It is the only type passed across the comparator/oracle boundary.
type EncryptedValue struct {
	ct *rlwe.Ciphertext
}

// Wrap tags a raw ciphertext.
func Wrap(ct *rlwe.Ciphertext) EncryptedValue { return EncryptedValue{ct: ct} }

// Ciphertext returns the underlying ciphertext, nil when empty.
func (v EncryptedValue) Ciphertext() *rlwe.Ciphertext { return v.ct }

// IsZero reports whether the value carries no ciphertext.
func (v EncryptedValue) IsZero() bool { return v.ct == nil }

// MarshalJSON encodes the value as a base64 string through the codec.
func (v EncryptedValue) MarshalJSON() ([]byte, error) {
	s, err := Codec{}.EncodeString(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// UnmarshalJSON decodes a base64 string produced by MarshalJSON. null leaves
// the value empty.
func (v *EncryptedValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("encrypted value: %w: %w", domain.ErrDeserialization, err)
	}
	decoded, err := Codec{}.DecodeString(s)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// Codec is the single encode/decode path for ciphertexts.
// Binary form is the Lattigo self-describing encoding; text form is base64 of it.
type Codec struct{}

// Encode serializes a ciphertext.
func (Codec) Encode(v EncryptedValue) ([]byte, error) {
	if v.IsZero() {
		return nil, fmt.Errorf("encode empty ciphertext: %w", domain.ErrValidation)
	}
	data, err := v.ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ciphertext: %w", err)
	}
	return data, nil
}

// Decode parses a ciphertext produced by Encode.
func (Codec) Decode(data []byte) (EncryptedValue, error) {
	if len(data) == 0 {
		return EncryptedValue{}, fmt.Errorf("empty ciphertext: %w", domain.ErrDeserialization)
	}
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return EncryptedValue{}, fmt.Errorf("unmarshal ciphertext: %w: %w", domain.ErrDeserialization, err)
	}
	return EncryptedValue{ct: ct}, nil
}

// EncodeString serializes a ciphertext as base64.
func (c Codec) EncodeString(v EncryptedValue) (string, error) {
	data, err := c.Encode(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeString parses a base64 ciphertext.
func (c Codec) DecodeString(s string) (EncryptedValue, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("decode ciphertext text: %w: %w", domain.ErrDeserialization, err)
	}
	return c.Decode(data)
}

// Fingerprint returns the hex SHA-256 of the binary encoding. Identical
// ciphertext bytes share a fingerprint; it keys ciphertexts in the candidate map.
func (c Codec) Fingerprint(v EncryptedValue) (string, error) {
	data, err := c.Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
