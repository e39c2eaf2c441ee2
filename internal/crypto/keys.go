package crypto

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// GenerateKeys creates a fresh keypair for the given parameters.
func GenerateKeys(params bgv.Parameters) (*rlwe.SecretKey, *rlwe.PublicKey) {
	return rlwe.NewKeyGenerator(params).GenKeyPairNew()
}

// SavePublicKey writes the binary public key to path.
func SavePublicKey(path string, pk *rlwe.PublicKey) error {
	data, err := pk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	return writeKeyFile(path, data, 0o644)
}

// SaveSecretKey writes the binary secret key to path, readable by the owner only.
func SaveSecretKey(path string, sk *rlwe.SecretKey) error {
	data, err := sk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal secret key: %w", err)
	}
	return writeKeyFile(path, data, 0o600)
}

// LoadPublicKey reads a public key written by SavePublicKey.
func LoadPublicKey(path string) (*rlwe.PublicKey, error) {
	data, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("unmarshal public key %s: %w: %w", path, domain.ErrKeyUnavailable, err)
	}
	return pk, nil
}

// LoadSecretKey reads a secret key written by SaveSecretKey.
func LoadSecretKey(path string) (*rlwe.SecretKey, error) {
	data, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	sk := new(rlwe.SecretKey)
	if err := sk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("unmarshal secret key %s: %w: %w", path, domain.ErrKeyUnavailable, err)
	}
	return sk, nil
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), data, perm); err != nil {
		return fmt.Errorf("write key %s: %w", path, err)
	}
	return nil
}

func readKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("key path is empty: %w", domain.ErrKeyUnavailable)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w: %w", path, domain.ErrKeyUnavailable, err)
	}
	return data, nil
}
