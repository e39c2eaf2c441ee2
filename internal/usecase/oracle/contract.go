package oracle

import (
	"context"

	"github.com/kailas-cloud/stquery/internal/crypto"
	domoracle "github.com/kailas-cloud/stquery/internal/domain/oracle"
)

// Decryptor is the secret-key half.
type Decryptor interface {
	Decrypt(v crypto.EncryptedValue) (int64, error)
	Sign(v crypto.EncryptedValue, strict bool) (bool, error)
}

// CTKStore persists delivered candidate maps.
type CTKStore interface {
	Save(ctx context.Context, d domoracle.CTKDelivery) error
	Get(ctx context.Context, queryID string) (domoracle.CTKDelivery, error)
}
