package aggregate

import (
	"context"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
)

// Points reads the encrypted points stored under a leaf.
type Points interface {
	Points(ctx context.Context, keyword, nodeID string) ([]trajectory.Point, error)
}

// Oracle decides batched point checks.
type Oracle interface {
	VerifyPoints(ctx context.Context, req oracle.VerifyPointsRequest) (oracle.VerifyPointsResponse, error)
}

// Comparator builds the two diffs of min <= x <= max.
type Comparator interface {
	InRange(x, lo, hi crypto.EncryptedValue) ([]oracle.Diff, error)
}

// Codec keys and serializes ciphertexts for the candidate map.
type Codec interface {
	Fingerprint(v crypto.EncryptedValue) (string, error)
	EncodeString(v crypto.EncryptedValue) (string, error)
}
