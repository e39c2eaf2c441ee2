package prune

import (
	"context"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/usecase/compare"
)

// Tree reads the plaintext octree of one partition.
type Tree interface {
	Root(ctx context.Context) (octree.Node, error)
	Children(ctx context.Context, id string) ([]octree.Node, error)
}

// Oracle answers blinded range decisions.
type Oracle interface {
	CheckRange(ctx context.Context, req oracle.CheckRangeRequest) (oracle.CheckRangeResponse, error)
	CheckFullyCovered(ctx context.Context, req oracle.FullyCoveredRequest) (oracle.FullyCoveredResponse, error)
}

// Comparator builds blinded diffs against encrypted query bounds.
type Comparator interface {
	ComparePlain(node int64, q crypto.EncryptedValue, op compare.Op) (oracle.Diff, error)
}

// Cipher folds encrypted Morton digits.
type Cipher interface {
	ScalarMul(a crypto.EncryptedValue, k int64) (crypto.EncryptedValue, error)
}
