package ingest

import (
	"context"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
)

// Encryptor encrypts plaintext integers under the public key.
type Encryptor interface {
	Encrypt(v int64) (crypto.EncryptedValue, error)
}

// TreeWriter stores the octree of one partition.
type TreeWriter interface {
	Save(ctx context.Context, nodes []octree.Node) error
}

// PointWriter stores the encrypted points of one leaf.
type PointWriter interface {
	Save(ctx context.Context, keyword, nodeID string, points []trajectory.Point) error
}
