package query

import (
	"context"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
)

// Partitions lists the registered storage partitions.
type Partitions interface {
	List(ctx context.Context) ([]partition.Partition, error)
}

// LocalRunner runs a partition served by this process.
type LocalRunner interface {
	Run(ctx context.Context, run domquery.PartitionRun, sink event.Sink) (domquery.PartitionResult, error)
}

// RemoteRunner runs a partition on another node.
type RemoteRunner interface {
	Run(ctx context.Context, endpoint string, run domquery.PartitionRun) (domquery.PartitionResult, error)
}

// Oracle decrypts final candidates and receives the merged CTK.
type Oracle interface {
	Decrypt(ctx context.Context, req oracle.DecryptRequest) (oracle.DecryptResponse, error)
	ReceiveCTK(ctx context.Context, d oracle.CTKDelivery) error
}

// Requests persists query lifecycle state.
type Requests interface {
	Save(ctx context.Context, r *domquery.Request) error
	Get(ctx context.Context, id string) (*domquery.Request, error)
}

// Decoder parses ciphertexts carried in a CTK.
type Decoder interface {
	DecodeString(s string) (crypto.EncryptedValue, error)
}
