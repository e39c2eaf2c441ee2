package sstp

import (
	"context"

	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	"github.com/kailas-cloud/stquery/internal/usecase/aggregate"
	"github.com/kailas-cloud/stquery/internal/usecase/prune"
)

// Pruner selects candidate leaves for one sub-query.
type Pruner interface {
	Run(ctx context.Context, job prune.Job) (prune.Result, error)
}

// Aggregator turns candidate leaves into CTK entries.
type Aggregator interface {
	Aggregate(ctx context.Context, job aggregate.Job, candidates []prune.Candidate, m *ctk.Map) (aggregate.Stats, error)
}
