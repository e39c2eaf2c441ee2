// Package sstp runs secure spatio-temporal pruning for the partition served
// by this process: every sub-query is pruned and aggregated into one CTK.
package sstp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/usecase/aggregate"
	"github.com/kailas-cloud/stquery/internal/usecase/prune"
)

// Service runs partition-local queries.
type Service struct {
	pruner Pruner
	agg    Aggregator
}

// New creates an sstp service.
func New(pruner Pruner, agg Aggregator) *Service {
	return &Service{pruner: pruner, agg: agg}
}

// Run prunes and aggregates every sub-query concurrently. Sub-queries share
// one CTK map; a structural, key or cancellation error aborts the run.
func (s *Service) Run(ctx context.Context, run query.PartitionRun, sink event.Sink) (query.PartitionResult, error) {
	if err := run.Validate(); err != nil {
		return query.PartitionResult{}, err
	}
	if sink == nil {
		sink = event.Discard
	}
	log := logger.FromContext(ctx).With(zap.String("query_id", run.QueryID), zap.String("partition", run.Partition))

	var (
		m     = ctk.NewMap()
		mu    sync.Mutex
		total aggregate.Stats
		cands int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sq := range run.Query.SubQueries {
		g.Go(func() error {
			res, err := s.pruner.Run(gctx, prune.Job{
				QueryID:   run.QueryID,
				Partition: run.Partition,
				Algorithm: run.Query.Algorithm,
				SubQuery:  sq,
				Sink:      sink,
			})
			if err != nil {
				return fmt.Errorf("prune rid %d: %w", sq.RID, err)
			}
			stats, err := s.agg.Aggregate(gctx, aggregate.Job{
				QueryID:   run.QueryID,
				Partition: run.Partition,
				Keyword:   run.Query.Keyword,
				RID:       sq.RID,
				Box:       sq.Points,
				Sink:      sink,
			}, res.Candidates, m)
			if err != nil {
				return fmt.Errorf("aggregate rid %d: %w", sq.RID, err)
			}

			mu.Lock()
			cands += len(res.Candidates)
			total.Included += stats.Included
			total.Excluded += stats.Excluded
			total.Skipped += stats.Skipped
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("partition run failed", zap.Error(err))
		return query.PartitionResult{}, err
	}

	tree := m.Snapshot()
	log.Info("partition run finished",
		zap.Int("candidates", cands),
		zap.Int("included", total.Included),
		zap.Int("skipped", total.Skipped),
		zap.Int("dates", tree.Count()),
	)
	return query.PartitionResult{
		Partition:  run.Partition,
		CTK:        tree,
		Candidates: cands,
		Included:   total.Included,
		Excluded:   total.Excluded,
		Skipped:    total.Skipped,
	}, nil
}
