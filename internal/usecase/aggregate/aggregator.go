// Package aggregate turns candidate leaves into CTK entries: full leaves are
// included wholesale, partial leaves are filtered point by point.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
	"github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/metrics"
	"github.com/kailas-cloud/stquery/internal/usecase/prune"
)

const (
	// DefaultBatchSize is the number of points per verify-points round trip.
	DefaultBatchSize = 64
	// DefaultWorkers bounds leaves processed concurrently.
	DefaultWorkers = 4
)

// Point results used as metric labels.
const (
	resultIncluded = "included"
	resultExcluded = "excluded"
	resultSkipped  = "skipped"
)

// Aggregator fills CTK maps. One Aggregator serves many concurrent jobs.
type Aggregator struct {
	points  Points
	oracle  Oracle
	cmp     Comparator
	codec   Codec
	batch   int
	workers int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithBatchSize sets the number of points per oracle round trip.
func WithBatchSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.batch = n
		}
	}
}

// WithWorkers sets the number of leaves processed concurrently.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// New creates an Aggregator.
func New(points Points, o Oracle, cmp Comparator, codec Codec, opts ...Option) *Aggregator {
	a := &Aggregator{
		points:  points,
		oracle:  o,
		cmp:     cmp,
		codec:   codec,
		batch:   DefaultBatchSize,
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Job is the aggregation of one sub-query's candidates.
type Job struct {
	QueryID   string
	Partition string
	Keyword   string
	RID       int
	// Box is the encrypted point box: latitude, longitude, time.
	Box  query.Box
	Sink event.Sink
}

// Stats counts point outcomes of one job.
type Stats struct {
	Included int
	Excluded int
	Skipped  int
}

type counters struct {
	included, excluded, skipped atomic.Int64
}

func (c *counters) stats() Stats {
	return Stats{
		Included: int(c.included.Load()),
		Excluded: int(c.excluded.Load()),
		Skipped:  int(c.skipped.Load()),
	}
}

// Aggregate processes every candidate leaf into m. Point and leaf failures
// are skipped; cancellation and a missing oracle key fail the job.
func (a *Aggregator) Aggregate(ctx context.Context, job Job, candidates []prune.Candidate, m *ctk.Map) (Stats, error) {
	if job.Sink == nil {
		job.Sink = event.Discard
	}
	if job.Box.Axes() != query.PointAxes {
		return Stats{}, domain.NewValidation("points", fmt.Sprintf("expected %d axes, got %d", query.PointAxes, job.Box.Axes()))
	}
	ctx, _ = logger.With(ctx,
		zap.String("query_id", job.QueryID),
		zap.String("partition", job.Partition),
		zap.Int("rid", job.RID),
	)

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, cand := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrQueryCancelled, err)
			}
			return a.leaf(gctx, job, cand, m, &c)
		})
	}
	if err := g.Wait(); err != nil {
		return c.stats(), err
	}
	if err := ctx.Err(); err != nil {
		return c.stats(), fmt.Errorf("%w: %w", domain.ErrQueryCancelled, err)
	}
	return c.stats(), nil
}

func (a *Aggregator) leaf(ctx context.Context, job Job, cand prune.Candidate, m *ctk.Map, c *counters) error {
	log := logger.FromContext(ctx).With(zap.String("node_id", cand.Node.ID), zap.String("coverage", string(cand.Coverage)))

	points, err := a.points.Points(ctx, job.Keyword, cand.Node.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug("leaf has no points")
			return nil
		}
		log.Warn("load points failed, skipping leaf", zap.Error(err))
		emit(job, event.KindPointSkipped, cand.Node.ID, metrics.Reason(false, err), 0)
		return nil
	}

	var keep []int
	if cand.Coverage == prune.CoverageFull {
		keep = make([]int, len(points))
		for i := range points {
			keep[i] = i
		}
	} else {
		keep, err = a.filter(ctx, job, cand.Node.ID, points, c)
		if err != nil {
			return err
		}
	}

	added := 0
	for _, i := range keep {
		e, err := a.toEvent(points[i], cand.Node.ID)
		if err != nil {
			a.skip(ctx, job, cand.Node.ID, i, err, c)
			continue
		}
		m.Insert(job.Keyword, job.RID, e)
		added++
	}
	c.included.Add(int64(added))
	metrics.PointsTotal.WithLabelValues(resultIncluded).Add(float64(added))
	log.Debug("leaf aggregated", zap.Int("points", len(points)), zap.Int("included", added))
	emit(job, event.KindPointsIncluded, cand.Node.ID, "", added)
	return nil
}

// filter returns the indexes of points inside the point box. Points the
// oracle could not decide are skipped, not excluded.
func (a *Aggregator) filter(
	ctx context.Context, job Job, nodeID string, points []trajectory.Point, c *counters,
) ([]int, error) {
	var keep []int
	for start := 0; start < len(points); start += a.batch {
		if ctx.Err() != nil {
			return nil, nil
		}
		end := min(start+a.batch, len(points))

		checks := make([]oracle.PointCheck, 0, end-start)
		for i := start; i < end; i++ {
			diffs, err := a.pointDiffs(points[i], job.Box)
			if err != nil {
				a.skip(ctx, job, nodeID, i, err, c)
				continue
			}
			checks = append(checks, oracle.PointCheck{Index: i, Diffs: diffs})
		}
		if len(checks) == 0 {
			continue
		}

		resp, err := a.oracle.VerifyPoints(ctx, oracle.VerifyPointsRequest{RID: job.RID, Points: checks})
		if ctx.Err() != nil {
			return nil, nil
		}
		if errors.Is(err, domain.ErrKeyUnavailable) {
			return nil, fmt.Errorf("verify points of %s: %w", nodeID, err)
		}
		if err != nil {
			for _, pc := range checks {
				a.skip(ctx, job, nodeID, pc.Index, err, c)
			}
			continue
		}

		decided := make(map[int]oracle.PointResult, len(resp.Results))
		for _, r := range resp.Results {
			decided[r.Index] = r
		}
		for _, pc := range checks {
			r, ok := decided[pc.Index]
			if !ok {
				a.skip(ctx, job, nodeID, pc.Index, fmt.Errorf("no decision for point %d", pc.Index), c)
				continue
			}
			if err := r.Err(); err != nil {
				a.skip(ctx, job, nodeID, pc.Index, err, c)
				continue
			}
			in := r.InRange
			metrics.DecisionsTotal.WithLabelValues("points", metrics.Reason(in, nil)).Inc()
			if in {
				keep = append(keep, pc.Index)
			} else {
				c.excluded.Add(1)
				metrics.PointsTotal.WithLabelValues(resultExcluded).Inc()
			}
		}
	}
	return keep, nil
}

func (a *Aggregator) pointDiffs(p trajectory.Point, box query.Box) ([]oracle.Diff, error) {
	axes := [query.PointAxes]struct {
		name  string
		value crypto.EncryptedValue
	}{
		query.AxisLatitude:  {"latitude", p.Latitude},
		query.AxisLongitude: {"longitude", p.Longitude},
		query.AxisTime:      {"time", p.Time},
	}
	out := make([]oracle.Diff, 0, 2*len(axes))
	for i, ax := range axes {
		diffs, err := a.cmp.InRange(ax.value, box.Min[i], box.Max[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ax.name, err)
		}
		out = append(out, diffs...)
	}
	return out, nil
}

func (a *Aggregator) toEvent(p trajectory.Point, nodeID string) (ctk.Event, error) {
	trajKey, err := a.codec.Fingerprint(p.TrajID)
	if err != nil {
		return ctk.Event{}, fmt.Errorf("traj_id: %w", err)
	}
	trajCipher, err := a.codec.EncodeString(p.TrajID)
	if err != nil {
		return ctk.Event{}, fmt.Errorf("traj_id: %w", err)
	}
	dateKey, err := a.codec.Fingerprint(p.Date)
	if err != nil {
		return ctk.Event{}, fmt.Errorf("date: %w", err)
	}
	dateCipher, err := a.codec.EncodeString(p.Date)
	if err != nil {
		return ctk.Event{}, fmt.Errorf("date: %w", err)
	}
	return ctk.Event{
		TrajKey:    trajKey,
		TrajCipher: trajCipher,
		DateKey:    dateKey,
		DateCipher: dateCipher,
		NodeID:     nodeID,
	}, nil
}

func (a *Aggregator) skip(ctx context.Context, job Job, nodeID string, index int, err error, c *counters) {
	reason := metrics.Reason(false, err)
	c.skipped.Add(1)
	metrics.PointsTotal.WithLabelValues(resultSkipped).Inc()
	metrics.DecisionsTotal.WithLabelValues("points", reason).Inc()
	logger.FromContext(ctx).Warn("point skipped",
		zap.String("node_id", nodeID),
		zap.Int("index", index),
		zap.String("reason", reason),
		zap.Error(err),
	)
	emit(job, event.KindPointSkipped, nodeID, reason, 1)
}

func emit(job Job, kind event.Kind, nodeID, reason string, count int) {
	job.Sink.Emit(event.Event{
		QueryID:   job.QueryID,
		Kind:      kind,
		Partition: job.Partition,
		RID:       job.RID,
		NodeID:    nodeID,
		Reason:    reason,
		Count:     count,
		At:        time.Now().UTC(),
	})
}
