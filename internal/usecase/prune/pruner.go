// Package prune walks a partition's octree breadth first and keeps the
// leaves whose cells may intersect an encrypted query box.
package prune

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/metrics"
	"github.com/kailas-cloud/stquery/internal/usecase/compare"
)

// DefaultWorkers bounds concurrent node evaluations within one frontier.
const DefaultWorkers = 8

// Decision stages used as metric labels.
const (
	stageMorton      = "morton"
	stageGridFull    = "grid_full"
	stageGridOverlap = "grid_overlap"
)

// Pruner runs traversals. One Pruner serves many concurrent jobs.
type Pruner struct {
	tree    Tree
	oracle  Oracle
	cmp     Comparator
	cipher  Cipher
	workers int
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithWorkers sets the per-frontier worker limit.
func WithWorkers(n int) Option {
	return func(p *Pruner) {
		if n > 0 {
			p.workers = n
		}
	}
}

// New creates a Pruner.
func New(tree Tree, o Oracle, cmp Comparator, cipher Cipher, opts ...Option) *Pruner {
	p := &Pruner{tree: tree, oracle: o, cmp: cmp, cipher: cipher, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Job is one sub-query traversal of one partition.
type Job struct {
	QueryID   string
	Partition string
	Algorithm query.Algorithm
	SubQuery  query.SubQuery
	Sink      event.Sink
}

type mortonBounds struct {
	min, max crypto.EncryptedValue
}

// Run traverses the octree. Node-level failures prune the node; only a
// missing root, an unavailable key or cancellation fail the run.
func (p *Pruner) Run(ctx context.Context, job Job) (Result, error) {
	if job.Sink == nil {
		job.Sink = event.Discard
	}
	ctx, log := logger.With(ctx,
		zap.String("query_id", job.QueryID),
		zap.String("partition", job.Partition),
		zap.Int("rid", job.SubQuery.RID),
	)

	var bounds mortonBounds
	if job.Algorithm != query.AlgorithmTraversal {
		var err error
		if bounds, err = p.foldMorton(job.SubQuery.Morton); err != nil {
			return Result{}, err
		}
	}

	root, err := p.tree.Root(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: load root: %w", domain.ErrStructural, err)
	}
	frontier := []octree.Node{root}
	if !root.IsLeaf {
		if frontier, err = p.tree.Children(ctx, root.ID); err != nil {
			return Result{}, fmt.Errorf("%w: load root children: %w", domain.ErrStructural, err)
		}
	}

	t := newTracker()
	frontier = admit(t, frontier)
	for level := 0; len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return t.result(), cancelled(err)
		}
		log.Debug("evaluating frontier", zap.Int("level", level), zap.Int("nodes", len(frontier)))
		next, err := p.evaluate(ctx, job, bounds, frontier, t)
		if err != nil {
			return t.result(), err
		}
		frontier = admit(t, next)
	}

	res := t.result()
	log.Info("traversal finished",
		zap.Int("visited", len(res.States)),
		zap.Int("candidates", len(res.Candidates)),
	)
	return res, nil
}

// foldMorton canonicalizes encrypted bounds to [d0, 0] and folds them into
// one ciphertext of 10*d0.
func (p *Pruner) foldMorton(m query.MortonRange) (mortonBounds, error) {
	if len(m.Min) == 0 || len(m.Max) == 0 {
		return mortonBounds{}, domain.NewValidation("morton", "empty digit sequence")
	}
	lo, err := p.cipher.ScalarMul(m.Min[0], 10)
	if err != nil {
		return mortonBounds{}, fmt.Errorf("fold morton min: %w", err)
	}
	hi, err := p.cipher.ScalarMul(m.Max[0], 10)
	if err != nil {
		return mortonBounds{}, fmt.Errorf("fold morton max: %w", err)
	}
	return mortonBounds{min: lo, max: hi}, nil
}

func admit(t *tracker, nodes []octree.Node) []octree.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if t.enqueue(n.ID) {
			out = append(out, n)
		}
	}
	return out
}

func (p *Pruner) evaluate(
	ctx context.Context, job Job, b mortonBounds, frontier []octree.Node, t *tracker,
) ([]octree.Node, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var (
		mu   sync.Mutex
		next []octree.Node
	)
	for _, n := range frontier {
		g.Go(func() error {
			children, err := p.visit(gctx, job, b, n, t)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				mu.Lock()
				next = append(next, children...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		return nil, err
	}
	return next, nil
}

// visit evaluates one node and returns its children when it was expanded.
func (p *Pruner) visit(ctx context.Context, job Job, b mortonBounds, n octree.Node, t *tracker) ([]octree.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	log := logger.FromContext(ctx).With(zap.String("node_id", n.ID))
	rid := job.SubQuery.RID

	if job.Algorithm != query.AlgorithmTraversal {
		ok, err := p.checkMorton(ctx, rid, b, n)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		if errors.Is(err, domain.ErrKeyUnavailable) {
			return nil, err
		}
		reason := metrics.Reason(ok, err)
		metrics.DecisionsTotal.WithLabelValues(stageMorton, reason).Inc()
		if !ok {
			if err != nil {
				log.Warn("morton check failed, pruning", zap.String("reason", reason), zap.Error(err))
			}
			p.prune(job, n, reason, t)
			return nil, nil
		}
		t.set(n.ID, StateMortonChecked)
	}

	if !n.IsLeaf {
		children, err := p.tree.Children(ctx, n.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, cancelled(ctxErr)
			}
			log.Warn("load children failed, pruning", zap.Error(err))
			p.prune(job, n, metrics.ReasonError, t)
			return nil, nil
		}
		t.set(n.ID, StateExpanded)
		metrics.NodesTotal.WithLabelValues(string(StateExpanded)).Inc()
		job.Sink.Emit(nodeEvent(job, event.KindNodeExpanded, n.ID, func(e *event.Event) {
			e.Count = len(children)
		}))
		return children, nil
	}

	cov := CoveragePartial
	if job.Algorithm != query.AlgorithmTraversal {
		var (
			ok     bool
			reason string
			err    error
		)
		cov, ok, reason, err = p.classify(ctx, rid, job.SubQuery.Grid, n)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		if errors.Is(err, domain.ErrKeyUnavailable) {
			return nil, err
		}
		if !ok {
			if err != nil {
				log.Warn("grid check failed, dropping leaf", zap.String("reason", reason), zap.Error(err))
			}
			p.prune(job, n, reason, t)
			return nil, nil
		}
	}

	t.candidate(Candidate{Node: n, Coverage: cov})
	metrics.NodesTotal.WithLabelValues(string(StateLeafCandidate)).Inc()
	log.Debug("leaf candidate", zap.String("coverage", string(cov)))
	job.Sink.Emit(nodeEvent(job, event.KindLeafCandidate, n.ID, func(e *event.Event) {
		e.Coverage = string(cov)
	}))
	return nil, nil
}

func (p *Pruner) prune(job Job, n octree.Node, reason string, t *tracker) {
	t.set(n.ID, StatePruned)
	metrics.NodesTotal.WithLabelValues(string(StatePruned)).Inc()
	job.Sink.Emit(nodeEvent(job, event.KindNodePruned, n.ID, func(e *event.Event) {
		e.Reason = reason
	}))
}

// checkMorton decides min <= node <= max on canonical Morton values.
func (p *Pruner) checkMorton(ctx context.Context, rid int, b mortonBounds, n octree.Node) (bool, error) {
	canon, err := octree.CanonicalMorton(n.Morton)
	if err != nil {
		return false, err
	}
	v := octree.MortonValue(canon)

	geMin, err := p.cmp.ComparePlain(v, b.min, compare.GE)
	if err != nil {
		return false, err
	}
	leMax, err := p.cmp.ComparePlain(v, b.max, compare.LE)
	if err != nil {
		return false, err
	}
	resp, err := p.oracle.CheckRange(ctx, oracle.CheckRangeRequest{RID: rid, Diffs: []oracle.Diff{geMin, leMax}})
	if err != nil {
		return false, err
	}
	return resp.InRange, nil
}

// classify runs the strict containment check first, then the overlap check.
// A failed containment round trip falls through to the overlap check.
func (p *Pruner) classify(
	ctx context.Context, rid int, box query.Box, n octree.Node,
) (Coverage, bool, string, error) {
	full, err := p.gridDiffs(n, box, compare.GT, compare.LT, false)
	if err != nil {
		return "", false, metrics.Reason(false, err), err
	}
	fresp, err := p.oracle.CheckFullyCovered(ctx, oracle.FullyCoveredRequest{RID: rid, Diffs: full})
	if errors.Is(err, domain.ErrKeyUnavailable) {
		return "", false, metrics.Reason(false, err), err
	}
	metrics.DecisionsTotal.WithLabelValues(stageGridFull, metrics.Reason(fresp.Result, err)).Inc()
	if err == nil && fresp.Result {
		return CoverageFull, true, metrics.ReasonInRange, nil
	}

	overlap, err := p.gridDiffs(n, box, compare.LE, compare.GE, true)
	if err != nil {
		return "", false, metrics.Reason(false, err), err
	}
	oresp, err := p.oracle.CheckRange(ctx, oracle.CheckRangeRequest{RID: rid, Diffs: overlap})
	reason := metrics.Reason(oresp.InRange, err)
	metrics.DecisionsTotal.WithLabelValues(stageGridOverlap, reason).Inc()
	if err != nil || !oresp.InRange {
		return "", false, reason, err
	}
	return CoveragePartial, true, reason, nil
}

// gridDiffs compares the node cell against the box on every axis of the box.
// With crossed set, the node min is compared to the box max and vice versa.
func (p *Pruner) gridDiffs(n octree.Node, box query.Box, minOp, maxOp compare.Op, crossed bool) ([]oracle.Diff, error) {
	axes := box.Axes()
	if axes > octree.Axes {
		return nil, domain.NewValidation("grid", fmt.Sprintf("box has %d axes, cells have %d", axes, octree.Axes))
	}
	diffs := make([]oracle.Diff, 0, 2*axes)
	for i := range axes {
		lo, hi := box.Min[i], box.Max[i]
		if crossed {
			lo, hi = hi, lo
		}
		d, err := p.cmp.ComparePlain(n.Grid.Min(i), lo, minOp)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d)
		if d, err = p.cmp.ComparePlain(n.Grid.Max(i), hi, maxOp); err != nil {
			return nil, err
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}

func nodeEvent(job Job, kind event.Kind, nodeID string, fill func(e *event.Event)) event.Event {
	e := event.Event{
		QueryID:   job.QueryID,
		Kind:      kind,
		Partition: job.Partition,
		RID:       job.SubQuery.RID,
		NodeID:    nodeID,
		At:        time.Now().UTC(),
	}
	if fill != nil {
		fill(&e)
	}
	return e
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrQueryCancelled, err)
}
