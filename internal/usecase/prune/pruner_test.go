package prune

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/query"
)

// flatTree: root with four leaves.
//
//	full:    morton 1, cell [10,20] inside the box
//	partial: morton 2, cell [90,120] crossing the box max
//	far:     morton 5, outside the Morton range
//	outside: morton 2, cell [200,300] outside the box
func flatTree() *memTree {
	return newMemTree(
		octree.Node{ID: "root", Morton: []int{0}, Grid: cell(0, 1000),
			Children: []string{"full", "partial", "far", "outside"}},
		octree.Node{ID: "full", ParentID: "root", Level: 1, IsLeaf: true, Morton: []int{1, 4}, Grid: cell(10, 20)},
		octree.Node{ID: "partial", ParentID: "root", Level: 1, IsLeaf: true, Morton: []int{2}, Grid: cell(90, 120)},
		octree.Node{ID: "far", ParentID: "root", Level: 1, IsLeaf: true, Morton: []int{5, 1, 1}, Grid: cell(10, 20)},
		octree.Node{ID: "outside", ParentID: "root", Level: 1, IsLeaf: true, Morton: []int{2, 7}, Grid: cell(200, 300)},
	)
}

func coverageOf(res Result) map[string]Coverage {
	out := make(map[string]Coverage, len(res.Candidates))
	for _, c := range res.Candidates {
		out[c.Node.ID] = c.Coverage
	}
	return out
}

func TestRun_ClassifiesLeaves(t *testing.T) {
	f := newFixture()
	rec := &recorder{}
	p := f.pruner(flatTree())

	res, err := p.Run(context.Background(), Job{
		QueryID:   "q1",
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
		Sink:      rec,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cov := coverageOf(res)
	if len(cov) != 2 {
		t.Fatalf("expected 2 candidates, got %v", cov)
	}
	if cov["full"] != CoverageFull {
		t.Errorf("full: expected full coverage, got %q", cov["full"])
	}
	if cov["partial"] != CoveragePartial {
		t.Errorf("partial: expected partial coverage, got %q", cov["partial"])
	}
	for _, id := range []string{"far", "outside"} {
		if res.States[id] != StatePruned {
			t.Errorf("%s: expected pruned, got %q", id, res.States[id])
		}
	}
	if _, ok := res.States["root"]; ok {
		t.Error("root itself is not evaluated")
	}
	if rec.count(event.KindLeafCandidate) != 2 || rec.count(event.KindNodePruned) != 2 {
		t.Errorf("unexpected events: %+v", rec.events)
	}
}

func TestRun_TraversalVisitsEverything(t *testing.T) {
	f := newFixture()
	p := f.pruner(flatTree())

	res, err := p.Run(context.Background(), Job{
		Algorithm: query.AlgorithmTraversal,
		SubQuery:  f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Candidates) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(res.Candidates))
	}
	for _, c := range res.Candidates {
		if c.Coverage != CoveragePartial {
			t.Errorf("%s: expected partial, got %q", c.Node.ID, c.Coverage)
		}
	}
	if len(res.Pruned()) != 0 {
		t.Errorf("expected nothing pruned, got %v", res.Pruned())
	}
}

func TestRun_ExpandsInnerNodesOnce(t *testing.T) {
	f := newFixture()
	tree := newMemTree(
		octree.Node{ID: "root", Morton: []int{0}, Children: []string{"a", "b"}, Grid: cell(0, 100)},
		octree.Node{ID: "a", ParentID: "root", Level: 1, Morton: []int{1}, Grid: cell(0, 50),
			Children: []string{"shared", "a2"}},
		octree.Node{ID: "b", ParentID: "root", Level: 1, Morton: []int{1}, Grid: cell(50, 100),
			Children: []string{"shared"}},
		octree.Node{ID: "shared", ParentID: "a", Level: 2, IsLeaf: true, Morton: []int{1, 1}, Grid: cell(10, 20)},
		octree.Node{ID: "a2", ParentID: "a", Level: 2, IsLeaf: true, Morton: []int{1, 2}, Grid: cell(20, 30)},
	)
	rec := &recorder{}
	res, err := f.pruner(tree, WithWorkers(1)).Run(context.Background(), Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 1, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
		Sink:      rec,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.States["a"] != StateExpanded || res.States["b"] != StateExpanded {
		t.Errorf("expected inner nodes expanded, got %v", res.States)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("expected shared leaf counted once, got %d candidates", len(res.Candidates))
	}
	if rec.count(event.KindNodeExpanded) != 2 {
		t.Errorf("expected 2 expansion events, got %d", rec.count(event.KindNodeExpanded))
	}
}

func TestRun_RootLeaf(t *testing.T) {
	f := newFixture()
	tree := newMemTree(octree.Node{ID: "root", IsLeaf: true, Morton: []int{1}, Grid: cell(10, 20)})
	res, err := f.pruner(tree).Run(context.Background(), Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 1, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Coverage != CoverageFull {
		t.Errorf("unexpected candidates: %+v", res.Candidates)
	}
}

func TestRun_OracleFailurePrunesConservatively(t *testing.T) {
	f := newFixture()
	o := &mockOracle{
		checkRangeFn: func(oracle.CheckRangeRequest) (oracle.CheckRangeResponse, error) {
			return oracle.CheckRangeResponse{}, fmt.Errorf("dial: %w", domain.ErrOracleUnreachable)
		},
	}
	p := New(flatTree(), o, f.comparator(), f.plain)
	res, err := p.Run(context.Background(), Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if err != nil {
		t.Fatalf("oracle failures must not fail the run: %v", err)
	}
	if len(res.Candidates) != 0 || len(res.Pruned()) != 4 {
		t.Errorf("expected every node pruned, got %v", res.States)
	}
}

func TestRun_FullCheckFailureFallsBackToOverlap(t *testing.T) {
	f := newFixture()
	o := &mockOracle{
		checkRangeFn: func(req oracle.CheckRangeRequest) (oracle.CheckRangeResponse, error) {
			return f.oracle.CheckRange(context.Background(), req)
		},
		fullyCoveredFn: func(oracle.FullyCoveredRequest) (oracle.FullyCoveredResponse, error) {
			return oracle.FullyCoveredResponse{}, domain.ErrOracleTimeout
		},
	}
	p := New(flatTree(), o, f.comparator(), f.plain)
	res, err := p.Run(context.Background(), Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cov := coverageOf(res)
	if cov["full"] != CoveragePartial || cov["partial"] != CoveragePartial {
		t.Errorf("expected both overlapping leaves demoted to partial, got %v", cov)
	}
}

func TestRun_MissingRootIsStructural(t *testing.T) {
	f := newFixture()
	_, err := f.pruner(newMemTree()).Run(context.Background(), Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if !errors.Is(err, domain.ErrStructural) {
		t.Fatalf("expected ErrStructural, got %v", err)
	}
}

func TestRun_ChildrenFailurePrunesNode(t *testing.T) {
	f := newFixture()
	tree := newMemTree(
		octree.Node{ID: "root", Morton: []int{0}, Children: []string{"inner"}, Grid: cell(0, 100)},
		octree.Node{ID: "inner", ParentID: "root", Level: 1, Morton: []int{1}, Grid: cell(0, 100),
			Children: []string{"x"}},
	)
	tree.childrenFn = func(id string) ([]octree.Node, error) {
		if id == "inner" {
			return nil, errors.New("connection reset")
		}
		return []octree.Node{tree.nodes["inner"]}, nil
	}
	res, err := f.pruner(tree).Run(context.Background(), Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 1, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.States["inner"] != StatePruned {
		t.Errorf("expected inner pruned, got %q", res.States["inner"])
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.pruner(flatTree()).Run(ctx, Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if !errors.Is(err, domain.ErrQueryCancelled) {
		t.Fatalf("expected ErrQueryCancelled, got %v", err)
	}
}

func TestRun_CancelledMidFlightDiscardsResults(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	o := &mockOracle{
		checkRangeFn: func(req oracle.CheckRangeRequest) (oracle.CheckRangeResponse, error) {
			cancel()
			return oracle.CheckRangeResponse{InRange: true}, nil
		},
	}
	p := New(flatTree(), o, f.comparator(), f.plain, WithWorkers(1))
	res, err := p.Run(ctx, Job{
		Algorithm: query.AlgorithmSSTP,
		SubQuery:  f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100}),
	})
	if !errors.Is(err, domain.ErrQueryCancelled) {
		t.Fatalf("expected ErrQueryCancelled, got %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Errorf("expected in-flight answer discarded, got %+v", res.Candidates)
	}
}

func TestRun_KeyUnavailableFails(t *testing.T) {
	f := newFixture()
	sq := f.subQuery(1, 3, [3]int64{0, 0, 0}, [3]int64{100, 100, 100})
	p := New(flatTree(), f.oracle, f.comparator(), keylessCipher{})
	_, err := p.Run(context.Background(), Job{Algorithm: query.AlgorithmSSTP, SubQuery: sq})
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
}

type keylessCipher struct{}

func (keylessCipher) ScalarMul(crypto.EncryptedValue, int64) (crypto.EncryptedValue, error) {
	return crypto.EncryptedValue{}, domain.ErrKeyUnavailable
}

// --- Pruning soundness over randomized trees ---

type randomTree struct {
	*memTree
	leaves []octree.Node
	nextID int
}

// buildRandomTree splits [0,64]^3 into octants. Level-1 octant i gets leading
// Morton digit i+1; descendants keep their ancestor's leading digit.
func buildRandomTree(rng *rand.Rand) *randomTree {
	rt := &randomTree{memTree: newMemTree()}
	root := octree.Node{ID: "root", Morton: []int{0}, Grid: cell(0, 64)}
	root.Children = rt.split(rng, root, 1, 0)
	rt.nodes["root"] = root
	rt.rootID = "root"
	return rt
}

func (rt *randomTree) split(rng *rand.Rand, parent octree.Node, level, leading int) []string {
	var ids []string
	for i := range 8 {
		lo := [3]int64{parent.Grid.Min(0), parent.Grid.Min(1), parent.Grid.Min(2)}
		hi := [3]int64{parent.Grid.Max(0), parent.Grid.Max(1), parent.Grid.Max(2)}
		var g octree.GridCell
		for axis := range 3 {
			mid := (lo[axis] + hi[axis]) / 2
			if i&(1<<axis) == 0 {
				g[axis], g[3+axis] = lo[axis], mid
			} else {
				g[axis], g[3+axis] = mid, hi[axis]
			}
		}
		digit := leading
		if level == 1 {
			digit = i + 1
		}
		rt.nextID++
		n := octree.Node{
			ID:       fmt.Sprintf("n%d", rt.nextID),
			ParentID: parent.ID,
			Level:    level,
			Morton:   []int{digit, i},
			Grid:     g,
		}
		if level >= 3 || (level > 1 && rng.IntN(3) == 0) || g.Max(0)-g.Min(0) < 2 {
			n.IsLeaf = true
			rt.leaves = append(rt.leaves, n)
		} else {
			n.Children = rt.split(rng, n, level+1, digit)
		}
		rt.nodes[n.ID] = n
		ids = append(ids, n.ID)
	}
	return ids
}

func overlaps(g octree.GridCell, lo, hi [3]int64) bool {
	for i := range 3 {
		if g.Min(i) > hi[i] || g.Max(i) < lo[i] {
			return false
		}
	}
	return true
}

func strictlyInside(g octree.GridCell, lo, hi [3]int64) bool {
	for i := range 3 {
		if g.Min(i) <= lo[i] || g.Max(i) >= hi[i] {
			return false
		}
	}
	return true
}

func TestRun_PruningSoundness(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*7919))
			rt := buildRandomTree(rng)

			var lo, hi [3]int64
			for i := range 3 {
				a, b := rng.Int64N(65), rng.Int64N(65)
				if a > b {
					a, b = b, a
				}
				lo[i], hi[i] = a, b
			}

			// Leading digits of the level-1 octants the box touches.
			minDigit, maxDigit := 9, 0
			root := rt.nodes["root"]
			for _, id := range root.Children {
				n := rt.nodes[id]
				if overlaps(n.Grid, lo, hi) {
					minDigit = min(minDigit, n.Morton[0])
					maxDigit = max(maxDigit, n.Morton[0])
				}
			}

			f := newFixture()
			p := f.pruner(rt, WithWorkers(1+rng.IntN(8)))
			res, err := p.Run(context.Background(), Job{
				Algorithm: query.AlgorithmSSTP,
				SubQuery:  f.subQuery(int64(minDigit), int64(maxDigit), lo, hi),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			cov := coverageOf(res)
			pruned := res.Pruned()
			sort.Strings(pruned)
			for _, leaf := range rt.leaves {
				if !overlaps(leaf.Grid, lo, hi) {
					if _, ok := cov[leaf.ID]; ok {
						t.Errorf("leaf %s %v outside box %v..%v became a candidate", leaf.ID, leaf.Grid, lo, hi)
					}
					continue
				}
				got, ok := cov[leaf.ID]
				if !ok {
					t.Errorf("intersecting leaf %s %v missing (state %q, box %v..%v)",
						leaf.ID, leaf.Grid, res.States[leaf.ID], lo, hi)
					continue
				}
				want := CoveragePartial
				if strictlyInside(leaf.Grid, lo, hi) {
					want = CoverageFull
				}
				if got != want {
					t.Errorf("leaf %s: expected %q, got %q", leaf.ID, want, got)
				}
			}
		})
	}
}
