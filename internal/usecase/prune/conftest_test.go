package prune

import (
	"context"
	"fmt"
	"sync"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/crypto/cryptotest"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/usecase/compare"
	oraclesvc "github.com/kailas-cloud/stquery/internal/usecase/oracle"
)

// --- Mock Tree ---

type memTree struct {
	rootID     string
	nodes      map[string]octree.Node
	childrenFn func(id string) ([]octree.Node, error)
}

func newMemTree(nodes ...octree.Node) *memTree {
	t := &memTree{nodes: make(map[string]octree.Node)}
	for _, n := range nodes {
		t.nodes[n.ID] = n
		if n.IsRoot() {
			t.rootID = n.ID
		}
	}
	return t
}

func (t *memTree) Root(_ context.Context) (octree.Node, error) {
	n, ok := t.nodes[t.rootID]
	if !ok {
		return octree.Node{}, domain.ErrNotFound
	}
	return n, nil
}

func (t *memTree) Children(_ context.Context, id string) ([]octree.Node, error) {
	if t.childrenFn != nil {
		return t.childrenFn(id)
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}
	out := make([]octree.Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, t.nodes[c])
	}
	return out, nil
}

// --- Mock Oracle ---

type mockOracle struct {
	checkRangeFn   func(req oracle.CheckRangeRequest) (oracle.CheckRangeResponse, error)
	fullyCoveredFn func(req oracle.FullyCoveredRequest) (oracle.FullyCoveredResponse, error)
}

func (m *mockOracle) CheckRange(_ context.Context, req oracle.CheckRangeRequest) (oracle.CheckRangeResponse, error) {
	return m.checkRangeFn(req)
}

func (m *mockOracle) CheckFullyCovered(
	_ context.Context, req oracle.FullyCoveredRequest,
) (oracle.FullyCoveredResponse, error) {
	return m.fullyCoveredFn(req)
}

// --- Event recorder ---

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(kind event.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// --- Fixtures ---

type fixture struct {
	plain  *cryptotest.Plain
	oracle *oraclesvc.Service
}

func newFixture() fixture {
	plain := cryptotest.NewPlain()
	return fixture{plain: plain, oracle: oraclesvc.New(plain, nil)}
}

func (f fixture) pruner(tree Tree, opts ...Option) *Pruner {
	return New(tree, f.oracle, compare.New(f.plain), f.plain, opts...)
}

func (f fixture) comparator() Comparator {
	return compare.New(f.plain)
}

func (f fixture) encryptAll(vs ...int64) []crypto.EncryptedValue {
	out := make([]crypto.EncryptedValue, len(vs))
	for i, v := range vs {
		out[i] = f.plain.MustEncrypt(v)
	}
	return out
}

// subQuery builds an encrypted sub-query over the Morton leading digits
// [minDigit, maxDigit] and the grid box lo..hi.
func (f fixture) subQuery(minDigit, maxDigit int64, lo, hi [3]int64) query.SubQuery {
	return query.SubQuery{
		RID: 1,
		Morton: query.MortonRange{
			Min: f.encryptAll(minDigit, 0),
			Max: f.encryptAll(maxDigit, 9),
		},
		Grid: query.Box{
			Min: f.encryptAll(lo[:]...),
			Max: f.encryptAll(hi[:]...),
		},
		Points: query.Box{
			Min: f.encryptAll(0, 0, 0),
			Max: f.encryptAll(1, 1, 1),
		},
	}
}

func cell(lo, hi int64) octree.GridCell {
	return octree.GridCell{lo, lo, lo, hi, hi, hi}
}
