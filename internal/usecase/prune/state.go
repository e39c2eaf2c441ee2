package prune

import (
	"sync"

	"github.com/kailas-cloud/stquery/internal/domain/octree"
)

// State is the traversal state of one node.
type State string

const (
	StateQueued        State = "queued"
	StateMortonChecked State = "morton-checked"
	StatePruned        State = "pruned"
	StateExpanded      State = "expanded"
	StateLeafCandidate State = "leaf-candidate"
)

// Coverage classifies a candidate leaf against the grid box.
type Coverage string

const (
	// CoverageFull leaves lie strictly inside the box; all points are included.
	CoverageFull Coverage = "full"
	// CoveragePartial leaves overlap the box; points are filtered one by one.
	CoveragePartial Coverage = "partial"
)

// Candidate is a leaf forwarded to the aggregator.
type Candidate struct {
	Node     octree.Node
	Coverage Coverage
}

// Result is the outcome of one sub-query traversal.
type Result struct {
	Candidates []Candidate
	// States holds the final state of every visited node.
	States map[string]State
}

// Pruned returns the ids of pruned nodes.
func (r Result) Pruned() []string {
	var out []string
	for id, s := range r.States {
		if s == StatePruned {
			out = append(out, id)
		}
	}
	return out
}

type tracker struct {
	mu         sync.Mutex
	states     map[string]State
	candidates []Candidate
}

func newTracker() *tracker {
	return &tracker{states: make(map[string]State)}
}

// enqueue marks id queued. Returns false if the node was already seen.
func (t *tracker) enqueue(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.states[id]; seen {
		return false
	}
	t.states[id] = StateQueued
	return true
}

func (t *tracker) set(id string, s State) {
	t.mu.Lock()
	t.states[id] = s
	t.mu.Unlock()
}

func (t *tracker) candidate(c Candidate) {
	t.mu.Lock()
	t.states[c.Node.ID] = StateLeafCandidate
	t.candidates = append(t.candidates, c)
	t.mu.Unlock()
}

func (t *tracker) result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	states := make(map[string]State, len(t.states))
	for id, s := range t.states {
		states[id] = s
	}
	return Result{Candidates: append([]Candidate(nil), t.candidates...), States: states}
}
