// Package ctk holds the candidate-trajectory-keyword map built by the aggregator.
package ctk

import (
	"sort"
	"sync"
)

// Event is one included point: trajectory and date ciphertexts plus the leaf
// that produced it. Keys are ciphertext fingerprints.
type Event struct {
	TrajKey    string
	TrajCipher string
	DateKey    string
	DateCipher string
	NodeID     string
}

// Date is one recorded date of a trajectory.
type Date struct {
	Key    string `json:"key"`
	Cipher string `json:"cipher"`
	NodeID string `json:"node_id"`
}

// Trajectory is the sorted date set of one trajectory.
type Trajectory struct {
	Cipher string `json:"cipher"`
	Dates  []Date `json:"dates"`
}

// Tree is the serializable form: keyword -> rid -> trajectory key -> dates.
type Tree map[string]map[int]map[string]Trajectory

// Count returns the total number of dates in the tree.
func (t Tree) Count() int {
	n := 0
	for _, byRID := range t {
		for _, byTraj := range byRID {
			for _, tr := range byTraj {
				n += len(tr.Dates)
			}
		}
	}
	return n
}

type entry struct {
	cipher string
	dates  map[string]Date
}

// Map is an append-only, concurrency-safe CTK map with set semantics on
// (trajectory, date). A later insert of the same pair overwrites the node id.
type Map struct {
	mu   sync.Mutex
	data map[string]map[int]map[string]*entry
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{data: make(map[string]map[int]map[string]*entry)}
}

// Insert records an event. Returns true if the (trajectory, date) pair is new.
func (m *Map) Insert(keyword string, rid int, e Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRID, ok := m.data[keyword]
	if !ok {
		byRID = make(map[int]map[string]*entry)
		m.data[keyword] = byRID
	}
	byTraj, ok := byRID[rid]
	if !ok {
		byTraj = make(map[string]*entry)
		byRID[rid] = byTraj
	}
	ent, ok := byTraj[e.TrajKey]
	if !ok {
		ent = &entry{cipher: e.TrajCipher, dates: make(map[string]Date)}
		byTraj[e.TrajKey] = ent
	}
	_, existed := ent.dates[e.DateKey]
	ent.dates[e.DateKey] = Date{Key: e.DateKey, Cipher: e.DateCipher, NodeID: e.NodeID}
	return !existed
}

// Merge inserts every date of a tree.
func (m *Map) Merge(t Tree) {
	for keyword, byRID := range t {
		for rid, byTraj := range byRID {
			for trajKey, tr := range byTraj {
				for _, d := range tr.Dates {
					m.Insert(keyword, rid, Event{
						TrajKey:    trajKey,
						TrajCipher: tr.Cipher,
						DateKey:    d.Key,
						DateCipher: d.Cipher,
						NodeID:     d.NodeID,
					})
				}
			}
		}
	}
}

// Snapshot returns a copy with dates sorted by key.
func (m *Map) Snapshot() Tree {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(Tree, len(m.data))
	for keyword, byRID := range m.data {
		outRID := make(map[int]map[string]Trajectory, len(byRID))
		for rid, byTraj := range byRID {
			outTraj := make(map[string]Trajectory, len(byTraj))
			for trajKey, ent := range byTraj {
				dates := make([]Date, 0, len(ent.dates))
				for _, d := range ent.dates {
					dates = append(dates, d)
				}
				sort.Slice(dates, func(i, j int) bool { return dates[i].Key < dates[j].Key })
				outTraj[trajKey] = Trajectory{Cipher: ent.cipher, Dates: dates}
			}
			outRID[rid] = outTraj
		}
		out[keyword] = outRID
	}
	return out
}

// Len returns the total number of recorded dates.
func (m *Map) Len() int {
	return m.Snapshot().Count()
}
