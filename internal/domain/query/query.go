// Package query holds the encrypted logical query and its lifecycle.
package query

import (
	"fmt"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
)

// Algorithm selects how partitions are searched.
type Algorithm string

const (
	// AlgorithmSSTP prunes the octree with secure comparisons.
	AlgorithmSSTP Algorithm = "sstp"
	// AlgorithmTraversal visits every node and point-filters every leaf.
	AlgorithmTraversal Algorithm = "traversal"
)

// IsValid checks if the algorithm is supported.
func (a Algorithm) IsValid() bool {
	return a == AlgorithmSSTP || a == AlgorithmTraversal
}

// Axis indexes of a point box.
const (
	AxisLatitude = iota
	AxisLongitude
	AxisTime
	PointAxes
)

// MortonRange holds encrypted digit sequences, most significant digit first.
type MortonRange struct {
	Min []crypto.EncryptedValue `json:"min"`
	Max []crypto.EncryptedValue `json:"max"`
}

// Box is an encrypted axis-aligned box.
type Box struct {
	Min []crypto.EncryptedValue `json:"min"`
	Max []crypto.EncryptedValue `json:"max"`
}

// Axes returns the number of axes of the box.
func (b Box) Axes() int { return len(b.Min) }

func (b Box) validate(field string, minAxes, maxAxes int) error {
	if len(b.Min) != len(b.Max) {
		return domain.NewValidation(field, "min and max must have the same number of axes")
	}
	if len(b.Min) < minAxes || len(b.Min) > maxAxes {
		return domain.NewValidation(field, fmt.Sprintf("expected %d..%d axes, got %d", minAxes, maxAxes, len(b.Min)))
	}
	for i := range b.Min {
		if b.Min[i].IsZero() || b.Max[i].IsZero() {
			return domain.NewValidation(field, fmt.Sprintf("axis %d is missing a ciphertext", i))
		}
	}
	return nil
}

// SubQuery is one region of a logical query. RID doubles as the region id in STV.
type SubQuery struct {
	RID    int         `json:"rid"`
	Morton MortonRange `json:"morton"`
	Grid   Box         `json:"grid"`
	Points Box         `json:"points"`
}

// Validate checks that every encrypted bound is present.
func (s SubQuery) Validate() error {
	if s.RID <= 0 {
		return domain.NewValidation("rid", "must be positive")
	}
	if len(s.Morton.Min) == 0 || len(s.Morton.Max) == 0 {
		return domain.NewValidation("morton", "min and max digit sequences are required")
	}
	for _, d := range append(append([]crypto.EncryptedValue{}, s.Morton.Min...), s.Morton.Max...) {
		if d.IsZero() {
			return domain.NewValidation("morton", "missing digit ciphertext")
		}
	}
	if err := s.Grid.validate("grid", 2, 3); err != nil {
		return err
	}
	return s.Points.validate("points", PointAxes, PointAxes)
}

// Query is one logical query: a keyword, a time-span bound and one sub-query
// per required region. TimeSpan is in seconds, the unit of stored point dates.
type Query struct {
	Keyword    string     `json:"keyword"`
	TimeSpan   int64      `json:"time_span"`
	Algorithm  Algorithm  `json:"algorithm"`
	SubQueries []SubQuery `json:"sub_queries"`
}

// Regions returns the required region set, one id per sub-query.
func (q Query) Regions() []int {
	out := make([]int, len(q.SubQueries))
	for i, s := range q.SubQueries {
		out[i] = s.RID
	}
	return out
}

// Validate checks the query before any traversal state is created.
func (q Query) Validate() error {
	if q.Keyword == "" {
		return domain.NewValidation("keyword", "is required")
	}
	if q.TimeSpan < 0 {
		return domain.NewValidation("time_span", "must be non-negative")
	}
	if !q.Algorithm.IsValid() {
		return domain.NewValidation("algorithm", fmt.Sprintf("unsupported algorithm %q", q.Algorithm))
	}
	if len(q.SubQueries) == 0 {
		return domain.NewValidation("sub_queries", "at least one sub-query is required")
	}
	seen := make(map[int]struct{}, len(q.SubQueries))
	for _, s := range q.SubQueries {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.RID]; dup {
			return domain.NewValidation("rid", fmt.Sprintf("duplicate rid %d", s.RID))
		}
		seen[s.RID] = struct{}{}
	}
	return nil
}

// AssignRIDs numbers sub-queries 1..n in order.
func (q *Query) AssignRIDs() {
	for i := range q.SubQueries {
		q.SubQueries[i].RID = i + 1
	}
}
