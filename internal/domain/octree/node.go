// Package octree holds the plaintext spatial index read by the pruner.
package octree

import (
	"fmt"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Axes is the number of spatial axes of a grid cell.
const Axes = 3

// GridCell is [min_x, min_y, min_z, max_x, max_y, max_z].
type GridCell [2 * Axes]int64

// Min returns the min corner coordinate on axis i.
func (g GridCell) Min(i int) int64 { return g[i] }

// Max returns the max corner coordinate on axis i.
func (g GridCell) Max(i int) int64 { return g[Axes+i] }

// Validate checks that min <= max on every axis.
func (g GridCell) Validate() error {
	for i := 0; i < Axes; i++ {
		if g.Min(i) > g.Max(i) {
			return domain.NewValidation("grid_cell", fmt.Sprintf("axis %d: min %d > max %d", i, g.Min(i), g.Max(i)))
		}
	}
	return nil
}

// Node is one octree node. Immutable once loaded.
type Node struct {
	ID       string   `json:"node_id"`
	ParentID string   `json:"parent_id,omitempty"`
	Level    int      `json:"level"`
	IsLeaf   bool     `json:"is_leaf"`
	Morton   []int    `json:"morton_code"`
	Grid     GridCell `json:"grid_cell"`
	Children []string `json:"children,omitempty"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool { return n.ParentID == "" }

// Validate checks structural fields of a node.
func (n Node) Validate() error {
	if n.ID == "" {
		return domain.NewValidation("node_id", "is required")
	}
	if n.IsLeaf && len(n.Children) > 0 {
		return domain.NewValidation("children", "leaf node cannot have children")
	}
	for _, d := range n.Morton {
		if d < 0 || d > 9 {
			return domain.NewValidation("morton_code", fmt.Sprintf("digit %d out of range", d))
		}
	}
	return n.Grid.Validate()
}
