package octree

import (
	"fmt"
	"strconv"
	"strings"

	domoctree "github.com/kailas-cloud/stquery/internal/domain/octree"
)

// nodeToHash converts a node to a map for HSET. Morton digits are stored as
// one decimal string, most significant first.
func nodeToHash(n domoctree.Node) map[string]string {
	var morton strings.Builder
	for _, d := range n.Morton {
		morton.WriteByte(byte('0' + d))
	}
	grid := make([]string, len(n.Grid))
	for i, v := range n.Grid {
		grid[i] = strconv.FormatInt(v, 10)
	}
	return map[string]string{
		"node_id":   n.ID,
		"parent_id": n.ParentID,
		"level":     strconv.Itoa(n.Level),
		"is_leaf":   strconv.FormatBool(n.IsLeaf),
		"morton":    morton.String(),
		"grid":      strings.Join(grid, ","),
		"children":  strings.Join(n.Children, ","),
	}
}

// nodeFromHash hydrates a node from an HGETALL result map.
func nodeFromHash(m map[string]string) (domoctree.Node, error) {
	n := domoctree.Node{ID: m["node_id"], ParentID: m["parent_id"]}

	level, err := strconv.Atoi(m["level"])
	if err != nil {
		return domoctree.Node{}, fmt.Errorf("invalid level: %w", err)
	}
	n.Level = level

	if n.IsLeaf, err = strconv.ParseBool(m["is_leaf"]); err != nil {
		return domoctree.Node{}, fmt.Errorf("invalid is_leaf: %w", err)
	}

	for _, c := range m["morton"] {
		if c < '0' || c > '9' {
			return domoctree.Node{}, fmt.Errorf("invalid morton digit %q", c)
		}
		n.Morton = append(n.Morton, int(c-'0'))
	}

	parts := strings.Split(m["grid"], ",")
	if len(parts) != len(n.Grid) {
		return domoctree.Node{}, fmt.Errorf("invalid grid: %d coordinates", len(parts))
	}
	for i, p := range parts {
		if n.Grid[i], err = strconv.ParseInt(p, 10, 64); err != nil {
			return domoctree.Node{}, fmt.Errorf("invalid grid coordinate %d: %w", i, err)
		}
	}

	if c := m["children"]; c != "" {
		n.Children = strings.Split(c, ",")
	}
	return n, nil
}
