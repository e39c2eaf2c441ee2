package ingest

import (
	"context"
	"sync"

	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
)

type mockTree struct {
	saveFn func(ctx context.Context, nodes []octree.Node) error
	saved  []octree.Node
}

func (m *mockTree) Save(ctx context.Context, nodes []octree.Node) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, nodes)
	}
	m.saved = nodes
	return nil
}

type memPoints struct {
	mu   sync.Mutex
	data map[string][]trajectory.Point
}

func newMemPoints() *memPoints {
	return &memPoints{data: make(map[string][]trajectory.Point)}
}

func (m *memPoints) Save(_ context.Context, keyword, nodeID string, points []trajectory.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[keyword+"/"+nodeID] = points
	return nil
}
