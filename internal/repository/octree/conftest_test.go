package octree

import (
	"context"
	"maps"

	"github.com/kailas-cloud/stquery/internal/db"
)

// mockStore is an in-memory store; fn fields override single calls.
type mockStore struct {
	hashes map[string]map[string]string
	values map[string][]byte

	hgetAllCalls      int
	hgetAllMultiCalls int
	hsetMultiFn       func(ctx context.Context, items []db.HashSetItem) error
	getFn             func(ctx context.Context, key string) ([]byte, error)
}

func newMockStore() *mockStore {
	return &mockStore{hashes: map[string]map[string]string{}, values: map[string][]byte{}}
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	for _, it := range items {
		m.hashes[it.Key] = maps.Clone(it.Fields)
	}
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.hgetAllCalls++
	if h, ok := m.hashes[key]; ok {
		return h, nil
	}
	return map[string]string{}, nil
}

func (m *mockStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	m.hgetAllMultiCalls++
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = m.hashes[k]
	}
	return out, nil
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	v, ok := m.values[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	m.values[key] = value
	return nil
}
