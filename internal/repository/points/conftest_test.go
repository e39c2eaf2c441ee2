package points

import (
	"context"

	"github.com/kailas-cloud/stquery/internal/db"
)

type mockStore struct {
	values map[string][]byte
	getFn  func(ctx context.Context, key string) ([]byte, error)
	setFn  func(ctx context.Context, key string, value []byte) error
}

func newMockStore() *mockStore {
	return &mockStore{values: map[string][]byte{}}
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

func (m *mockStore) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	m.values[key] = value
	return nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}
