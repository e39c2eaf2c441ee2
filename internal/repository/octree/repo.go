// Package octree stores the plaintext octree of one partition.
package octree

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kailas-cloud/stquery/internal/db"
	"github.com/kailas-cloud/stquery/internal/domain"
	domoctree "github.com/kailas-cloud/stquery/internal/domain/octree"
)

// store is the consumer interface for octree nodes (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Repo reads and writes the octree of one partition. Nodes are immutable
// once loaded, so reads are cached for the life of the repo.
type Repo struct {
	store     store
	partition string

	mu    sync.RWMutex
	cache map[string]domoctree.Node
}

// New creates an octree repository for partition.
func New(s store, partition string) *Repo {
	return &Repo{store: s, partition: partition, cache: make(map[string]domoctree.Node)}
}

// Save writes all nodes in one round trip and records the root.
// Exactly one node must be the root.
func (r *Repo) Save(ctx context.Context, nodes []domoctree.Node) error {
	rootID := ""
	items := make([]db.HashSetItem, len(nodes))
	for i, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
		if n.IsRoot() {
			if rootID != "" {
				return domain.NewValidation("nodes", fmt.Sprintf("two roots: %s and %s", rootID, n.ID))
			}
			rootID = n.ID
		}
		items[i] = db.HashSetItem{Key: nodeKey(r.partition, n.ID), Fields: nodeToHash(n)}
	}
	if rootID == "" {
		return domain.NewValidation("nodes", "no root node")
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset nodes: %w", err)
	}
	if err := r.store.Set(ctx, rootKey(r.partition), []byte(rootID)); err != nil {
		return fmt.Errorf("set root: %w", err)
	}

	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
	return nil
}

// Root returns the root node.
func (r *Repo) Root(ctx context.Context) (domoctree.Node, error) {
	id, err := r.store.Get(ctx, rootKey(r.partition))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domoctree.Node{}, fmt.Errorf("partition %s root: %w", r.partition, domain.ErrNotFound)
		}
		return domoctree.Node{}, fmt.Errorf("get root: %w", err)
	}
	return r.Node(ctx, string(id))
}

// Node returns one node by id.
func (r *Repo) Node(ctx context.Context, id string) (domoctree.Node, error) {
	if n, ok := r.cached(id); ok {
		return n, nil
	}
	m, err := r.store.HGetAll(ctx, nodeKey(r.partition, id))
	if err != nil {
		return domoctree.Node{}, fmt.Errorf("hgetall node %s: %w", id, err)
	}
	if len(m) == 0 {
		return domoctree.Node{}, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}
	n, err := nodeFromHash(m)
	if err != nil {
		return domoctree.Node{}, fmt.Errorf("parse node %s: %w", id, err)
	}
	r.remember(n)
	return n, nil
}

// Children returns the children of id in stored order. A dangling child
// reference is an error.
func (r *Repo) Children(ctx context.Context, id string) ([]domoctree.Node, error) {
	parent, err := r.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(parent.Children) == 0 {
		return nil, nil
	}

	out := make([]domoctree.Node, len(parent.Children))
	var missing []int
	for i, c := range parent.Children {
		n, ok := r.cached(c)
		if !ok {
			missing = append(missing, i)
			continue
		}
		out[i] = n
	}
	if len(missing) == 0 {
		return out, nil
	}

	keys := make([]string, len(missing))
	for j, i := range missing {
		keys[j] = nodeKey(r.partition, parent.Children[i])
	}
	results, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall children of %s: %w", id, err)
	}
	for j, m := range results {
		childID := parent.Children[missing[j]]
		if len(m) == 0 {
			return nil, fmt.Errorf("child %s of %s: %w", childID, id, domain.ErrNotFound)
		}
		n, err := nodeFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("parse node %s: %w", childID, err)
		}
		r.remember(n)
		out[missing[j]] = n
	}
	return out, nil
}

func (r *Repo) cached(id string) (domoctree.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.cache[id]
	return n, ok
}

func (r *Repo) remember(n domoctree.Node) {
	r.mu.Lock()
	r.cache[n.ID] = n
	r.mu.Unlock()
}

func nodeKey(partition, id string) string {
	return "stq:" + partition + ":node:" + id
}

func rootKey(partition string) string {
	return "stq:" + partition + ":root"
}
