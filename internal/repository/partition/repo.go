// Package partition persists the partition registry.
package partition

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/stquery/internal/db"
	"github.com/kailas-cloud/stquery/internal/domain"
	dompartition "github.com/kailas-cloud/stquery/internal/domain/partition"
)

type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements the orchestrator's partition registry.
type Repo struct {
	store store
}

// New creates a partition repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Seed upserts the configured partitions in one round trip. Configuration
// is authoritative for every field it names.
func (r *Repo) Seed(ctx context.Context, parts []dompartition.Partition) error {
	if len(parts) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, len(parts))
	for i, p := range parts {
		if err := p.Validate(); err != nil {
			return err
		}
		items[i] = db.HashSetItem{Key: partitionKey(p.ID), Fields: toHash(p)}
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("seed partitions: %w", err)
	}
	return nil
}

// Save upserts one partition.
func (r *Repo) Save(ctx context.Context, p dompartition.Partition) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := r.store.HSet(ctx, partitionKey(p.ID), toHash(p)); err != nil {
		return fmt.Errorf("hset partition %s: %w", p.ID, err)
	}
	return nil
}

// Get returns one partition.
func (r *Repo) Get(ctx context.Context, id string) (dompartition.Partition, error) {
	m, err := r.store.HGetAll(ctx, partitionKey(id))
	if err != nil {
		return dompartition.Partition{}, fmt.Errorf("hgetall partition %s: %w", id, err)
	}
	if len(m) == 0 {
		return dompartition.Partition{}, domain.ErrNotFound
	}
	return fromHash(m)
}

// List returns all partitions sorted by id.
func (r *Repo) List(ctx context.Context) ([]dompartition.Partition, error) {
	keys, err := r.store.Scan(ctx, partitionKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan partitions: %w", err)
	}
	if len(keys) == 0 {
		return []dompartition.Partition{}, nil
	}

	results, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi partitions: %w", err)
	}

	out := make([]dompartition.Partition, 0, len(results))
	for i, m := range results {
		if len(m) == 0 {
			continue
		}
		p, err := fromHash(m)
		if err != nil {
			return nil, fmt.Errorf("parse partition %s: %w", keys[i], err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toHash(p dompartition.Partition) map[string]string {
	return map[string]string{
		"id":           p.ID,
		"endpoint":     p.Endpoint,
		"keywords":     strings.Join(p.Keywords, ","),
		"keyword_load": strconv.Itoa(p.KeywordLoad),
		"status":       string(p.Status),
	}
}

func fromHash(m map[string]string) (dompartition.Partition, error) {
	load, err := strconv.Atoi(m["keyword_load"])
	if err != nil {
		return dompartition.Partition{}, fmt.Errorf("invalid keyword_load: %w", err)
	}
	p := dompartition.Partition{
		ID:          m["id"],
		Endpoint:    m["endpoint"],
		KeywordLoad: load,
		Status:      dompartition.Status(m["status"]),
	}
	if kw := m["keywords"]; kw != "" {
		p.Keywords = strings.Split(kw, ",")
	}
	return p, nil
}

func partitionKey(id string) string {
	return "stq:partition:" + id
}
