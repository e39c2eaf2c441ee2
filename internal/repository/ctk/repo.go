// Package ctk keeps the candidate maps delivered to the oracle.
package ctk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/stquery/internal/db"
	"github.com/kailas-cloud/stquery/internal/domain"
	domoracle "github.com/kailas-cloud/stquery/internal/domain/oracle"
)

// DefaultTTL bounds how long a delivered map is retrievable.
const DefaultTTL = 24 * time.Hour

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Repo implements usecase/oracle.CTKStore.
type Repo struct {
	store store
	ttl   time.Duration
}

// New creates a CTK repository. A non-positive ttl uses DefaultTTL.
func New(s store, ttl time.Duration) *Repo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repo{store: s, ttl: ttl}
}

// Save stores a delivery; a second delivery for the same query replaces it.
func (r *Repo) Save(ctx context.Context, d domoracle.CTKDelivery) error {
	if d.QueryID == "" {
		return domain.NewValidation("query_id", "is required")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal ctk: %w", err)
	}
	if err := r.store.SetWithTTL(ctx, ctkKey(d.QueryID), data, r.ttl); err != nil {
		return fmt.Errorf("set ctk %s: %w", d.QueryID, err)
	}
	return nil
}

// Get returns the delivery for queryID.
func (r *Repo) Get(ctx context.Context, queryID string) (domoracle.CTKDelivery, error) {
	data, err := r.store.Get(ctx, ctkKey(queryID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domoracle.CTKDelivery{}, domain.ErrNotFound
		}
		return domoracle.CTKDelivery{}, fmt.Errorf("get ctk %s: %w", queryID, err)
	}
	var d domoracle.CTKDelivery
	if err := json.Unmarshal(data, &d); err != nil {
		return domoracle.CTKDelivery{}, fmt.Errorf("ctk %s: %w: %w", queryID, domain.ErrDeserialization, err)
	}
	return d, nil
}

func ctkKey(queryID string) string {
	return "stq:ctk:" + queryID
}
