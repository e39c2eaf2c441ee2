// Package nonce records request nonces so a signed request cannot be replayed
// inside its freshness window.
package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/stquery/internal/domain"
)

type store interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Repo claims nonces with SET NX.
type Repo struct {
	store store
	ttl   time.Duration
}

// New creates a nonce repository. ttl should cover the token freshness window.
func New(s store, ttl time.Duration) *Repo {
	return &Repo{store: s, ttl: ttl}
}

// Claim records nonce for client. It fails with ErrUnauthorized when the
// nonce was already used.
func (r *Repo) Claim(ctx context.Context, client, nonce string) error {
	ok, err := r.store.SetNX(ctx, "stq:nonce:"+client+":"+nonce, []byte("1"), r.ttl)
	if err != nil {
		return fmt.Errorf("claim nonce: %w", err)
	}
	if !ok {
		return fmt.Errorf("nonce replayed: %w", domain.ErrUnauthorized)
	}
	return nil
}
