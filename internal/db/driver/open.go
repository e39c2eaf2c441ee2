// Package driver opens the configured db.Store implementation.
package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/config"
	"github.com/kailas-cloud/stquery/internal/db"
	"github.com/kailas-cloud/stquery/internal/db/badger"
	"github.com/kailas-cloud/stquery/internal/db/redis"
)

const badgerGCInterval = 10 * time.Minute

// Open creates the store named by cfg.Driver and waits until it answers.
// Redis and Valkey share the rueidis implementation. A badger store without
// a path lives in memory.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Driver {
	case "redis", "valkey":
		store, err = redis.NewStore(redis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	case "badger":
		store, err = badger.Open(badger.Config{
			Path:       cfg.Path,
			InMemory:   cfg.Path == "",
			GCInterval: badgerGCInterval,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if err := store.WaitForReady(ctx, config.Duration(cfg.ReadinessTimeout)); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s not ready: %w", cfg.Driver, err)
	}
	return store, nil
}
