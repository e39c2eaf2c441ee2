// Package fog runs partition queries on remote stqd nodes.
package fog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/transport/rpc"
)

// PathSSTP is the partition run endpoint of stqd.
const PathSSTP = "/api/v1/sstp"

const defaultTimeout = 5 * time.Minute

var (
	// ErrTimeout signals that a remote partition run exceeded its timeout.
	ErrTimeout = errors.New("partition run timeout")
	// ErrUnreachable signals that a remote partition node could not be reached.
	ErrUnreachable = errors.New("partition node unreachable")
)

// Config configures the client.
type Config struct {
	APIKey string
	// Timeout bounds one run attempt; a run prunes a whole partition.
	Timeout    time.Duration
	MaxRetries uint
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls remote partitions. Callers are created lazily per endpoint.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	callers map[string]*rpc.Caller
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: log, callers: make(map[string]*rpc.Caller)}
}

// Run asks the node at endpoint to prune and aggregate one partition.
func (c *Client) Run(
	ctx context.Context, endpoint string, run domquery.PartitionRun,
) (domquery.PartitionResult, error) {
	caller, err := c.caller(endpoint)
	if err != nil {
		return domquery.PartitionResult{}, err
	}
	var res domquery.PartitionResult
	if err := caller.Do(ctx, http.MethodPost, PathSSTP, run, &res); err != nil {
		return domquery.PartitionResult{}, fmt.Errorf("partition %s at %s: %w", run.Partition, endpoint, err)
	}
	if res.Partition == "" {
		res.Partition = run.Partition
	}
	return res, nil
}

func (c *Client) caller(endpoint string) (*rpc.Caller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.callers[endpoint]; ok {
		return rc, nil
	}
	rc, err := rpc.New(rpc.Config{
		BaseURL:        endpoint,
		APIKey:         c.cfg.APIKey,
		Timeout:        c.cfg.Timeout,
		MaxRetries:     c.cfg.MaxRetries,
		TimeoutErr:     ErrTimeout,
		UnreachableErr: ErrUnreachable,
		SpanPrefix:     "fog",
		HTTPClient:     c.cfg.HTTPClient,
		Hooks: rpc.Hooks{
			Retry: func(_ string, err error, wait time.Duration) {
				c.logger.Warn("retrying partition run",
					zap.String("endpoint", endpoint), zap.Duration("wait", wait), zap.Error(err))
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("partition endpoint %q: %w", endpoint, err)
	}
	c.callers[endpoint] = rc
	return rc, nil
}
