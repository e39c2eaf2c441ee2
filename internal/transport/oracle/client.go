// Package oracle is the HTTP client of the decryption oracle.
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	domoracle "github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/metrics"
	"github.com/kailas-cloud/stquery/internal/security"
	"github.com/kailas-cloud/stquery/internal/transport/rpc"
)

// Oracle API paths.
const (
	PathCheckRange        = "/api/v1/check-range"
	PathCheckFullyCovered = "/api/v1/check-fully-covered"
	PathVerifyPoints      = "/api/v1/verify-points-in-range"
	PathDecrypt           = "/api/v1/decrypt"
	PathCTKResults        = "/api/v1/ctk-results"
	PathHealth            = "/health"
)

// Config configures the oracle client.
type Config struct {
	BaseURL string
	APIKey  string
	FogID   string
	// Secret is the shared HMAC secret; empty disables request signing.
	Secret     string
	Timeout    time.Duration
	MaxRetries uint
	RateLimit  float64
	Burst      int
	HTTPClient *http.Client
}

// Client talks to one oracle.
type Client struct {
	rpc *rpc.Caller
}

// New creates an oracle client.
func New(cfg Config) (*Client, error) {
	var signer *security.Signer
	if cfg.Secret != "" {
		s, err := security.NewSigner(cfg.Secret, 0)
		if err != nil {
			return nil, fmt.Errorf("oracle signer: %w", err)
		}
		signer = s
	}
	caller, err := rpc.New(rpc.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		FogID:      cfg.FogID,
		Signer:     signer,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
		SpanPrefix: "oracle",
		HTTPClient: cfg.HTTPClient,
		Hooks: rpc.Hooks{
			Observe: func(endpoint, status string, d time.Duration) {
				metrics.OracleRequestsTotal.WithLabelValues(endpoint, status).Inc()
				metrics.OracleRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
			},
			Retry: func(endpoint string, _ error, _ time.Duration) {
				metrics.OracleRetriesTotal.WithLabelValues(endpoint).Inc()
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle client: %w", err)
	}
	return &Client{rpc: caller}, nil
}

// CheckRange asks whether every blinded diff holds.
func (c *Client) CheckRange(
	ctx context.Context, req domoracle.CheckRangeRequest,
) (domoracle.CheckRangeResponse, error) {
	var resp domoracle.CheckRangeResponse
	err := c.rpc.Do(ctx, http.MethodPost, PathCheckRange, req, &resp)
	return resp, err
}

// CheckFullyCovered asks whether a node box lies strictly inside the query box.
func (c *Client) CheckFullyCovered(
	ctx context.Context, req domoracle.FullyCoveredRequest,
) (domoracle.FullyCoveredResponse, error) {
	var resp domoracle.FullyCoveredResponse
	err := c.rpc.Do(ctx, http.MethodPost, PathCheckFullyCovered, req, &resp)
	return resp, err
}

// VerifyPoints sends one leaf's point checks as a single batch.
func (c *Client) VerifyPoints(
	ctx context.Context, req domoracle.VerifyPointsRequest,
) (domoracle.VerifyPointsResponse, error) {
	var resp domoracle.VerifyPointsResponse
	err := c.rpc.Do(ctx, http.MethodPost, PathVerifyPoints, req, &resp)
	return resp, err
}

// Decrypt asks for plaintexts of final trajectory ids and dates.
func (c *Client) Decrypt(ctx context.Context, req domoracle.DecryptRequest) (domoracle.DecryptResponse, error) {
	var resp domoracle.DecryptResponse
	if err := c.rpc.Do(ctx, http.MethodPost, PathDecrypt, req, &resp); err != nil {
		return domoracle.DecryptResponse{}, err
	}
	if len(resp.Values) != len(req.Values) {
		return domoracle.DecryptResponse{}, fmt.Errorf("decrypt: got %d values for %d ciphertexts",
			len(resp.Values), len(req.Values))
	}
	return resp, nil
}

// ReceiveCTK delivers the merged candidate map of a finished query.
func (c *Client) ReceiveCTK(ctx context.Context, d domoracle.CTKDelivery) error {
	return c.rpc.Do(ctx, http.MethodPost, PathCTKResults, d, nil)
}

// CTK fetches a previously delivered candidate map.
func (c *Client) CTK(ctx context.Context, queryID string) (domoracle.CTKDelivery, error) {
	var d domoracle.CTKDelivery
	err := c.rpc.Do(ctx, http.MethodGet, PathCTKResults+"/"+url.PathEscape(queryID), nil, &d)
	return d, err
}

// HealthCheck reports whether the oracle answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rpc.Do(ctx, http.MethodGet, PathHealth, nil, nil)
}
