package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kailas-cloud/stquery/internal/security"
	"github.com/kailas-cloud/stquery/internal/transport/wire"
)

const defaultTimeout = 5 * time.Minute

// Client talks to one stqd node.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	obs    *observer
}

// New creates a Client for the node at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{timeout: defaultTimeout}
	for _, o := range opts {
		o.apply(cfg)
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("stq client: invalid base url %q", baseURL)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}
	return &Client{base: u, apiKey: cfg.apiKey, http: hc, obs: obs}, nil
}

// Queries returns the query service.
func (c *Client) Queries() *QueryService { return &QueryService{c: c} }

// Partitions returns the partition registry service.
func (c *Client) Partitions() *PartitionService { return &PartitionService{c: c} }

// Health reports node health. A degraded node answers 503 with a body, so
// the status is returned together with the error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var h HealthStatus
	status, body, err := c.roundTrip(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return h, fmt.Errorf("decode health: %w", err)
	}
	if status != http.StatusOK {
		return h, &APIError{Status: status, Code: wire.CodeInternal, Message: "node is " + h.Status}
	}
	return h, nil
}

// do sends in as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() { c.obs.observe(op, start, err) }()

	status, body, err := c.roundTrip(ctx, method, path, in)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return decodeError(status, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		security.SetAPIKey(req.Header, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeError(status int, body []byte) error {
	var er wire.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code == "" {
		return &APIError{Status: status, Code: wire.CodeInternal, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{Status: status, Code: er.Code, Message: er.Message}
}

// IsNotFound reports whether err is a 404 from the node.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
