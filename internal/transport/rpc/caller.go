// Package rpc issues signed JSON requests between stquery nodes with rate
// limiting, per-attempt timeouts and exponential backoff retries.
package rpc

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

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/security"
	"github.com/kailas-cloud/stquery/internal/transport/wire"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxRetries      = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	maxErrorBody           = 64 << 10
)

// Hooks observe calls. Both fields are optional.
type Hooks struct {
	// Observe runs once per call with the final status label.
	Observe func(endpoint, status string, d time.Duration)
	// Retry runs before every retry wait.
	Retry func(endpoint string, err error, wait time.Duration)
}

// Config configures a Caller.
type Config struct {
	BaseURL string
	APIKey  string
	FogID   string
	// Signer adds the HMAC token headers when set.
	Signer *security.Signer

	// Timeout bounds a single attempt.
	Timeout    time.Duration
	MaxRetries uint
	// InitialInterval is the first retry wait.
	InitialInterval time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// TimeoutErr and UnreachableErr are wrapped into attempt failures.
	// They default to the oracle sentinels.
	TimeoutErr     error
	UnreachableErr error

	// SpanPrefix names spans "<prefix>.<endpoint>".
	SpanPrefix string
	Hooks      Hooks
	HTTPClient *http.Client
}

// Caller sends requests to one base URL.
type Caller struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a Caller.
func New(cfg Config) (*Caller, error) {
	if cfg.BaseURL == "" {
		return nil, domain.NewValidation("base_url", "is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.NewValidation("base_url", fmt.Sprintf("invalid url %q", cfg.BaseURL))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.TimeoutErr == nil {
		cfg.TimeoutErr = domain.ErrOracleTimeout
	}
	if cfg.UnreachableErr == nil {
		cfg.UnreachableErr = domain.ErrOracleUnreachable
	}
	if cfg.SpanPrefix == "" {
		cfg.SpanPrefix = "rpc"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Caller{
		cfg:     cfg,
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Caller) BaseURL() string { return c.base.String() }

// Do sends in as JSON and decodes a 2xx response into out. in and out can be nil.
// Network failures, attempt timeouts, 429 and 5xx are retried; every other
// failure is returned at once, mapped to its domain sentinel.
func (c *Caller) Do(ctx context.Context, method, path string, in, out any) (err error) {
	endpoint := strings.TrimPrefix(path, "/api/v1/")
	ctx, span := otel.Tracer("stquery.rpc").Start(ctx, c.cfg.SpanPrefix+"."+endpoint)
	span.SetAttributes(attribute.String("rpc.endpoint", endpoint), attribute.String("http.method", method))
	start := time.Now()
	defer func() {
		if c.cfg.Hooks.Observe != nil {
			c.cfg.Hooks.Observe(endpoint, statusLabel(err), time.Since(start))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body []byte
	if in != nil {
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
	}

	attempts := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, c.attempt(ctx, method, path, body, out)
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if c.cfg.Hooks.Retry != nil {
				c.cfg.Hooks.Retry(endpoint, err, wait)
			}
		}),
	)
	span.SetAttributes(attribute.Int("rpc.attempts", attempts))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	return nil
}

func (c *Caller) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = defaultMaxInterval
	return b
}

func (c *Caller) attempt(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, method, c.base.String()+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if err := c.sign(req, body); err != nil {
		return backoff.Permanent(err)
	}
	otel.GetTextMapPropagator().Inject(actx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return backoff.Permanent(context.Cause(ctx))
		case errors.Is(actx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("after %s: %w", c.cfg.Timeout, c.cfg.TimeoutErr)
		default:
			return fmt.Errorf("%w: %w", c.cfg.UnreachableErr, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if errors.Is(actx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("reading response: %w", c.cfg.TimeoutErr)
			}
			return backoff.Permanent(fmt.Errorf("decode response: %w: %w", domain.ErrDeserialization, err))
		}
		return nil
	}
	return c.statusError(resp)
}

func (c *Caller) sign(req *http.Request, body []byte) error {
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		security.SetAPIKey(req.Header, c.cfg.APIKey)
	}
	if c.cfg.FogID != "" {
		req.Header.Set(security.HeaderFogID, c.cfg.FogID)
	}
	if c.cfg.Signer == nil {
		return nil
	}
	tok, err := c.cfg.Signer.Sign(body)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	tok.Apply(req.Header)
	return nil
}

func (c *Caller) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er wire.ErrorResponse
	_ = json.Unmarshal(raw, &er)
	msg := er.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	status := resp.StatusCode

	if sentinel := wire.Sentinel(er.Code); sentinel != nil && !domain.IsOracleFailure(sentinel) {
		return backoff.Permanent(fmt.Errorf("status %d: %s: %w", status, msg, sentinel))
	}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("status %d: %s: %w", status, msg, c.cfg.UnreachableErr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("status %d: %s: %w", status, msg, domain.ErrUnauthorized))
	case status == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("status %d: %s: %w", status, msg, domain.ErrNotFound))
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return backoff.Permanent(fmt.Errorf("status %d: %s: %w", status, msg, domain.ErrValidation))
	default:
		return backoff.Permanent(fmt.Errorf("unexpected status %d: %s", status, msg))
	}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrOracleTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrOracleUnreachable):
		return "unreachable"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
