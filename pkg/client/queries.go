package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kailas-cloud/stquery/internal/security"
)

// ErrQueryFailed is returned by Submit with Wait when the query finished in
// the failed state. The returned status carries the reason.
var ErrQueryFailed = errors.New("query failed")

// QueryService submits and follows queries.
type QueryService struct {
	c *Client
}

// Submit sends an encrypted query. Without Wait the returned status is pending.
func (s *QueryService) Submit(ctx context.Context, q Query, opts ...SubmitOption) (QueryStatus, error) {
	var cfg submitConfig
	for _, o := range opts {
		o(&cfg)
	}
	path := "/api/v1/queries"
	if cfg.wait {
		path += "?wait=true"
	}

	start := time.Now()
	st, err := s.submit(ctx, path, q)
	s.c.obs.observe("submit", start, err)
	return st, err
}

func (s *QueryService) submit(ctx context.Context, path string, q Query) (QueryStatus, error) {
	status, body, err := s.c.roundTrip(ctx, http.MethodPost, path, q)
	if err != nil {
		return QueryStatus{}, err
	}
	var st QueryStatus
	switch {
	case status == http.StatusOK || status == http.StatusAccepted:
		if err := json.Unmarshal(body, &st); err != nil {
			return st, fmt.Errorf("decode submit response: %w", err)
		}
		return st, nil
	case status == http.StatusUnprocessableEntity && json.Unmarshal(body, &st) == nil && st.ID != "":
		return st, fmt.Errorf("query %s: %w: %s", st.ID, ErrQueryFailed, st.Error)
	default:
		return QueryStatus{}, decodeError(status, body)
	}
}

// Get returns the current status of a query.
func (s *QueryService) Get(ctx context.Context, id string) (QueryStatus, error) {
	var st QueryStatus
	err := s.c.do(ctx, "get", http.MethodGet, "/api/v1/queries/"+url.PathEscape(id), nil, &st)
	return st, err
}

// Cancel stops a running query.
func (s *QueryService) Cancel(ctx context.Context, id string) error {
	return s.c.do(ctx, "cancel", http.MethodDelete, "/api/v1/queries/"+url.PathEscape(id), nil, nil)
}

// Poll calls Get every interval until the query is terminal or ctx ends.
func (s *QueryService) Poll(ctx context.Context, id string, interval time.Duration) (QueryStatus, error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st, err := s.Get(ctx, id)
		if err != nil || st.Done() {
			return st, err
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
	}
}

// Events streams the events of a query to fn until the node closes the
// stream, fn returns an error or ctx ends.
func (s *QueryService) Events(ctx context.Context, id string, fn func(Event) error) (err error) {
	start := time.Now()
	defer func() { s.c.obs.observe("events", start, err) }()

	u := *s.c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path += "/api/v1/queries/" + url.PathEscape(id) + "/events"

	header := http.Header{}
	if s.c.apiKey != "" {
		security.SetAPIKey(header, s.c.apiKey)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			var body [4096]byte
			n, _ := resp.Body.Read(body[:])
			return decodeError(resp.StatusCode, body[:n])
		}
		return fmt.Errorf("dial events: %w", err)
	}
	defer func() { _ = ws.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		var e Event
		if err := ws.ReadJSON(&e); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
