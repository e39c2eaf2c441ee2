// Package request persists query lifecycle state as one hash per query.
package request

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/stquery/internal/domain"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
)

type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Repo implements usecase/query.Requests.
type Repo struct {
	store store
}

// New creates a request repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Save writes the full request state.
func (r *Repo) Save(ctx context.Context, req *domquery.Request) error {
	m, err := toHash(req)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, requestKey(req.ID), m); err != nil {
		return fmt.Errorf("hset query %s: %w", req.ID, err)
	}
	return nil
}

// Get returns a request by id.
func (r *Repo) Get(ctx context.Context, id string) (*domquery.Request, error) {
	m, err := r.store.HGetAll(ctx, requestKey(id))
	if err != nil {
		return nil, fmt.Errorf("hgetall query %s: %w", id, err)
	}
	if len(m) == 0 {
		return nil, domain.ErrNotFound
	}
	req, err := fromHash(m)
	if err != nil {
		return nil, fmt.Errorf("parse query %s: %w", id, err)
	}
	return req, nil
}

func toHash(req *domquery.Request) (map[string]string, error) {
	regions := make([]string, len(req.Regions))
	for i, rid := range req.Regions {
		regions[i] = strconv.Itoa(rid)
	}
	trajectories := req.Trajectories
	if trajectories == nil {
		trajectories = []string{}
	}
	trajJSON, err := json.Marshal(trajectories)
	if err != nil {
		return nil, fmt.Errorf("marshal trajectories: %w", err)
	}
	return map[string]string{
		"id":           req.ID,
		"keyword":      req.Keyword,
		"algorithm":    string(req.Algorithm),
		"regions":      strings.Join(regions, ","),
		"status":       string(req.Status),
		"trajectories": string(trajJSON),
		"error":        req.Error,
		"reason":       string(req.Reason),
		"created_at":   strconv.FormatInt(req.CreatedAt.UnixNano(), 10),
		"updated_at":   strconv.FormatInt(req.UpdatedAt.UnixNano(), 10),
	}, nil
}

func fromHash(m map[string]string) (*domquery.Request, error) {
	req := &domquery.Request{
		ID:        m["id"],
		Keyword:   m["keyword"],
		Algorithm: domquery.Algorithm(m["algorithm"]),
		Status:    domquery.Status(m["status"]),
		Error:     m["error"],
		Reason:    domquery.FailReason(m["reason"]),
	}
	if s := m["regions"]; s != "" {
		for _, part := range strings.Split(s, ",") {
			rid, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid region %q: %w", part, err)
			}
			req.Regions = append(req.Regions, rid)
		}
	}
	if s := m["trajectories"]; s != "" {
		if err := json.Unmarshal([]byte(s), &req.Trajectories); err != nil {
			return nil, fmt.Errorf("unmarshal trajectories: %w", err)
		}
	}
	for _, f := range []struct {
		name string
		dst  *time.Time
	}{{"created_at", &req.CreatedAt}, {"updated_at", &req.UpdatedAt}} {
		ns, err := strconv.ParseInt(m[f.name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = time.Unix(0, ns).UTC()
	}
	return req, nil
}

func requestKey(id string) string {
	return "stq:query:" + id
}
