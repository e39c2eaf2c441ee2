// Package points stores the encrypted trajectory points of each octree leaf,
// keyed by (keyword, node).
package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/db"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
	"github.com/kailas-cloud/stquery/internal/logger"
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

// Codec converts ciphertexts to and from their text form.
type Codec interface {
	EncodeString(v crypto.EncryptedValue) (string, error)
	DecodeString(s string) (crypto.EncryptedValue, error)
}

// row is the stored form of one point.
type row struct {
	TrajID    string `json:"traj_id"`
	Date      string `json:"date"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Time      string `json:"time"`
}

// Repo reads and writes leaf points of one partition.
type Repo struct {
	store     store
	codec     Codec
	partition string
}

// New creates a points repository.
func New(s store, codec Codec, partition string) *Repo {
	return &Repo{store: s, codec: codec, partition: partition}
}

// Save replaces the points stored for (keyword, nodeID).
func (r *Repo) Save(ctx context.Context, keyword, nodeID string, points []trajectory.Point) error {
	if keyword == "" || nodeID == "" {
		return domain.NewValidation("points", "keyword and node id are required")
	}
	rows := make([]row, len(points))
	for i, p := range points {
		fields := []struct {
			dst *string
			v   crypto.EncryptedValue
		}{
			{&rows[i].TrajID, p.TrajID},
			{&rows[i].Date, p.Date},
			{&rows[i].Latitude, p.Latitude},
			{&rows[i].Longitude, p.Longitude},
			{&rows[i].Time, p.Time},
		}
		for _, f := range fields {
			s, err := r.codec.EncodeString(f.v)
			if err != nil {
				return fmt.Errorf("encode point %d: %w", i, err)
			}
			*f.dst = s
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal points: %w", err)
	}
	if err := r.store.Set(ctx, pointsKey(r.partition, keyword, nodeID), data); err != nil {
		return fmt.Errorf("set points %s/%s: %w", keyword, nodeID, err)
	}
	return nil
}

// Points returns the points of (keyword, nodeID), or ErrNotFound when none
// were stored. A point whose ciphertexts cannot be decoded is returned with
// those fields empty, so callers skip it without losing its neighbours.
func (r *Repo) Points(ctx context.Context, keyword, nodeID string) ([]trajectory.Point, error) {
	data, err := r.store.Get(ctx, pointsKey(r.partition, keyword, nodeID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("points %s/%s: %w", keyword, nodeID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get points %s/%s: %w", keyword, nodeID, err)
	}

	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("points %s/%s: %w: %w", keyword, nodeID, domain.ErrDeserialization, err)
	}

	out := make([]trajectory.Point, len(rows))
	for i, rw := range rows {
		p, err := r.decode(rw)
		if err != nil {
			logger.FromContext(ctx).Warn("corrupt stored point",
				zap.String("keyword", keyword), zap.String("node_id", nodeID), zap.Int("index", i), zap.Error(err))
		}
		out[i] = p
	}
	return out, nil
}

// Delete removes the points of (keyword, nodeID).
func (r *Repo) Delete(ctx context.Context, keyword, nodeID string) error {
	if err := r.store.Del(ctx, pointsKey(r.partition, keyword, nodeID)); err != nil {
		return fmt.Errorf("del points %s/%s: %w", keyword, nodeID, err)
	}
	return nil
}

func (r *Repo) decode(rw row) (trajectory.Point, error) {
	var p trajectory.Point
	var errs []error
	for _, f := range []struct {
		dst *crypto.EncryptedValue
		s   string
	}{
		{&p.TrajID, rw.TrajID},
		{&p.Date, rw.Date},
		{&p.Latitude, rw.Latitude},
		{&p.Longitude, rw.Longitude},
		{&p.Time, rw.Time},
	} {
		v, err := r.codec.DecodeString(f.s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
	}
	return p, errors.Join(errs...)
}

func pointsKey(partition, keyword, nodeID string) string {
	return "stq:" + partition + ":points:" + keyword + ":" + nodeID
}
