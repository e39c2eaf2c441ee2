// Package ingest turns plaintext datasets and query bounds into their
// encrypted form: the loader fills a partition, EncryptQuery builds a
// submittable query.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/geo"
	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
	"github.com/kailas-cloud/stquery/internal/logger"
)

// DefaultWorkers bounds leaves encrypted concurrently.
const DefaultWorkers = 4

// PlainPoint is one trajectory sample before encryption. Latitude and
// longitude are degrees. Time is seconds since midnight and feeds the point
// box; Date is the sample instant and feeds the time-span check.
type PlainPoint struct {
	Keyword   string    `json:"keyword"`
	NodeID    string    `json:"node_id"`
	TrajID    int64     `json:"traj_id"`
	Date      Timestamp `json:"date"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Time      int64     `json:"time"`
}

// Dataset is the plaintext content of one partition.
type Dataset struct {
	Nodes  []octree.Node `json:"nodes"`
	Points []PlainPoint  `json:"points"`
}

// Stats summarizes a load.
type Stats struct {
	Nodes  int
	Leaves int
	Points int
}

// Loader writes a dataset into one partition.
type Loader struct {
	enc     Encryptor
	tree    TreeWriter
	points  PointWriter
	workers int
}

// New creates a Loader.
func New(enc Encryptor, tree TreeWriter, points PointWriter, workers int) *Loader {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Loader{enc: enc, tree: tree, points: points, workers: workers}
}

type leafKey struct {
	keyword string
	nodeID  string
}

// Load validates the dataset, stores the tree, then encrypts and stores the
// points grouped by (keyword, leaf). Points must reference existing leaves.
func (l *Loader) Load(ctx context.Context, ds Dataset) (Stats, error) {
	leaves := make(map[string]bool, len(ds.Nodes))
	for _, n := range ds.Nodes {
		leaves[n.ID] = n.IsLeaf
	}

	groups := make(map[leafKey][]PlainPoint)
	for i, p := range ds.Points {
		if p.Keyword == "" {
			return Stats{}, domain.NewValidation("points", fmt.Sprintf("point %d: keyword is required", i))
		}
		isLeaf, ok := leaves[p.NodeID]
		if !ok || !isLeaf {
			return Stats{}, domain.NewValidation("points", fmt.Sprintf("point %d: %q is not a leaf", i, p.NodeID))
		}
		if err := geo.ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
			return Stats{}, fmt.Errorf("point %d: %w", i, err)
		}
		if p.Time < 0 || p.Time >= SecondsPerDay {
			return Stats{}, domain.NewValidation("points", fmt.Sprintf("point %d: time %d is not a time of day", i, p.Time))
		}
		if p.Date.IsZero() {
			return Stats{}, domain.NewValidation("points", fmt.Sprintf("point %d: date is required", i))
		}
		k := leafKey{keyword: p.Keyword, nodeID: p.NodeID}
		groups[k] = append(groups[k], p)
	}

	if err := l.tree.Save(ctx, ds.Nodes); err != nil {
		return Stats{}, fmt.Errorf("save tree: %w", err)
	}

	keys := make([]leafKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].keyword != keys[j].keyword {
			return keys[i].keyword < keys[j].keyword
		}
		return keys[i].nodeID < keys[j].nodeID
	})

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for _, k := range keys {
		g.Go(func() error {
			enc, err := l.encryptPoints(groups[k])
			if err != nil {
				return fmt.Errorf("encrypt %s/%s: %w", k.keyword, k.nodeID, err)
			}
			if err := l.points.Save(gctx, k.keyword, k.nodeID, enc); err != nil {
				return fmt.Errorf("save %s/%s: %w", k.keyword, k.nodeID, err)
			}
			written.Add(int64(len(enc)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{Nodes: len(ds.Nodes), Leaves: len(keys), Points: int(written.Load())}
	logger.FromContext(ctx).Info("dataset loaded",
		zap.Int("nodes", stats.Nodes), zap.Int("leaves", stats.Leaves), zap.Int("points", stats.Points))
	return stats, nil
}

func (l *Loader) encryptPoints(in []PlainPoint) ([]trajectory.Point, error) {
	out := make([]trajectory.Point, len(in))
	for i, p := range in {
		var err error
		if out[i].TrajID, err = l.enc.Encrypt(p.TrajID); err != nil {
			return nil, err
		}
		if out[i].Date, err = l.enc.Encrypt(p.Date.Seconds(p.Time)); err != nil {
			return nil, err
		}
		if out[i].Latitude, err = l.enc.Encrypt(geo.ToFixed(p.Latitude)); err != nil {
			return nil, err
		}
		if out[i].Longitude, err = l.enc.Encrypt(geo.ToFixed(p.Longitude)); err != nil {
			return nil, err
		}
		if out[i].Time, err = l.enc.Encrypt(p.Time); err != nil {
			return nil, err
		}
	}
	return out, nil
}
