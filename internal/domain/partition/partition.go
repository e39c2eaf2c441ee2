// Package partition describes the fog storage partitions a keyword is sharded to.
package partition

import (
	"slices"
	"sort"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Status is the availability of a partition.
type Status string

const (
	// StatusOnline partitions take queries.
	StatusOnline Status = "online"
	// StatusOffline partitions are skipped.
	StatusOffline Status = "offline"
)

// Partition is one fog storage node. An empty Endpoint means the partition
// is served from the local store.
type Partition struct {
	ID          string   `json:"id"`
	Endpoint    string   `json:"endpoint,omitempty"`
	Keywords    []string `json:"keywords"`
	KeywordLoad int      `json:"keyword_load"`
	Status      Status   `json:"status"`
}

// IsLocal reports whether the partition is served in process.
func (p Partition) IsLocal() bool { return p.Endpoint == "" }

// Serves reports whether the partition is online and holds the keyword.
func (p Partition) Serves(keyword string) bool {
	return p.Status == StatusOnline && slices.Contains(p.Keywords, keyword)
}

// Validate checks required fields.
func (p Partition) Validate() error {
	if p.ID == "" {
		return domain.NewValidation("partition.id", "is required")
	}
	if p.Status != StatusOnline && p.Status != StatusOffline {
		return domain.NewValidation("partition.status", "must be online or offline")
	}
	return nil
}

// Select returns the partitions serving keyword, least loaded first.
func Select(all []Partition, keyword string) []Partition {
	var out []Partition
	for _, p := range all {
		if p.Serves(keyword) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].KeywordLoad < out[j].KeywordLoad })
	return out
}
