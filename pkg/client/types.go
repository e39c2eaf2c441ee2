package client

import (
	"time"

	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	"github.com/kailas-cloud/stquery/internal/domain/query"
)

type (
	// Query is an encrypted logical query.
	Query = query.Query
	// Event is one step of a running query.
	Event = event.Event
	// Partition is a registered storage partition.
	Partition = partition.Partition
)

// QueryStatus is the state of a submitted query.
type QueryStatus struct {
	ID           string    `json:"id"`
	Keyword      string    `json:"keyword"`
	Algorithm    string    `json:"algorithm"`
	Regions      []int     `json:"regions"`
	Status       string    `json:"status"`
	Trajectories []string  `json:"trajectories"`
	Error        string    `json:"error,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Done reports whether the query reached a terminal state.
func (s QueryStatus) Done() bool {
	return query.Status(s.Status).IsTerminal()
}

// HealthStatus represents the aggregated node health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok", "degraded", "error"
	Checks map[string]string `json:"checks"` // component → "ok"/"error"
}
