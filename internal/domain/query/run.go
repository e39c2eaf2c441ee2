package query

import (
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
)

// PartitionRun asks one partition to prune and aggregate a query.
type PartitionRun struct {
	QueryID   string `json:"query_id"`
	Partition string `json:"partition"`
	Query     Query  `json:"query"`
}

// Validate checks the run before any traversal starts.
func (r PartitionRun) Validate() error {
	if r.QueryID == "" {
		return domain.NewValidation("query_id", "is required")
	}
	return r.Query.Validate()
}

// PartitionResult is the CTK produced by one partition.
type PartitionResult struct {
	Partition  string   `json:"partition"`
	CTK        ctk.Tree `json:"ctk"`
	Candidates int      `json:"candidates"`
	Included   int      `json:"included"`
	Excluded   int      `json:"excluded"`
	Skipped    int      `json:"skipped"`
}
