package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Decision reasons. Conservative fallbacks stay distinguishable from genuine
// out-of-range answers.
const (
	ReasonInRange           = "in_range"
	ReasonOutOfRange        = "out_of_range"
	ReasonOracleTimeout     = "oracle_timeout"
	ReasonOracleUnreachable = "oracle_unreachable"
	ReasonDeserialization   = "deserialization"
	ReasonError             = "error"
)

// Query engine Prometheus metrics.
var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queries_total",
			Help:      "Total number of logical queries by final status and failure reason",
		},
		[]string{"algorithm", "status", "reason"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "query_duration_seconds",
			Help:      "Logical query duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"algorithm"},
	)

	NodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "octree_nodes_total",
			Help:      "Octree nodes by terminal traversal state",
		},
		[]string{"state"},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decisions_total",
			Help:      "Secure comparison decisions by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	PointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "points_total",
			Help:      "Trajectory points by aggregation result",
		},
		[]string{"result"},
	)

	PartitionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "partition_runs_total",
			Help:      "Partition runs by mode (local/remote) and status",
		},
		[]string{"mode", "status"},
	)
)

var queryMetricsRegistered bool

// RegisterQueryMetrics registers query engine metrics. Must be called once from main.
func RegisterQueryMetrics() {
	if queryMetricsRegistered {
		return
	}
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(PointsTotal)
	prometheus.MustRegister(PartitionRunsTotal)
	queryMetricsRegistered = true
}

// Reason maps a decision outcome to its label value.
func Reason(ok bool, err error) string {
	switch {
	case err == nil && ok:
		return ReasonInRange
	case err == nil:
		return ReasonOutOfRange
	case errors.Is(err, domain.ErrOracleTimeout):
		return ReasonOracleTimeout
	case errors.Is(err, domain.ErrOracleUnreachable):
		return ReasonOracleUnreachable
	case errors.Is(err, domain.ErrDeserialization):
		return ReasonDeserialization
	default:
		return ReasonError
	}
}
