package metrics

import "github.com/prometheus/client_golang/prometheus"

// Decryption oracle Prometheus metrics. Client-side series are recorded by
// the query node, server-side series by the oracle.
var (
	OracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oracle_requests_total",
			Help:      "Oracle round trips issued by the query node",
		},
		[]string{"endpoint", "status"},
	)

	OracleRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Oracle round trip duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	OracleRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oracle_retries_total",
			Help:      "Oracle round trip retries",
		},
		[]string{"endpoint"},
	)

	OracleDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oracle_decisions_total",
			Help:      "Sign decisions served by the oracle",
		},
		[]string{"endpoint", "result"},
	)

	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected oracle requests by reason",
		},
		[]string{"reason"},
	)
)

var oracleMetricsRegistered bool

// RegisterOracleMetrics registers oracle metrics. Must be called once from main.
func RegisterOracleMetrics() {
	if oracleMetricsRegistered {
		return
	}
	prometheus.MustRegister(OracleRequestsTotal)
	prometheus.MustRegister(OracleRequestDuration)
	prometheus.MustRegister(OracleRetriesTotal)
	prometheus.MustRegister(OracleDecisionsTotal)
	prometheus.MustRegister(AuthFailuresTotal)
	oracleMetricsRegistered = true
}
