package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_http_requests_total",
			Help: "Total number of HTTP requests by matched route.",
		},
		[]string{"method", "route", "status"},
	)
	// Run submissions hold the request open for the whole run.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlgate_http_request_duration_seconds",
			Help:    "HTTP request latency by matched route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route", "status"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_auth_failures_total",
			Help: "Rejected API credentials by reason.",
		},
		[]string{"reason"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_runs_total",
			Help: "Total number of pipeline runs by terminal status.",
		},
		[]string{"status"},
	)
	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlgate_run_duration_seconds",
			Help:    "Pipeline run duration from connection acquisition to release.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	statementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_statements_total",
			Help: "Total number of statements processed by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	admissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_admission_decisions_total",
			Help: "Total number of admission decisions.",
		},
		[]string{"decision"},
	)
	estimatedRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlgate_estimated_rows",
			Help:    "Bounded row estimates reported by plan explanation.",
			Buckets: prometheus.ExponentialBuckets(1, 10, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		authFailuresTotal,
		runsTotal,
		runDurationSeconds,
		statementsTotal,
		admissionDecisionsTotal,
		estimatedRows,
	)
}

// ObserveRun records a finished run. status is "completed" or
// "connection_failed".
func ObserveRun(status string, elapsed time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	if elapsed > 0 {
		runDurationSeconds.Observe(elapsed.Seconds())
	}
}

func ObserveStatement(kind, outcome string) {
	statementsTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveAdmission(admitted bool, rows float64, unbounded bool) {
	decision := "admitted"
	if !admitted {
		decision = "rejected"
	}
	admissionDecisionsTotal.WithLabelValues(decision).Inc()
	if !unbounded && rows >= 0 {
		estimatedRows.Observe(rows)
	}
}

// ObserveAuthFailure counts a rejected credential. reason is one of
// "missing_key", "unsupported_scheme" or "invalid_key".
func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
