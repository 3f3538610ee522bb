// Package metrics exposes Prometheus counters for the client runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts completed backend/routing calls by category and outcome
	// (ok, http_error, timeout, network_error, canceled).
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travelmate_api_requests_total",
			Help: "Outbound API requests by operation category and outcome",
		},
		[]string{"category", "outcome"},
	)

	APICacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travelmate_api_cache_hits_total",
			Help: "GET requests answered from the response cache",
		},
		[]string{"category"},
	)

	APIRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travelmate_api_rate_limited_total",
			Help: "Requests rejected by the client-side rate limiter",
		},
		[]string{"category"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "travelmate_api_request_duration_seconds",
			Help:    "Latency of outbound API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	// ErrorReports counts best-effort error reports (sent, failed, rejected).
	ErrorReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travelmate_error_reports_total",
			Help: "Client error reports sent to the backend",
		},
		[]string{"result"},
	)

	ReporterBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "travelmate_error_reporter_breaker_state",
			Help: "Error reporter circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
