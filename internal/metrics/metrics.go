// Package metrics holds the Prometheus collectors for the pipeline.
//
// Collection runs are batch jobs, so nothing is served over HTTP. When a
// textfile path is configured the CLI writes the default registry in the
// Prometheus text format after each run (node_exporter textfile collector).
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchRequestsTotal counts adapter HTTP requests by platform and status class.
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artistdata_fetch_requests_total",
			Help: "Total number of platform API requests",
		},
		[]string{"platform", "status"},
	)

	// FetchRequestDuration tracks adapter request latency.
	FetchRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artistdata_fetch_request_duration_seconds",
			Help:    "Duration of platform API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// FetchOutcomesTotal counts per-artist fetch outcomes after retries.
	FetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artistdata_fetch_outcomes_total",
			Help: "Per-artist fetch outcomes (success, retry, failure, breaker_open, profile_failure)",
		},
		[]string{"platform", "outcome"},
	)

	// BreakerState exposes the circuit breaker state per platform
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "artistdata_breaker_state",
			Help: "Circuit breaker state per platform (0=closed, 1=half-open, 2=open)",
		},
		[]string{"platform"},
	)

	// ObservationsTotal counts recorded raw observations.
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artistdata_observations_total",
			Help: "Raw observations recorded by platform and fetch status",
		},
		[]string{"platform", "fetch_status"},
	)

	// FieldsDroppedTotal counts payload fields dropped during normalization.
	FieldsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artistdata_fields_dropped_total",
			Help: "Payload fields dropped during normalization",
		},
		[]string{"platform", "metric"},
	)

	// MergedFieldsTotal counts canonical fields written by the merge engine.
	MergedFieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artistdata_merged_fields_total",
			Help: "Canonical record fields written",
		},
		[]string{"metric"},
	)

	// IdentityResolutionsTotal counts resolver outcomes.
	IdentityResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artistdata_identity_resolutions_total",
			Help: "Identity resolutions by outcome (existing, matched, created, ambiguous)",
		},
		[]string{"outcome"},
	)

	// RunsTotal counts closed workflow runs by kind and terminal status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artistdata_runs_total",
			Help: "Closed workflow runs by kind and status",
		},
		[]string{"kind", "status"},
	)

	// RunDuration tracks workflow run wall time.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artistdata_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)
)

// ObserveRequest records one adapter HTTP request.
func ObserveRequest(platform string, statusCode int, d time.Duration) {
	FetchRequestsTotal.WithLabelValues(platform, statusClass(statusCode)).Inc()
	FetchRequestDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}

// WriteTextfile writes the default registry to path in the text exposition
// format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
