// Package metrics declares the Prometheus collectors for sync runs.
//
// Collectors register with the default registry through promauto, so they
// are exposed by promhttp.Handler without further wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync run metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stringplay_sync_runs_total",
			Help: "Total number of troupe syncs by final status",
		},
		[]string{"status"}, // "succeeded", "failed", "locked"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stringplay_sync_duration_seconds",
			Help:    "Duration of troupe syncs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncLockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stringplay_sync_lock_contention_total",
			Help: "Total number of syncs rejected because the troupe was locked",
		},
	)

	// Discovery metrics
	DiscoveredEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stringplay_discovered_events_total",
			Help: "Total number of candidate event files seen during folder traversal",
		},
		[]string{"outcome"}, // "new", "known", "quota_skipped"
	)

	FolderListFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stringplay_folder_list_failures_total",
			Help: "Total number of folder listings that failed and were dropped",
		},
	)

	// Audience metrics
	DelegateCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stringplay_delegate_calls_total",
			Help: "Total number of audience delegate calls by source kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "success", "failure"
	)

	// Source guard metrics
	SourceBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stringplay_source_breaker_state",
			Help: "Circuit breaker state of a guarded source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stringplay_source_requests_total",
			Help: "Total number of guarded source requests by operation and result",
		},
		[]string{"operation", "result"}, // result: "success", "failure", "rejected"
	)
)

// RecordSync records the outcome and duration of one sync.
func RecordSync(status string, seconds float64) {
	SyncRuns.WithLabelValues(status).Inc()
	SyncDuration.Observe(seconds)
}

// RecordDelegateCall records one audience delegate call.
func RecordDelegateCall(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	DelegateCalls.WithLabelValues(kind, outcome).Inc()
}
