// Package metrics holds the prometheus collectors of the control plane. They
// are registered on the default registry and served by the API at /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noc",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider API requests by method and status class.",
	}, []string{"method", "class"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "noc",
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Provider API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noc",
		Subsystem: "inventory",
		Name:      "sync_runs_total",
		Help:      "Account inventory syncs by outcome.",
	}, []string{"status"})

	AssetsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noc",
		Subsystem: "inventory",
		Name:      "assets_upserted_total",
		Help:      "Assets written by sync, per asset type.",
	}, []string{"type"})

	AssetsPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noc",
		Subsystem: "inventory",
		Name:      "assets_pruned_total",
		Help:      "Assets deleted by prune-by-absence, per asset type.",
	}, []string{"type"})

	SnapshotRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noc",
		Subsystem: "snapshot",
		Name:      "runs_total",
		Help:      "Snapshot runs by run type and outcome.",
	}, []string{"run_type", "status"})

	RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "noc",
		Subsystem: "snapshot",
		Name:      "retention_deleted_total",
		Help:      "Snapshots deleted by retention pruning.",
	})
)

// StatusClass maps an HTTP status to "2xx".."5xx", or "error" for 0.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
