// Package metrics provides Prometheus-backed, nil-safe observability
// interfaces for stores and the scheduler, generalizing the teacher's
// pkg/metrics (NewCacheMetrics/NewS3Metrics, an interface-plus-registered-
// constructor indirection so pkg/metrics never imports the prometheus
// client directly) from per-share NFS/S3 metrics to per-store-tree CAS/AC
// metrics. IsEnabled/InitRegistry/GetRegistry live here rather than in
// internal/telemetry: telemetry owns tracing, metrics owns counters and
// histograms, and a deployment can enable one without the other.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and creates the Prometheus
// registry every *Metrics constructor in this package registers against.
// Must be called before any NewXMetrics constructor for metrics to be
// collected; otherwise every constructor returns nil and callers pay zero
// overhead.
func InitRegistry() *prometheus.Registry {
	enabled = true
	registry = prometheus.NewRegistry()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled
}

// GetRegistry returns the registry created by InitRegistry, or nil if
// metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
