package metrics

import "time"

// StoreMetrics records observability for a store.Store decorator chain.
// Implementations can collect timing and byte-count histograms for
// Update/GetPart and hit/miss counts for HasWithResults. Pass nil to
// disable metrics collection with zero overhead.
type StoreMetrics interface {
	// ObserveUpdate records a completed Update call.
	ObserveUpdate(bytes int64, duration time.Duration)

	// ObserveGetPart records a completed GetPart call.
	ObserveGetPart(bytes int64, duration time.Duration)

	// RecordHasResult records one HasWithResults outcome per digest
	// checked: hit=true for a digest the store already had.
	RecordHasResult(hit bool)
}

// NewStoreMetrics creates a new Prometheus-backed StoreMetrics instance,
// labeled by name (the store's entry name in Config.Stores, so "cas" and
// "ac" report separately).
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics(name string) StoreMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusStoreMetrics(name)
}

// newPrometheusStoreMetrics is implemented in pkg/metrics/prometheus/store.go.
// This indirection keeps pkg/metrics free of a direct promauto dependency,
// the same way the teacher's pkg/metrics avoided importing its own
// prometheus subpackage directly.
var newPrometheusStoreMetrics func(name string) StoreMetrics

// RegisterStoreMetricsConstructor is called by
// pkg/metrics/prometheus/store.go's init to install the real constructor.
func RegisterStoreMetricsConstructor(constructor func(name string) StoreMetrics) {
	newPrometheusStoreMetrics = constructor
}

// ObserveUpdate records a store Update call if m is non-nil.
func ObserveUpdate(m StoreMetrics, bytes int64, duration time.Duration) {
	if m != nil {
		m.ObserveUpdate(bytes, duration)
	}
}

// ObserveGetPart records a store GetPart call if m is non-nil.
func ObserveGetPart(m StoreMetrics, bytes int64, duration time.Duration) {
	if m != nil {
		m.ObserveGetPart(bytes, duration)
	}
}

// RecordHasResult records a HasWithResults outcome if m is non-nil.
func RecordHasResult(m StoreMetrics, hit bool) {
	if m != nil {
		m.RecordHasResult(hit)
	}
}
