// Package prometheus provides the Prometheus-backed implementations
// registered with pkg/metrics's constructor indirection, following the
// registration pattern of the teacher's (deleted) pkg/metrics/prometheus/
// {cache,s3}.go: this package imports promauto/prometheus directly so
// pkg/metrics itself doesn't have to, and installs its constructors via an
// init function.
package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/turbocache/pkg/metrics"
)

func init() {
	metrics.RegisterStoreMetricsConstructor(newStoreMetrics)
}

type storeMetrics struct {
	name string

	updateBytes    *prometheus.HistogramVec
	updateDuration *prometheus.HistogramVec
	getPartBytes   *prometheus.HistogramVec
	getPartDur     *prometheus.HistogramVec
	hasHits        *prometheus.CounterVec
	hasMisses      *prometheus.CounterVec
}

// storeVecs holds the metric vectors registered against storeVecsReg; every
// store built against that registry shares them under its own "store" label.
var (
	storeVecsMu  sync.Mutex
	storeVecs    *storeMetrics
	storeVecsReg *prometheus.Registry
)

func newStoreMetrics(name string) metrics.StoreMetrics {
	reg := metrics.GetRegistry()
	storeVecsMu.Lock()
	defer storeVecsMu.Unlock()
	if storeVecs != nil && storeVecsReg == reg {
		m := *storeVecs
		m.name = name
		return &m
	}
	storeVecsReg = reg
	storeVecs = &storeMetrics{
		name: name,
		updateBytes: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "turbocache_store_update_bytes",
			Help:    "Bytes written per store Update call, by store name.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"store"}),
		updateDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "turbocache_store_update_duration_seconds",
			Help: "Duration of store Update calls, by store name.",
		}, []string{"store"}),
		getPartBytes: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "turbocache_store_get_part_bytes",
			Help:    "Bytes read per store GetPart call, by store name.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"store"}),
		getPartDur: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "turbocache_store_get_part_duration_seconds",
			Help: "Duration of store GetPart calls, by store name.",
		}, []string{"store"}),
		hasHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "turbocache_store_has_hits_total",
			Help: "HasWithResults digests found, by store name.",
		}, []string{"store"}),
		hasMisses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "turbocache_store_has_misses_total",
			Help: "HasWithResults digests not found, by store name.",
		}, []string{"store"}),
	}
	m := *storeVecs
	return &m
}

func (m *storeMetrics) ObserveUpdate(bytes int64, duration time.Duration) {
	m.updateBytes.WithLabelValues(m.name).Observe(float64(bytes))
	m.updateDuration.WithLabelValues(m.name).Observe(duration.Seconds())
}

func (m *storeMetrics) ObserveGetPart(bytes int64, duration time.Duration) {
	m.getPartBytes.WithLabelValues(m.name).Observe(float64(bytes))
	m.getPartDur.WithLabelValues(m.name).Observe(duration.Seconds())
}

func (m *storeMetrics) RecordHasResult(hit bool) {
	if hit {
		m.hasHits.WithLabelValues(m.name).Inc()
	} else {
		m.hasMisses.WithLabelValues(m.name).Inc()
	}
}
