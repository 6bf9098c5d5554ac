package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/turbocache/pkg/metrics"
)

func init() {
	metrics.RegisterSchedulerMetricsConstructor(newSchedulerMetrics)
}

type schedulerMetrics struct {
	submitted       prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	actionDurations *prometheus.HistogramVec
}

func newSchedulerMetrics() metrics.SchedulerMetrics {
	reg := metrics.GetRegistry()
	return &schedulerMetrics{
		submitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "turbocache_scheduler_actions_submitted_total",
			Help: "Actions submitted via AddAction.",
		}),
		cacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "turbocache_scheduler_cache_lookup_hits_total",
			Help: "CacheLookupScheduler lookups that found a reusable ActionResult.",
		}),
		cacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "turbocache_scheduler_cache_lookup_misses_total",
			Help: "CacheLookupScheduler lookups that found nothing reusable.",
		}),
		actionDurations: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "turbocache_scheduler_action_duration_seconds",
			Help: "Time from action submission to a terminal state, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *schedulerMetrics) RecordActionSubmitted() { m.submitted.Inc() }

func (m *schedulerMetrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

func (m *schedulerMetrics) ObserveActionDuration(outcome string, duration time.Duration) {
	m.actionDurations.WithLabelValues(outcome).Observe(duration.Seconds())
}
