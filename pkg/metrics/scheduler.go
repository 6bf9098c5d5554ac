package metrics

import "time"

// SchedulerMetrics records observability for an ActionScheduler decorator
// chain: how many actions are submitted, how their cache lookup resolves,
// and how long they take to complete.
type SchedulerMetrics interface {
	// RecordActionSubmitted records one AddAction call.
	RecordActionSubmitted()

	// RecordCacheLookup records a CacheLookupScheduler outcome: hit=true
	// when a previously-computed ActionResult was found and reused.
	RecordCacheLookup(hit bool)

	// ObserveActionDuration records the time from submission to a
	// terminal ActionState, labeled by outcome ("success", "failure").
	ObserveActionDuration(outcome string, duration time.Duration)
}

// NewSchedulerMetrics creates a new Prometheus-backed SchedulerMetrics
// instance. Returns nil if metrics are not enabled (InitRegistry not
// called).
func NewSchedulerMetrics() SchedulerMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusSchedulerMetrics()
}

// newPrometheusSchedulerMetrics is implemented in
// pkg/metrics/prometheus/scheduler.go.
var newPrometheusSchedulerMetrics func() SchedulerMetrics

// RegisterSchedulerMetricsConstructor is called by
// pkg/metrics/prometheus/scheduler.go's init to install the real
// constructor.
func RegisterSchedulerMetricsConstructor(constructor func() SchedulerMetrics) {
	newPrometheusSchedulerMetrics = constructor
}

// RecordActionSubmitted records an AddAction call if m is non-nil.
func RecordActionSubmitted(m SchedulerMetrics) {
	if m != nil {
		m.RecordActionSubmitted()
	}
}

// RecordCacheLookup records a cache lookup outcome if m is non-nil.
func RecordCacheLookup(m SchedulerMetrics, hit bool) {
	if m != nil {
		m.RecordCacheLookup(hit)
	}
}

// ObserveActionDuration records an action's total duration if m is
// non-nil.
func ObserveActionDuration(m SchedulerMetrics, outcome string, duration time.Duration) {
	if m != nil {
		m.ObserveActionDuration(outcome, duration)
	}
}
