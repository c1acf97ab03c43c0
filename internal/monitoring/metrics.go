package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds the Prometheus collectors for the sync pipeline. A nil
// *Metrics records nothing, so callers never guard their calls.
type Metrics struct {
	rateLimitDenied    *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	circuitTransitions *prometheus.CounterVec
	syncRequests       *prometheus.CounterVec
	targetSyncDuration *prometheus.HistogramVec
}

// New builds and registers the collectors on the default registry.
// Collectors that are already registered are reused, so repeated calls
// (tests wiring several instances) are safe.
func New() *Metrics {
	m := &Metrics{
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Subsystem: "sync",
			Name:      "rate_limit_denied_total",
			Help:      "Requests refused by the rate limiter",
		}, []string{"route", "key_kind"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Subsystem: "sync",
			Name:      "validation_failures_total",
			Help:      "Webhooks rejected by the validator, by failure kind",
		}, []string{"kind"}),
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Subsystem: "sync",
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions, by target and new state",
		}, []string{"target", "to"}),
		syncRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Subsystem: "sync",
			Name:      "requests_total",
			Help:      "Sync requests handled, by action and response status",
		}, []string{"action", "status"}),
		targetSyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hermes",
			Subsystem: "sync",
			Name:      "target_sync_duration_seconds",
			Help:      "Latency of per-target sync calls, retries included",
			Buckets:   durationBuckets,
		}, []string{"target", "outcome"}),
	}

	m.rateLimitDenied = registerCounter(m.rateLimitDenied)
	m.validationFailures = registerCounter(m.validationFailures)
	m.circuitTransitions = registerCounter(m.circuitTransitions)
	m.syncRequests = registerCounter(m.syncRequests)
	m.targetSyncDuration = registerHistogram(m.targetSyncDuration)
	return m
}

func registerCounter(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}

func registerHistogram(h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := prometheus.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return h
}

// RateLimitDenied counts one rejected request.
func (m *Metrics) RateLimitDenied(route, keyKind string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.With(prometheus.Labels{"route": route, "key_kind": keyKind}).Inc()
}

// ValidationFailure counts one rejected webhook.
func (m *Metrics) ValidationFailure(kind string) {
	if m == nil {
		return
	}
	m.validationFailures.With(prometheus.Labels{"kind": kind}).Inc()
}

// CircuitTransition counts one breaker state change.
func (m *Metrics) CircuitTransition(target, to string) {
	if m == nil {
		return
	}
	m.circuitTransitions.With(prometheus.Labels{"target": target, "to": to}).Inc()
}

// SyncRequest counts one handled sync request.
func (m *Metrics) SyncRequest(action string, status int) {
	if m == nil {
		return
	}
	m.syncRequests.With(prometheus.Labels{"action": action, "status": strconv.Itoa(status)}).Inc()
}

// TargetSync observes the latency of one attempted per-target call.
func (m *Metrics) TargetSync(target, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.targetSyncDuration.With(prometheus.Labels{"target": target, "outcome": outcome}).Observe(d.Seconds())
}
