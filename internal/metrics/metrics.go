// Package metrics exposes Prometheus instruments for the reconciler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logwire"

// Rebuild outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

// Fallback results.
const (
	FallbackRestored    = "restored"
	FallbackUnavailable = "unavailable"
	FallbackFailed      = "failed"
)

// Metrics groups every reconciler instrument. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	rebuilds        *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	coalesced       prometheus.Counter
	inFlight        prometheus.Gauge
	conflicts       *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	reattachErrors  *prometheus.CounterVec
	components      *prometheus.GaugeVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "total",
			Help:      "Pipeline rebuilds by outcome",
		}, []string{"outcome"}),
		rebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "duration_seconds",
			Help:      "Time spent in one rebuild cycle",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "coalesced_total",
			Help:      "Change notifications absorbed by an in-flight rebuild",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "in_flight",
			Help:      "1 while a rebuild holds the permit",
		}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validate",
			Name:      "conflicts_total",
			Help:      "Validation conflicts by field",
		}, []string{"field"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback",
			Name:      "total",
			Help:      "Fallback attempts by result",
		}, []string{"result"}),
		reattachErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "reattach_errors_total",
			Help:      "Dynamic components that failed to reattach after a rebuild",
		}, []string{"kind"}),
		components: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "components",
			Help:      "Tracked dynamic components by kind",
		}, []string{"kind"}),
	}
}

// ObserveRebuild records one finished rebuild.
func (m *Metrics) ObserveRebuild(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(outcome).Inc()
	m.rebuildDuration.Observe(seconds)
}

// Coalesced records a notification that did not start its own rebuild.
func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// SetInFlight sets the in-flight gauge.
func (m *Metrics) SetInFlight(on bool) {
	if m == nil {
		return
	}
	if on {
		m.inFlight.Set(1)
	} else {
		m.inFlight.Set(0)
	}
}

// Conflict records one validation conflict.
func (m *Metrics) Conflict(field string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(field).Inc()
}

// Fallback records a fallback attempt.
func (m *Metrics) Fallback(result string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(result).Inc()
}

// ReattachError records a component that failed to reattach.
func (m *Metrics) ReattachError(kind string) {
	if m == nil {
		return
	}
	m.reattachErrors.WithLabelValues(kind).Inc()
}

// SetComponents sets the number of tracked components of a kind.
func (m *Metrics) SetComponents(kind string, n int) {
	if m == nil {
		return
	}
	m.components.WithLabelValues(kind).Set(float64(n))
}
