// Package metrics holds the Prometheus collectors of the auth server.
package metrics

import (
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomeOK labels successful operations; failures are labelled with their error code.
const OutcomeOK = "ok"

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	ops    *prometheus.CounterVec
	guard  *prometheus.CounterVec
	verify prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_auth_operations_total",
			Help: "Auth operations by name and outcome.",
		}, []string{"op", "outcome"}),
		guard: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_auth_guard_decisions_total",
			Help: "Access guard decisions by mode and outcome.",
		}, []string{"mode", "outcome"}),
		verify: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_auth_verify_duration_seconds",
			Help:    "Token verification latency including the directory lookup.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Outcome is OutcomeOK for nil, otherwise the error's machine code.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return errs.KindOf(err).Code()
}

// Op counts one finished operation.
func (m *Metrics) Op(op string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, Outcome(err)).Inc()
}

// Guard counts one guard decision.
func (m *Metrics) Guard(mode, outcome string) {
	if m == nil {
		return
	}
	m.guard.WithLabelValues(mode, outcome).Inc()
}

// ObserveVerify records how long a verification took since start.
func (m *Metrics) ObserveVerify(start time.Time) {
	if m == nil {
		return
	}
	m.verify.Observe(time.Since(start).Seconds())
}
