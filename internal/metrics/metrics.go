// Package metrics records per-stage invocation counts and latencies.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgpipe",
			Name:      "stage_invocations_total",
			Help:      "Stage invocations by outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imgpipe",
			Name:      "stage_duration_seconds",
			Help:      "Stage invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	reg.MustRegister(m.invocations, m.duration)
	return m
}

// Observe records one invocation of stage that started at start. A nil
// receiver is a no-op.
func (m *Metrics) Observe(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.invocations.WithLabelValues(stage, outcome).Inc()
	m.duration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
