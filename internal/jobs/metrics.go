// Package jobmetrics instruments the audit worker.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeDone    = "done"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// Metrics counts audit task runs and rows removed by retention.
type Metrics struct {
	tasks   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	pruned  prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablegate_audit_tasks_total",
			Help: "Audit tasks processed by task type and outcome.",
		}, []string{"task", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stablegate_audit_task_duration_seconds",
			Help:    "Time spent handling one audit task.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"task"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stablegate_audit_pruned_total",
			Help: "Audit rows deleted by the retention job.",
		}),
	}
	reg.MustRegister(m.tasks, m.latency, m.pruned)
	return m
}

// Observe records one run of task that started at start. A nil receiver is a
// no-op.
func (m *Metrics) Observe(task, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(task, outcome).Inc()
	m.latency.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

// AddPruned counts rows removed by one retention run.
func (m *Metrics) AddPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}
