// Package metrics exposes prometheus counters for the drip engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Execution outcomes.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeWaiting   = "waiting"
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeNoop      = "noop"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	executions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	deliveries  *prometheus.CounterVec
	enrollments *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	requeued    prometheus.Counter
}

// New registers the drip collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_step_executions_total",
				Help: "Enrollment executions by step type and outcome",
			},
			[]string{"step_type", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drip_execution_duration_seconds",
				Help:    "Time spent processing one enrollment task",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_deliveries_total",
				Help: "Delivery records by status",
			},
			[]string{"status"},
		),
		enrollments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_enrollments_total",
				Help: "Enrollments created and skipped by the enroller",
			},
			[]string{"result"},
		),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_tasks_total",
				Help: "Worker task outcomes",
			},
			[]string{"result"},
		),
		requeued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "drip_sweeper_requeued_total",
				Help: "Enrollments re-enqueued by the sweeper",
			},
		),
	}

	reg.MustRegister(m.executions, m.duration, m.deliveries, m.enrollments, m.tasks, m.requeued)

	return m
}

func (m *Metrics) ObserveExecution(stepType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.executions.WithLabelValues(stepType, outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) IncDelivery(status string) {
	if m == nil {
		return
	}

	m.deliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) IncEnrollment(result string) {
	if m == nil {
		return
	}

	m.enrollments.WithLabelValues(result).Inc()
}

func (m *Metrics) IncTask(result string) {
	if m == nil {
		return
	}

	m.tasks.WithLabelValues(result).Inc()
}

func (m *Metrics) AddRequeued(n int) {
	if m == nil {
		return
	}

	m.requeued.Add(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
