// Package metrics registers the named Prometheus series from §6:
// worker assignment outcomes, session state transitions, per-connector
// step duration and command outcomes, and connector retries.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector named in §6's Metrics table.
type Metrics struct {
	WorkerAssignmentsTotal      *prometheus.CounterVec
	SessionStateTransitions     *prometheus.CounterVec
	ExecutionStepDuration       *prometheus.HistogramVec
	ConnectorCommandTotal       *prometheus.CounterVec
	ConnectorCommandLatency     *prometheus.HistogramVec
	ConnectorRetryTotal         *prometheus.CounterVec
}

// New registers every collector against registerer. Pass
// prometheus.DefaultRegisterer for process-wide registration, or a
// fresh prometheus.NewRegistry() in tests that want isolation.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkerAssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_assignments_total",
				Help: "Count of worker assignment attempts by outcome.",
			},
			[]string{"status"},
		),
		SessionStateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_state_transitions_total",
				Help: "Count of execution session state transitions.",
			},
			[]string{"from_state", "to_state"},
		),
		ExecutionStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "execution_step_duration_seconds",
				Help:    "Step execution duration by connector.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"connector"},
		),
		ConnectorCommandTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connector_command_total",
				Help: "Count of connector command executions by outcome.",
			},
			[]string{"connector", "status"},
		),
		ConnectorCommandLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connector_command_latency_seconds",
				Help:    "Connector command latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"connector"},
		),
		ConnectorRetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connector_retry_total",
				Help: "Count of connector retry attempts by reason.",
			},
			[]string{"connector", "reason"},
		),
	}
	registerer.MustRegister(
		m.WorkerAssignmentsTotal,
		m.SessionStateTransitions,
		m.ExecutionStepDuration,
		m.ConnectorCommandTotal,
		m.ConnectorCommandLatency,
		m.ConnectorRetryTotal,
	)
	return m
}

// NewUnregistered builds a Metrics backed by its own private registry,
// for tests that assert on counter values without touching the global
// default registerer.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveStateTransition records a session status change, a no-op when
// m is nil so callers needn't guard every call site.
func (m *Metrics) ObserveStateTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionStateTransitions.WithLabelValues(from, to).Inc()
}

// ObserveStepDuration records one step's connector-labeled duration.
func (m *Metrics) ObserveStepDuration(connector string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionStepDuration.WithLabelValues(connector).Observe(seconds)
}

// ObserveCommand records one connector command's terminal status
// ("success"/"failure") and latency.
func (m *Metrics) ObserveCommand(connector, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ConnectorCommandTotal.WithLabelValues(connector, status).Inc()
	m.ConnectorCommandLatency.WithLabelValues(connector).Observe(seconds)
}

// ObserveRetry records one connector retry attempt and its reason.
func (m *Metrics) ObserveRetry(connector, reason string) {
	if m == nil {
		return
	}
	m.ConnectorRetryTotal.WithLabelValues(connector, reason).Inc()
}

// ObserveAssignment records one worker assignment attempt's outcome.
func (m *Metrics) ObserveAssignment(status string) {
	if m == nil {
		return
	}
	m.WorkerAssignmentsTotal.WithLabelValues(status).Inc()
}
