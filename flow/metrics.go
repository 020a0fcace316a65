package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution.
//
// Metrics exposed (all namespaced "edgeflow"):
//
//   - runs_total (counter): completed runs. Labels: status
//     (completed/failed).
//   - steps_total (counter): node invocations. Labels: node_type, status
//     (success/error).
//   - step_latency_ms (histogram): node invocation duration including
//     the payload thunk. Labels: node_type.
//   - loop_reentries_total (counter): loop node re-entries.
//   - active_runs (gauge): runs currently executing in this process.
//   - automation_fires_total (counter): automation trigger firings.
//     Labels: trigger (cron/immediate/webhook), status.
//
// All methods are nil-safe so callers can thread an optional *Metrics
// without guarding every call site.
type Metrics struct {
	runs          *prometheus.CounterVec
	steps         *prometheus.CounterVec
	stepLatency   *prometheus.HistogramVec
	loopReentries prometheus.Counter
	activeRuns    prometheus.Gauge
	automations   *prometheus.CounterVec
}

// NewMetrics creates and registers the collector set with the provided
// registry. Pass prometheus.DefaultRegisterer for the global registry,
// or a private prometheus.NewRegistry() for isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeflow",
			Name:      "runs_total",
			Help:      "Completed workflow runs by terminal status",
		}, []string{"status"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeflow",
			Name:      "steps_total",
			Help:      "Node invocations by node type and outcome",
		}, []string{"node_type", "status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edgeflow",
			Name:      "step_latency_ms",
			Help:      "Node invocation duration in milliseconds, payload thunk included",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_type"}),
		loopReentries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeflow",
			Name:      "loop_reentries_total",
			Help:      "Loop node re-entries across all runs",
		}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgeflow",
			Name:      "active_runs",
			Help:      "Workflow runs currently executing in this process",
		}),
		automations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeflow",
			Name:      "automation_fires_total",
			Help:      "Automation trigger firings by trigger type and outcome",
		}, []string{"trigger", "status"}),
	}
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records a run outcome and marks it inactive.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(status).Inc()
}

// StepExecuted records one node invocation.
func (m *Metrics) StepExecuted(nodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(nodeType, status).Inc()
	m.stepLatency.WithLabelValues(nodeType).Observe(float64(d.Milliseconds()))
}

// LoopReentry records a loop node re-entry.
func (m *Metrics) LoopReentry() {
	if m == nil {
		return
	}
	m.loopReentries.Inc()
}

// AutomationFired records an automation trigger firing.
func (m *Metrics) AutomationFired(trigger, status string) {
	if m == nil {
		return
	}
	m.automations.WithLabelValues(trigger, status).Inc()
}
