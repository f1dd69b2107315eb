package obslog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting Governor metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Governor execute() outcomes and duration
//   - Tool dispatch latency and error rates
//   - Memory Store search latency and live entry count
//   - Context Manager invocations (shift/summarize)
//
// Usage:
//
//	metrics := obslog.NewMetrics()
//	metrics.RecordIteration("success")
//	defer metrics.ToolExecutionDuration.WithLabelValues("calculator_compute").Observe(elapsed.Seconds())
type Metrics struct {
	// IterationCounter counts finished Governor execute() runs by outcome
	// kind: one increment per run, not per loop iteration.
	// Labels: outcome (success|need_clarification|timeout|error)
	IterationCounter *prometheus.CounterVec

	// ExecuteDuration measures the full execute() wall time in seconds.
	ExecuteDuration prometheus.Histogram

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (ok|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by taxonomy kind.
	// Labels: kind
	ErrorCounter *prometheus.CounterVec

	// MemorySearchDuration measures Memory Store search latency in seconds.
	MemorySearchDuration prometheus.Histogram

	// MemoryEntries is a gauge of the current live entry count.
	MemoryEntries prometheus.Gauge

	// ContextManagerInvocations counts Context Manager policy invocations.
	// Labels: policy (shift_window|summarize_old|prune_unimportant)
	ContextManagerInvocations *prometheus.CounterVec

	// KVPositionUsed tracks current_pos as a fraction of n_ctx at each
	// Context Manager check.
	KVPositionUsed prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		IterationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vassal_governor_iterations_total",
				Help: "Total number of finished Governor execute() runs by outcome",
			},
			[]string{"outcome"},
		),

		ExecuteDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vassal_governor_execute_duration_seconds",
				Help:    "Duration of Governor execute() calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vassal_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vassal_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vassal_errors_total",
				Help: "Total number of errors by taxonomy kind",
			},
			[]string{"kind"},
		),

		MemorySearchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vassal_memory_search_duration_seconds",
				Help:    "Duration of Memory Store search calls in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),

		MemoryEntries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vassal_memory_entries",
				Help: "Current number of live Memory Store entries",
			},
		),

		ContextManagerInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vassal_context_manager_invocations_total",
				Help: "Total number of Context Manager policy invocations",
			},
			[]string{"policy"},
		),

		KVPositionUsed: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vassal_kv_position_fraction",
				Help:    "current_pos / n_ctx sampled at each Context Manager check",
				Buckets: []float64{0.25, 0.5, 0.7, 0.8, 0.9, 0.95, 0.99, 1.0},
			},
		),
	}
}

// RecordIteration records the outcome of one finished execute() run.
func (m *Metrics) RecordIteration(outcome string) {
	m.IterationCounter.WithLabelValues(outcome).Inc()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given taxonomy kind.
func (m *Metrics) RecordError(kind string) {
	m.ErrorCounter.WithLabelValues(kind).Inc()
}

// RecordContextManagerInvocation records a Context Manager policy run.
func (m *Metrics) RecordContextManagerInvocation(policy string) {
	m.ContextManagerInvocations.WithLabelValues(policy).Inc()
}
