package obslog

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers against the process-global registry, so the whole
// package shares one instance across tests.
func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.RecordIteration("success")
	m.RecordIteration("success")
	m.RecordIteration("timeout")
	if got := testutil.ToFloat64(m.IterationCounter.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 success iterations, got %v", got)
	}
	if got := testutil.ToFloat64(m.IterationCounter.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("expected 1 timeout iteration, got %v", got)
	}

	m.RecordToolExecution("calculator_compute", "ok", 0.004)
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("calculator_compute", "ok")); got != 1 {
		t.Fatalf("expected 1 tool execution, got %v", got)
	}

	m.RecordError("backend_failure")
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("backend_failure")); got != 1 {
		t.Fatalf("expected 1 recorded error, got %v", got)
	}

	m.RecordContextManagerInvocation("shift_window")
	if got := testutil.ToFloat64(m.ContextManagerInvocations.WithLabelValues("shift_window")); got != 1 {
		t.Fatalf("expected 1 context manager invocation, got %v", got)
	}

	m.MemoryEntries.Set(42)
	if got := testutil.ToFloat64(m.MemoryEntries); got != 42 {
		t.Fatalf("expected gauge at 42, got %v", got)
	}
}
