package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// threadSafeBuffer is a goroutine-safe bytes.Buffer: writeLoop writes from
// its own goroutine while the test asserts on the accumulated output.
type threadSafeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *threadSafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *threadSafeBuffer) Close() error { return nil }

// createTestLogger builds an enabled logger whose slog handler writes into
// an in-memory buffer instead of a process stream.
func createTestLogger(t *testing.T, cfg Config) (*Logger, *threadSafeBuffer) {
	t.Helper()
	cfg.Enabled = true
	cfg.Output = "stdout"
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	buf := &threadSafeBuffer{}
	logger.output = buf
	logger.slogger = slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: logger.slogLevel()})).With("component", "audit")
	return logger, buf
}

// drain closes the logger (flushing its buffer) and returns the decoded
// JSON lines it wrote.
func drain(t *testing.T, logger *Logger, buf *threadSafeBuffer) []map[string]any {
	t.Helper()
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("malformed audit line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestNewLoggerDisabledIsNoOp(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	// Logging on a disabled logger must not panic or block.
	logger.Log(context.Background(), &Event{Type: EventComplete, Level: LevelInfo, Action: "complete"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestNewLoggerRejectsUnsupportedOutput(t *testing.T) {
	if _, err := NewLogger(Config{Enabled: true, Output: "syslog://nope"}); err == nil {
		t.Fatalf("expected error for unsupported output")
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{
		Enabled:    true,
		Level:      LevelInfo,
		Output:     "file:" + path,
		SampleRate: 1.0,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.LogComplete(context.Background(), "run-1", "success", 1, time.Millisecond)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if !strings.Contains(string(data), "run-1") {
		t.Fatalf("expected audit file to contain the run id, got %q", data)
	}
}

func TestLogWritesEventFields(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	logger.Log(context.Background(), &Event{
		Type:     EventToolCall,
		Level:    LevelInfo,
		RunID:    "run-42",
		ToolName: "calculator_compute",
		Action:   "tool_call",
	})

	records := drain(t, logger, buf)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec["audit_type"] != string(EventToolCall) {
		t.Fatalf("unexpected audit_type: %v", rec["audit_type"])
	}
	if rec["run_id"] != "run-42" || rec["tool_name"] != "calculator_compute" {
		t.Fatalf("missing run/tool fields: %v", rec)
	}
	if rec["audit_id"] == "" || rec["audit_id"] == nil {
		t.Fatalf("expected an assigned audit_id")
	}
}

func TestLogLevelFiltering(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelWarn})
	logger.LogIterationStart(context.Background(), "run-1", 0)            // debug: filtered
	logger.LogComplete(context.Background(), "run-1", "success", 1, 0)    // info: filtered
	logger.LogToolError(context.Background(), "run-1", "t", "id", "boom") // warn: kept

	records := drain(t, logger, buf)
	if len(records) != 1 {
		t.Fatalf("expected only the warn-level event, got %d records", len(records))
	}
	if records[0]["error"] != "boom" {
		t.Fatalf("unexpected surviving record: %v", records[0])
	}
}

func TestLogEventTypeFiltering(t *testing.T) {
	logger, buf := createTestLogger(t, Config{
		Level:      LevelDebug,
		EventTypes: []EventType{EventToolCall},
	})
	logger.LogToolInvocation(context.Background(), "run-1", "t", "id", nil)
	logger.LogComplete(context.Background(), "run-1", "success", 1, 0)

	records := drain(t, logger, buf)
	if len(records) != 1 {
		t.Fatalf("expected 1 record after type filtering, got %d", len(records))
	}
	if records[0]["audit_type"] != string(EventToolCall) {
		t.Fatalf("unexpected record kept: %v", records[0])
	}
}

func TestLogToolInvocationHashesArgsByDefault(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	args := json.RawMessage(`{"expression":"secret-input"}`)
	logger.LogToolInvocation(context.Background(), "run-1", "calc", "call-1", args)

	records := drain(t, logger, buf)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if _, ok := records[0]["args_hash"]; !ok {
		t.Fatalf("expected args_hash field, got %v", records[0])
	}
	if strings.Contains(buf.String(), "secret-input") {
		t.Fatalf("raw args leaked into the audit trail")
	}
}

func TestLogToolInvocationIncludesAndTruncatesArgs(t *testing.T) {
	logger, buf := createTestLogger(t, Config{
		Level:           LevelDebug,
		IncludeToolArgs: true,
		MaxFieldSize:    16,
	})
	long := json.RawMessage(`{"text":"` + strings.Repeat("a", 100) + `"}`)
	logger.LogToolInvocation(context.Background(), "run-1", "t", "call-1", long)

	records := drain(t, logger, buf)
	argsField, ok := records[0]["args"].(string)
	if !ok {
		t.Fatalf("expected args field, got %v", records[0])
	}
	if !strings.HasSuffix(argsField, "...(truncated)") {
		t.Fatalf("expected truncation suffix, got %q", argsField)
	}
}

func TestLogCompleteCarriesOutcomeAndDuration(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	logger.LogComplete(context.Background(), "run-1", "timeout", 5, 1500*time.Millisecond)

	records := drain(t, logger, buf)
	rec := records[0]
	if rec["outcome"] != "timeout" {
		t.Fatalf("expected outcome field, got %v", rec)
	}
	if rec["duration_ms"] != float64(1500) {
		t.Fatalf("expected duration_ms 1500, got %v", rec["duration_ms"])
	}
}

func TestLogContextManagerDetails(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	logger.LogContextManager(context.Background(), "run-1", ContextManagerDetails{
		Policy:      "shift_window",
		TurnsBefore: 6,
		TurnsAfter:  3,
		PosBefore:   460,
		PosAfter:    280,
	})

	records := drain(t, logger, buf)
	rec := records[0]
	if rec["policy"] != "shift_window" {
		t.Fatalf("expected policy field, got %v", rec)
	}
	if rec["pos_after"] != float64(280) {
		t.Fatalf("expected pos_after 280, got %v", rec["pos_after"])
	}
}

func TestLogMemoryMutation(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	logger.LogMemoryMutation(context.Background(), "sess-1", "add", 7)

	records := drain(t, logger, buf)
	rec := records[0]
	if rec["session_id"] != "sess-1" || rec["action"] != "add" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["memory_id"] != float64(7) {
		t.Fatalf("expected memory_id 7, got %v", rec["memory_id"])
	}
}

func TestLogModelLoadAndUnloadEventTypes(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	logger.LogModelLoad(context.Background(), true, "/models/m.gguf", time.Second)
	logger.LogModelLoad(context.Background(), false, "/models/m.gguf", time.Millisecond)

	records := drain(t, logger, buf)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["audit_type"] != string(EventModelLoad) || records[1]["audit_type"] != string(EventModelUnload) {
		t.Fatalf("unexpected event types: %v / %v", records[0]["audit_type"], records[1]["audit_type"])
	}
}

func TestBufferOverflowFallsBackToDirectWrite(t *testing.T) {
	logger, buf := createTestLogger(t, Config{
		Level:         LevelDebug,
		BufferSize:    1,
		FlushInterval: time.Hour, // force overflow: the writer barely drains
	})
	const total = 50
	for i := 0; i < total; i++ {
		logger.LogComplete(context.Background(), "run-overflow", "success", i, 0)
	}
	records := drain(t, logger, buf)
	if len(records) != total {
		t.Fatalf("expected all %d events written despite a full buffer, got %d", total, len(records))
	}
}

func TestRunLoggerBindsRunID(t *testing.T) {
	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	run := logger.WithRunID("run-bound")
	run.LogIterationStart(context.Background(), 0)
	run.LogToolError(context.Background(), "t", "id", "x")
	run.LogComplete(context.Background(), "success", 1, 0)

	records := drain(t, logger, buf)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for _, rec := range records {
		if rec["run_id"] != "run-bound" {
			t.Fatalf("expected every record bound to run-bound, got %v", rec)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	logger, buf := createTestLogger(t, Config{Level: LevelDebug})
	SetGlobalLogger(logger)
	if GetGlobalLogger() != logger {
		t.Fatalf("expected global logger to round-trip")
	}

	Log(context.Background(), &Event{Type: EventComplete, Level: LevelInfo, Action: "complete"})
	records := drain(t, logger, buf)
	if len(records) != 1 {
		t.Fatalf("expected the package-level Log to reach the global logger, got %d records", len(records))
	}

	SetGlobalLogger(nil)
	// Must be a no-op, not a nil dereference.
	Log(context.Background(), &Event{Type: EventComplete, Level: LevelInfo, Action: "complete"})
}

func TestHashStringStableAndShort(t *testing.T) {
	a := hashString(`{"x":1}`)
	b := hashString(`{"x":1}`)
	c := hashString(`{"x":2}`)
	if a != b {
		t.Fatalf("expected deterministic hash, got %q and %q", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct hashes for distinct inputs")
	}
	if len(a) != 16 {
		t.Fatalf("expected 16-char fingerprint, got %d chars", len(a))
	}
}

func TestShouldLogOrdering(t *testing.T) {
	logger := &Logger{config: Config{Level: LevelInfo}}
	cases := []struct {
		level Level
		want  bool
	}{
		{LevelDebug, false},
		{LevelInfo, true},
		{LevelWarn, true},
		{LevelError, true},
	}
	for _, tc := range cases {
		if got := logger.shouldLog(tc.level); got != tc.want {
			t.Fatalf("shouldLog(%s) = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Fatalf("audit must be opt-in")
	}
	if cfg.SampleRate != 1.0 || cfg.BufferSize != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
