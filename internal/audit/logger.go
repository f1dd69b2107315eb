package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/vassal/internal/obslog"
)

// Logger provides a best-effort async audit trail for Governor progress
// events, tool dispatch, and Context Manager/Memory Store invocations.
//
// Key features:
//   - Structured logging with JSON, logfmt, or text output
//   - Privacy controls for sensitive data (argument hashing, field truncation)
//   - Async buffered writes so the audit trail never blocks the Governor loop
//   - Distributed tracing correlation (trace_id, span_id)
//   - Configurable event filtering and sampling
//
// This is observability only. The Memory Store's own operation log is the
// durable source of truth and flushes synchronously per record; this logger
// may drop events through sampling without violating any invariant. When
// the buffer is full, an event is written synchronously instead of queued.
//
// Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//	    Enabled: true,
//	    Level:   audit.LevelInfo,
//	    Format:  audit.FormatJSON,
//	    Output:  "stdout",
//	})
//	defer logger.Close()
//
//	logger.LogToolInvocation(ctx, runID, "calculator_compute", "call-123", args)
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	eventTypes map[EventType]bool
}

// NewLogger creates a new audit logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText, FormatLogfmt:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	default:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}

	close(l.done)
	l.wg.Wait()

	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log writes an audit event to the log.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}

	if l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}

	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}

	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.TraceID == "" {
		event.TraceID = obslog.GetRequestID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		// Buffer full: write directly rather than drop the event.
		l.writeEvent(event)
	}
}

// LogIterationStart logs the start of a Governor loop iteration.
func (l *Logger) LogIterationStart(ctx context.Context, runID string, iteration int) {
	l.Log(ctx, &Event{
		Type:      EventIterationStart,
		Level:     LevelDebug,
		RunID:     runID,
		Iteration: iteration,
		Action:    "iteration_start",
	})
}

// LogToolInvocation logs a tool dispatch event.
func (l *Logger) LogToolInvocation(ctx context.Context, runID, toolName, toolCallID string, args json.RawMessage) {
	details := map[string]any{}

	if l.config.IncludeToolArgs && args != nil {
		argsStr := string(args)
		if len(argsStr) > l.config.MaxFieldSize {
			argsStr = argsStr[:l.config.MaxFieldSize] + "...(truncated)"
		}
		details["args"] = argsStr
	} else if args != nil {
		details["args_hash"] = hashString(string(args))
	}

	l.Log(ctx, &Event{
		Type:       EventToolCall,
		Level:      LevelInfo,
		RunID:      runID,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_call",
		Details:    details,
	})
}

// LogToolResult logs a successful tool completion.
func (l *Logger) LogToolResult(ctx context.Context, runID, toolName, toolCallID string, outputSize int, duration time.Duration) {
	l.Log(ctx, &Event{
		Type:       EventToolResult,
		Level:      LevelInfo,
		RunID:      runID,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_result",
		Duration:   duration,
		Details: map[string]any{
			"output_size": outputSize,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// LogToolError logs a tool failure, recovered locally per the ToolFailure
// error kind — the Governor continues the loop after logging this.
func (l *Logger) LogToolError(ctx context.Context, runID, toolName, toolCallID, errMsg string) {
	l.Log(ctx, &Event{
		Type:       EventToolError,
		Level:      LevelWarn,
		RunID:      runID,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_error",
		Error:      errMsg,
	})
}

// LogComplete logs the terminal outcome of a Governor execute() call.
func (l *Logger) LogComplete(ctx context.Context, runID, outcome string, iterations int, duration time.Duration) {
	l.Log(ctx, &Event{
		Type:      EventComplete,
		Level:     LevelInfo,
		RunID:     runID,
		Iteration: iterations,
		Action:    "complete",
		Duration:  duration,
		Details: map[string]any{
			"outcome": outcome,
		},
	})
}

// LogModelLoad logs a model load or unload lifecycle event.
func (l *Logger) LogModelLoad(ctx context.Context, loaded bool, modelPath string, duration time.Duration) {
	eventType := EventModelLoad
	if !loaded {
		eventType = EventModelUnload
	}
	l.Log(ctx, &Event{
		Type:     eventType,
		Level:    LevelInfo,
		Action:   "model_load",
		Duration: duration,
		Details: map[string]any{
			"model_path": modelPath,
		},
	})
}

// LogContextManager logs a Context Manager policy invocation.
func (l *Logger) LogContextManager(ctx context.Context, runID string, details ContextManagerDetails) {
	l.Log(ctx, &Event{
		Type:   EventContextManager,
		Level:  LevelInfo,
		RunID:  runID,
		Action: "ctxmgr_invocation",
		Details: map[string]any{
			"policy":       details.Policy,
			"turns_before": details.TurnsBefore,
			"turns_after":  details.TurnsAfter,
			"pos_before":   details.PosBefore,
			"pos_after":    details.PosAfter,
		},
	})
}

// LogMemoryMutation logs a Memory Store append/update/delete operation.
func (l *Logger) LogMemoryMutation(ctx context.Context, sessionID, op string, memoryID uint64) {
	l.Log(ctx, &Event{
		Type:      EventMemoryMutation,
		Level:     LevelDebug,
		SessionID: sessionID,
		Action:    op,
		Details: map[string]any{
			"memory_id": memoryID,
		},
	})
}

// LogError logs a general Governor error event.
func (l *Logger) LogError(ctx context.Context, runID, action, errMsg string, details map[string]any) {
	l.Log(ctx, &Event{
		Type:    EventGovernorError,
		Level:   LevelError,
		RunID:   runID,
		Action:  action,
		Error:   errMsg,
		Details: details,
	})
}

// WithRunID returns a context-bound logger with the run id pre-set.
func (l *Logger) WithRunID(runID string) *RunLogger {
	return &RunLogger{logger: l, runID: runID}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	if event.RunID != "" {
		attrs = append(attrs, "run_id", event.RunID)
	}
	if event.SessionID != "" {
		attrs = append(attrs, "session_id", event.SessionID)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.ToolCallID != "" {
		attrs = append(attrs, "tool_call_id", event.ToolCallID)
	}
	if event.Iteration != 0 {
		attrs = append(attrs, "iteration", event.Iteration)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.SpanID != "" {
		attrs = append(attrs, "span_id", event.SpanID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}

	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelInfo:
		l.slogger.Info("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hashString creates a SHA256 hash of a string (first 16 hex chars), used to
// fingerprint tool arguments without logging their contents.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// RunLogger is a logger bound to a single Governor execute() run id.
type RunLogger struct {
	logger *Logger
	runID  string
}

func (r *RunLogger) LogIterationStart(ctx context.Context, iteration int) {
	r.logger.LogIterationStart(ctx, r.runID, iteration)
}

func (r *RunLogger) LogToolInvocation(ctx context.Context, toolName, toolCallID string, args json.RawMessage) {
	r.logger.LogToolInvocation(ctx, r.runID, toolName, toolCallID, args)
}

func (r *RunLogger) LogToolResult(ctx context.Context, toolName, toolCallID string, outputSize int, duration time.Duration) {
	r.logger.LogToolResult(ctx, r.runID, toolName, toolCallID, outputSize, duration)
}

func (r *RunLogger) LogToolError(ctx context.Context, toolName, toolCallID, errMsg string) {
	r.logger.LogToolError(ctx, r.runID, toolName, toolCallID, errMsg)
}

func (r *RunLogger) LogComplete(ctx context.Context, outcome string, iterations int, duration time.Duration) {
	r.logger.LogComplete(ctx, r.runID, outcome, iterations, duration)
}

func (r *RunLogger) LogContextManager(ctx context.Context, details ContextManagerDetails) {
	r.logger.LogContextManager(ctx, r.runID, details)
}

func (r *RunLogger) LogError(ctx context.Context, action, errMsg string, details map[string]any) {
	r.logger.LogError(ctx, r.runID, action, errMsg, details)
}

// Global logger instance for convenience.
var globalLogger *Logger
var globalMu sync.RWMutex

// SetGlobalLogger sets the global audit logger.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the global audit logger.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Log logs an event using the global logger.
func Log(ctx context.Context, event *Event) {
	if l := GetGlobalLogger(); l != nil {
		l.Log(ctx, event)
	}
}
