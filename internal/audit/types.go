// Package audit provides a best-effort async audit trail for Governor
// progress events. It is observability only — the Memory Store's own
// operation log (internal/memorystore) is the durable source of truth and
// flushes synchronously, unlike this buffered trail.
package audit

import (
	"encoding/json"
	"time"
)

// EventType categorizes audit events. These mirror the Governor's
// progress_cb event set plus a handful of lifecycle events.
type EventType string

const (
	EventIterationStart  EventType = "governor.iteration_start"
	EventThinking        EventType = "governor.thinking"
	EventToolCall        EventType = "governor.tool_call"
	EventToolResult      EventType = "governor.tool_result"
	EventToolError       EventType = "governor.tool_error"
	EventComplete        EventType = "governor.complete"
	EventModelLoad       EventType = "governor.model_load"
	EventModelUnload     EventType = "governor.model_unload"
	EventContextManager  EventType = "ctxmgr.invocation"
	EventMemoryMutation  EventType = "memorystore.mutation"
	EventGovernorError   EventType = "governor.error"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Level is the severity level.
	Level Level `json:"level"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID identifies the Governor execute() call this event belongs to.
	RunID string `json:"run_id,omitempty"`

	// SessionID identifies the Memory Store session, when relevant.
	SessionID string `json:"session_id,omitempty"`

	// ToolName identifies the tool for tool-related events.
	ToolName string `json:"tool_name,omitempty"`

	// ToolCallID links to a specific tool call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Action describes what happened.
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`

	// Duration is the time taken for timed operations.
	Duration time.Duration `json:"duration,omitempty"`

	// Error contains error information if applicable.
	Error string `json:"error,omitempty"`

	// Iteration is the Governor loop iteration number, when relevant.
	Iteration int `json:"iteration,omitempty"`

	// TraceID for distributed tracing correlation.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID for distributed tracing correlation.
	SpanID string `json:"span_id,omitempty"`
}

// ToolInvocationDetails contains details for tool call events.
type ToolInvocationDetails struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	Args       json.RawMessage `json:"args,omitempty"`
	ArgsHash   string          `json:"args_hash,omitempty"`
}

// ToolCompletionDetails contains details for tool result/error events.
type ToolCompletionDetails struct {
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
	Success    bool   `json:"success"`
	OutputSize int    `json:"output_size,omitempty"`
	Duration   int64  `json:"duration_ms"`
}

// ContextManagerDetails contains details for Context Manager invocations.
type ContextManagerDetails struct {
	Policy        string `json:"policy"`
	TurnsBefore   int    `json:"turns_before"`
	TurnsAfter    int    `json:"turns_after"`
	PosBefore     int    `json:"pos_before"`
	PosAfter      int    `json:"pos_after"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON   OutputFormat = "json"
	FormatLogfmt OutputFormat = "logfmt"
	FormatText   OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	// Format specifies the output format.
	Format OutputFormat `json:"format" yaml:"format"`

	// Output specifies where to write logs.
	// Supported: "stdout", "stderr", "file:/path/to/file.log"
	Output string `json:"output" yaml:"output"`

	// IncludeToolArgs determines if tool call arguments are logged.
	IncludeToolArgs bool `json:"include_tool_args" yaml:"include_tool_args"`

	// MaxFieldSize limits the size of logged fields.
	MaxFieldSize int `json:"max_field_size" yaml:"max_field_size"`

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType `json:"event_types" yaml:"event_types"`

	// SampleRate controls what fraction of events are logged (0.0 to 1.0).
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		Level:            LevelInfo,
		Format:           FormatJSON,
		Output:           "stdout",
		IncludeToolArgs:  false,
		MaxFieldSize:     1024,
		SampleRate:       1.0,
		BufferSize:       1000,
		FlushInterval:    5 * time.Second,
	}
}
