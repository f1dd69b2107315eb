package models

import (
	"context"
	"encoding/json"
	"time"
)

// ToolExecutor is the contract a tool descriptor's executor satisfies:
// exactly one of result/error is produced, and the executor must not
// retain pointers to args past return.
type ToolExecutor func(ctx context.Context, args json.RawMessage) (result json.RawMessage, errMsg string)

// ToolDescriptor declares one registered tool.
type ToolDescriptor struct {
	Name        string
	Description string

	// Schema is the JSON-schema of the tool's parameters, emitted into the
	// system prompt catalog and used to validate tool-call arguments.
	Schema json.RawMessage

	Executor ToolExecutor

	IsDeterministic      bool
	RequiresConfirmation bool
	IsStateful           bool
	EstimatedLatencyMs   int
}

// ToolCall is a parsed `<tool_call name="..." .../>` invocation.
type ToolCall struct {
	Name string
	Args json.RawMessage
	// Raw is the exact tag substring as it appeared in model output, used
	// by round-trip tests.
	Raw string
}

// ToolDispatchResult is the {ok(result_json) | error(message)} outcome of
// executing a tool call.
type ToolDispatchResult struct {
	OK      bool
	Result  json.RawMessage
	Message string
}

// ProgressEventType enumerates the structured events the Governor emits to
// progress_cb during execute().
type ProgressEventType string

const (
	ProgressIterationStart ProgressEventType = "ITERATION_START"
	ProgressThinking       ProgressEventType = "THINKING"
	ProgressToolCall       ProgressEventType = "TOOL_CALL"
	ProgressToolResult     ProgressEventType = "TOOL_RESULT"
	ProgressToolError      ProgressEventType = "TOOL_ERROR"
	ProgressComplete       ProgressEventType = "COMPLETE"
)

// ProgressEvent is one structured event delivered to the Governor's
// progress_cb during execute().
type ProgressEvent struct {
	Type      ProgressEventType
	Iteration int
	ToolName  string
	Detail    string
	Timestamp time.Time
}

// PathConfigEntry is one entry of the Path Configuration mapping of human
// labels to filesystem paths, persisted via Memory Store entries
// tagged "user_path".
type PathConfigEntry struct {
	Label        string
	AbsolutePath string
	Description  string
	Verified     bool
	MemoryID     uint64
}
