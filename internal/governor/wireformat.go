package governor

import (
	"fmt"
	"strings"
)

// Wire-format constants. PREFIX/SUFFIX are pre-tokenized once
// at model load and cached on the ConversationContext to avoid re-tokenizing
// on every tool call.
const (
	imStart = "<|im_start|>"
	imEnd   = "<|im_end|>"

	// tagOpen/tagClose bound a tool-call tag in model output. They mirror
	// the grammar internal/tooling parses; the Governor needs its own copy
	// for the stream filter, which must suppress a tag before the parser
	// ever sees the completed text.
	tagOpen  = "<tool_call"
	tagClose = "/>"

	// toolResultPrefix wraps a tool result (or tool error) payload in a
	// user-role turn.
	toolResultPrefix = imStart + "user\n<tool_result>"
	toolResultSuffix = "</tool_result>" + imEnd + "\n" + imStart + "assistant\n"
)

// formatUserTurn renders a new user query as the chat-template turn the
// Governor tokenizes and decodes at the top of execute().
func formatUserTurn(query string) string {
	return fmt.Sprintf("%suser\n%s%s\n%sassistant\n", imStart, query, imEnd, imStart)
}

// formatToolError renders a tool's failure message as the <tool_error>
// payload injected inside the same user-role wrapper as a tool result.
func formatToolError(message string) string {
	return "<tool_error>" + message + "</tool_error>"
}

// endMarkers halt generation when the model starts writing the next
// chat-template turn instead of ending with an EOG token; the trailing
// sentinel is truncated from the response.
var endMarkers = []string{imEnd, imStart, "<tool_result>"}

// truncateAtEndMarker reports whether s contains a chat-format end marker,
// returning s cut at the earliest one.
func truncateAtEndMarker(s string) (string, bool) {
	cut := -1
	for _, m := range endMarkers {
		if idx := strings.Index(s, m); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut < 0 {
		return s, false
	}
	return s[:cut], true
}

// hasCompleteToolCall reports whether s contains a closed tool-call tag,
// the point at which generation stops so the call can be dispatched.
func hasCompleteToolCall(s string) bool {
	start := strings.Index(s, tagOpen)
	if start < 0 {
		return false
	}
	return strings.Contains(s[start:], tagClose)
}
