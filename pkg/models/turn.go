package models

// ConversationTurn is one user-or-assistant message span, contiguous in KV
// positions. Invariant: system_prompt_len <= kv_start <= kv_end
// <= current_pos. Turns are appended in order and may be removed in place
// by the Context Manager, which shifts the positions of survivors.
type ConversationTurn struct {
	TurnID  uint64
	IsUser  bool
	KVStart int
	KVEnd   int

	// Preview is the turn's text truncated to PreviewMaxChars, used by
	// summarize_old when building a textual summary without an LLM.
	Preview string
}

// PreviewMaxChars is the fixed truncation length for
// ConversationTurn.Preview.
const PreviewMaxChars = 128

// TruncatePreview truncates text to PreviewMaxChars, the way a turn's
// preview is derived when the turn is appended.
func TruncatePreview(text string) string {
	if len(text) <= PreviewMaxChars {
		return text
	}
	return text[:PreviewMaxChars]
}

// Tokens returns the number of KV positions this turn occupies.
func (t ConversationTurn) Tokens() int {
	return t.KVEnd - t.KVStart
}
