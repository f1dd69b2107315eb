package governor

import (
	"github.com/haasonsaas/vassal/internal/inference"
	"github.com/haasonsaas/vassal/pkg/models"
)

// primarySeq is the single KV sequence id the Governor drives end to end:
// one conversation per process. scratchSeq is reserved for model-backed
// summarization, which decodes on a throwaway sequence it evicts before
// returning.
const (
	primarySeq = 0
	scratchSeq = 1
)

// ConversationContext holds the conversation's positional bookkeeping:
// the system prompt's token span, the current write position in the
// primary KV sequence, the turn history the Context Manager operates on,
// and the wrapper token sequences cached once at model load.
//
// Invariant: system_prompt_len <= kv_start <= kv_end <= current_pos <= n_ctx
// for every tracked turn.
type ConversationContext struct {
	systemPromptLen int
	currentPos      int
	turns           []models.ConversationTurn
	nextTurnID      uint64

	prefixTokens []inference.Token
	suffixTokens []inference.Token
}

// appendTurn records a new turn spanning [kvStart, kvEnd) and returns it.
func (c *ConversationContext) appendTurn(isUser bool, kvStart, kvEnd int, preview string) models.ConversationTurn {
	c.nextTurnID++
	t := models.ConversationTurn{
		TurnID:  c.nextTurnID,
		IsUser:  isUser,
		KVStart: kvStart,
		KVEnd:   kvEnd,
		Preview: models.TruncatePreview(preview),
	}
	c.turns = append(c.turns, t)
	return t
}

// Turns returns a snapshot of the tracked conversation turns.
func (c *ConversationContext) Turns() []models.ConversationTurn {
	out := make([]models.ConversationTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

// CurrentPos returns the next free KV position in the primary sequence.
func (c *ConversationContext) CurrentPos() int { return c.currentPos }

// SystemPromptLen returns the token length of the cached system prompt.
func (c *ConversationContext) SystemPromptLen() int { return c.systemPromptLen }
