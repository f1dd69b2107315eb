// Package ctxmgr implements the Context Manager: the policies
// the Governor invokes when the KV-cache budget is endangered. Every policy
// operates on the turn array and current_pos the Governor owns; it never
// touches the system prompt region.
package ctxmgr

import "github.com/haasonsaas/vassal/pkg/models"

// KVRemover is the slice of the Inference Adapter the Context Manager needs:
// evicting a half-open position range from a sequence. Defined locally
// rather than importing internal/inference so this package depends only on
// the shapes it actually uses.
type KVRemover interface {
	KVRemove(seqID int, posStart, posEnd int)
}

// ShiftResult is the outcome of a position-shifting policy: the surviving
// turns and the Conversation Context's new current_pos.
type ShiftResult struct {
	Turns      []models.ConversationTurn
	CurrentPos int
}

// ShiftWindow drops the oldest turns down to
// keepLastK, evict their KV range, and shift survivors' positions down by
// the dropped span. The system prompt region is never touched because
// dropped turns are always the oldest non-system turns. A call with
// turn_count already <= keepLastK is a no-op, which is what makes repeated
// shifts with the same argument idempotent.
func ShiftWindow(turns []models.ConversationTurn, currentPos, keepLastK int, kv KVRemover, seqID int) ShiftResult {
	if keepLastK < 0 {
		keepLastK = 0
	}
	if len(turns) <= keepLastK {
		return ShiftResult{Turns: turns, CurrentPos: currentPos}
	}

	dropCount := len(turns) - keepLastK
	dropStart := turns[0].KVStart
	dropEnd := turns[dropCount-1].KVEnd

	kv.KVRemove(seqID, dropStart, dropEnd)

	shift := dropEnd - dropStart
	surviving := make([]models.ConversationTurn, len(turns)-dropCount)
	for i, t := range turns[dropCount:] {
		t.KVStart -= shift
		t.KVEnd -= shift
		surviving[i] = t
	}

	return ShiftResult{Turns: surviving, CurrentPos: currentPos - shift}
}
