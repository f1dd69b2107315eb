package ctxmgr

import "github.com/haasonsaas/vassal/pkg/models"

// DetailLevel controls how much of each dropped turn's preview survives
// into the fallback summary text.
type DetailLevel string

const (
	DetailBrief    DetailLevel = "brief"
	DetailDetailed DetailLevel = "detailed"
)

// SummaryTags are applied to every Memory Store entry produced by
// SummarizeOld.
var SummaryTags = []string{"context_summary", "auto_generated", "conversation"}

// SummaryImportance is the fixed importance assigned to summary entries.
const SummaryImportance = 0.95

// SummarizeFunc generates a summary of the given turns, typically by
// running the loaded model on a temporary KV sequence id and evicting that
// sequence before returning. Returning an error falls back to
// FallbackSummary.
type SummarizeFunc func(turns []models.ConversationTurn) (string, error)

// SummarizeOld summarizes turns [0..turn_count-keepLastK) and then shifts
// the window down to keepLastK. When summarizeFn is nil or returns an
// error, the turns' previews are concatenated instead.
//
// The caller is responsible for persisting the returned summary text as a
// Memory Store entry tagged with SummaryTags at SummaryImportance — this
// package only computes positions and summary text, to keep it independent
// of the Memory Store.
func SummarizeOld(turns []models.ConversationTurn, currentPos, keepLastK int, detail DetailLevel, summarizeFn SummarizeFunc, kv KVRemover, seqID int) (summaryText string, result ShiftResult) {
	if keepLastK < 0 {
		keepLastK = 0
	}
	if len(turns) <= keepLastK {
		return "", ShiftResult{Turns: turns, CurrentPos: currentPos}
	}

	toSummarize := turns[:len(turns)-keepLastK]

	var text string
	if summarizeFn != nil {
		if t, err := summarizeFn(toSummarize); err == nil {
			text = t
		}
	}
	if text == "" {
		text = FallbackSummary(toSummarize, detail)
	}

	return text, ShiftWindow(turns, currentPos, keepLastK, kv, seqID)
}

// FallbackSummary concatenates turn previews when no LLM-backed
// summarization is available.
func FallbackSummary(turns []models.ConversationTurn, detail DetailLevel) string {
	if len(turns) == 0 {
		return ""
	}
	maxPreview := models.PreviewMaxChars
	if detail == DetailBrief {
		maxPreview = 48
	}

	var b []byte
	for i, t := range turns {
		if i > 0 {
			b = append(b, "; "...)
		}
		speaker := "assistant"
		if t.IsUser {
			speaker = "user"
		}
		b = append(b, speaker...)
		b = append(b, ": "...)
		preview := t.Preview
		if len(preview) > maxPreview {
			preview = preview[:maxPreview]
		}
		b = append(b, preview...)
	}
	return string(b)
}
