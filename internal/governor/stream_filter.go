package governor

import "strings"

// controlMarkers are the literal substrings a streamed token piece must
// never partially leak: the tool-call tag opener, the chat-template role
// markers, and the tool-result wrapper.
// tagClose closes an opened tool-call tag; it is matched, not held, since
// by the time it appears the whole tag is already being suppressed. A
// complete end-marker occurrence never reaches the filter at all — the
// generation loop truncates at it before feeding the final piece.
var controlMarkers = []string{tagOpen, imStart, imEnd, "<tool_result>"}

// streamFilter suppresses token_cb emission of text that is, or might still
// become, a tool-call tag or a chat-template control marker, while still
// recording every piece into the caller's unfiltered generated-text buffer
// for later tool-call parsing. It holds back the longest tail of buffered
// text that is a proper prefix of a control marker, since more pieces may
// arrive to complete it; text is only ever released once it is provably not
// the start of one.
type streamFilter struct {
	held       string
	inToolCall bool
}

func newStreamFilter() *streamFilter {
	return &streamFilter{}
}

// feed appends piece to the filter's internal buffer and returns the text,
// if any, now safe to pass to token_cb.
func (f *streamFilter) feed(piece string) string {
	f.held += piece
	var emitted strings.Builder

	for {
		if f.inToolCall {
			idx := strings.Index(f.held, tagClose)
			if idx < 0 {
				return emitted.String()
			}
			f.held = f.held[idx+len(tagClose):]
			f.inToolCall = false
			continue
		}

		if idx := strings.Index(f.held, tagOpen); idx >= 0 {
			emitted.WriteString(f.held[:idx])
			f.held = f.held[idx:]
			f.inToolCall = true
			continue
		}

		tailLen := suppressedTailLen(f.held)
		emitted.WriteString(f.held[:len(f.held)-tailLen])
		f.held = f.held[len(f.held)-tailLen:]
		return emitted.String()
	}
}

// suppressedTailLen returns the length of the longest suffix of s that is a
// proper, shorter prefix of one of controlMarkers — text that cannot yet be
// ruled out as the start of a suppressed sequence.
func suppressedTailLen(s string) int {
	best := 0
	for _, marker := range controlMarkers {
		limit := len(marker) - 1
		if limit > len(s) {
			limit = len(s)
		}
		for l := limit; l > 0; l-- {
			if strings.HasSuffix(s, marker[:l]) {
				if l > best {
					best = l
				}
				break
			}
		}
	}
	return best
}
