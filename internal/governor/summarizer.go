package governor

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/vassal/internal/governor/ctxmgr"
	"github.com/haasonsaas/vassal/internal/inference"
	"github.com/haasonsaas/vassal/pkg/models"
)

// maxSummaryTokens caps a model-generated context summary. Summaries are
// previews of evicted history, not transcripts; a short budget keeps the
// scratch pass cheap and the resulting Memory Store entry compact.
const maxSummaryTokens = 128

// modelSummarizer returns a SummarizeFunc that runs the loaded model over
// the dropped turns' previews on the scratch KV sequence. The scratch
// sequence's range is evicted before returning, success or failure —
// leaving it resident would contaminate the logits of later primary-
// sequence sampling. An error from any stage falls back to
// ctxmgr.FallbackSummary at the call site.
func (g *Governor) modelSummarizer() ctxmgr.SummarizeFunc {
	return func(turns []models.ConversationTurn) (string, error) {
		prompt := buildSummaryPrompt(turns)
		tokens, err := g.engine.Tokenize(prompt, true)
		if err != nil {
			return "", err
		}
		if len(tokens) == 0 || len(tokens) >= g.engine.NCtx() {
			return "", fmt.Errorf("summary prompt does not fit a scratch pass: %d tokens", len(tokens))
		}

		ctx := context.Background()
		pos := 0
		defer func() {
			if pos > 0 {
				g.engine.KVRemove(scratchSeq, 0, pos)
			}
		}()

		positions := make([]int, len(tokens))
		for i := range positions {
			positions[i] = i
		}
		// Set before decoding so a failure partway through the sub-batches
		// still evicts whatever was decoded.
		pos = len(tokens)
		if err := decodeInBatches(ctx, g.engine, tokens, positions, scratchSeq); err != nil {
			return "", err
		}

		chain := inference.NewSamplerChain(g.opts.Sampler, g.runSeed)
		defer chain.Close()

		var b strings.Builder
		for n := 0; n < maxSummaryTokens; n++ {
			tok, err := g.engine.SampleNext(chain)
			if err != nil {
				return "", err
			}
			if g.engine.IsEndOfGeneration(tok) {
				break
			}
			b.WriteString(g.engine.DetokenizePiece(tok))
			if err := g.engine.Decode(ctx, []inference.Token{tok}, []int{pos}, scratchSeq, true); err != nil {
				return "", err
			}
			pos++
		}
		return strings.TrimSpace(b.String()), nil
	}
}

func buildSummaryPrompt(turns []models.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation in two sentences, keeping any facts, names, and numbers:\n")
	for _, t := range turns {
		speaker := "assistant"
		if t.IsUser {
			speaker = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Preview)
	}
	b.WriteString("Summary:")
	return b.String()
}
