package governor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/vassal/internal/audit"
	"github.com/haasonsaas/vassal/internal/governor/ctxmgr"
	"github.com/haasonsaas/vassal/internal/inference"
	"github.com/haasonsaas/vassal/internal/tooling"
	"github.com/haasonsaas/vassal/pkg/models"
)

// ProgressCallback receives structured progress events during Execute.
type ProgressCallback func(models.ProgressEvent)

// TokenCallback receives filtered, user-visible text as it streams out of
// the sampling loop.
type TokenCallback func(string)

// Execute formats the new user turn, then loops decode/sample/
// tool-dispatch cycles until the model produces a tool-call-free response,
// max_iterations is reached, or an unrecoverable error occurs.
func (g *Governor) Execute(ctx context.Context, userQuery string, progressCB ProgressCallback, tokenCB TokenCallback) Outcome {
	g.mu.Lock()
	if g.state != StateModelLoaded && g.state != StateError {
		state := g.state
		g.mu.Unlock()
		if state == StateUninitialized || state == StateInit {
			return errorOutcome(ErrModelNotLoaded)
		}
		return errorOutcome(models.NewError(models.ErrInvalidArgument, "execute called while state is %s", state))
	}
	g.state = StateExecuting
	g.mu.Unlock()

	runID := uuid.NewString()
	start := time.Now()

	var span trace.Span
	if g.opts.Tracer != nil {
		ctx, span = g.opts.Tracer.TraceExecute(ctx, runID)
		defer span.End()
	}

	outcome, iterations := g.runLoop(ctx, runID, userQuery, progressCB, tokenCB)

	if g.opts.Tracer != nil {
		if outcome.Kind == OutcomeError {
			g.opts.Tracer.RecordError(span, outcome.Err)
		}
		g.opts.Tracer.SetAttributes(span, "outcome", string(outcome.Kind), "iterations", iterations)
	}

	g.mu.Lock()
	if outcome.Kind == OutcomeSuccess || outcome.Kind == OutcomeNeedClarification {
		g.state = StateModelLoaded
	} else {
		g.state = StateError
	}
	g.mu.Unlock()

	if g.opts.Audit != nil {
		g.opts.Audit.LogComplete(ctx, runID, string(outcome.Kind), iterations, time.Since(start))
	}
	if g.opts.Metrics != nil {
		g.opts.Metrics.RecordIteration(string(outcome.Kind))
		g.opts.Metrics.ExecuteDuration.Observe(time.Since(start).Seconds())
		if outcome.Kind == OutcomeError && outcome.Err != nil {
			g.opts.Metrics.RecordError(string(outcome.Err.Kind))
		}
	}
	return outcome
}

func (g *Governor) runLoop(ctx context.Context, runID, userQuery string, progressCB ProgressCallback, tokenCB TokenCallback) (Outcome, int) {
	pendingText := formatUserTurn(userQuery)

	for iteration := 0; iteration < g.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return timeoutOutcome(), iteration
		}
		emitProgress(progressCB, models.ProgressIterationStart, iteration, "", "")
		if g.opts.Audit != nil {
			g.opts.Audit.LogIterationStart(ctx, runID, iteration)
		}

		if pendingText != "" {
			if outcome, ok := g.decodeNewTurn(ctx, iteration, pendingText); !ok {
				return outcome, iteration
			}
			pendingText = ""
		}

		generated, lerr := g.generate(ctx, iteration, progressCB, tokenCB)
		if lerr != nil {
			return errorOutcome(lerr.Err), iteration
		}
		if err := ctx.Err(); err != nil {
			return timeoutOutcome(), iteration
		}

		toolCalls := tooling.ParseCalls(generated)
		if len(toolCalls) == 0 {
			emitProgress(progressCB, models.ProgressComplete, iteration, "", "")
			return successOutcome(generated), iteration + 1
		}

		for _, call := range toolCalls {
			if outcome, ok := g.dispatchAndInject(ctx, runID, iteration, call, progressCB); !ok {
				return outcome, iteration
			}
		}
	}

	return timeoutOutcome(), g.opts.MaxIterations
}

// decodeNewTurn tokenizes and decodes a new, not-yet-processed span of
// conversation text (the formatted user turn at iteration 0), making room
// in the KV cache first if needed.
func (g *Governor) decodeNewTurn(ctx context.Context, iteration int, text string) (Outcome, bool) {
	tokens, err := g.engine.Tokenize(text, false)
	if err != nil {
		return errorOutcome(models.NewError(models.ErrBackendFailure, "tokenize user turn: %v", err)), false
	}

	if cmErr := g.ensureRoom(ctx, len(tokens)); cmErr != nil {
		return errorOutcome(cmErr), false
	}

	positions := make([]int, len(tokens))
	for i := range positions {
		positions[i] = g.ctx.currentPos + i
	}

	if g.opts.Tracer != nil {
		var span trace.Span
		ctx, span = g.opts.Tracer.TraceDecode(ctx, primarySeq, len(tokens))
		defer span.End()
	}
	if err := decodeInBatches(ctx, g.engine, tokens, positions, primarySeq); err != nil {
		return errorOutcome(models.NewError(models.ErrBackendFailure, "decode user turn: %v", err)), false
	}

	kvStart := g.ctx.currentPos
	g.ctx.currentPos += len(tokens)
	g.ctx.appendTurn(true, kvStart, g.ctx.currentPos, text)
	return Outcome{}, true
}

// generate runs the sampler chain for one iteration: sample, detokenize,
// stream-filter, feed the token back into the KV cache, and stop on
// end-of-generation or the configured per-response token cap.
func (g *Governor) generate(ctx context.Context, iteration int, progressCB ProgressCallback, tokenCB TokenCallback) (string, *LoopError) {
	seed := g.runSeed
	if g.opts.ReseedEachRequest {
		seed = time.Now().UnixNano()
	}
	chain := inference.NewSamplerChain(g.opts.Sampler, seed)
	defer chain.Close()

	filter := newStreamFilter()
	var generated strings.Builder

	genStart := g.ctx.currentPos
	emitProgress(progressCB, models.ProgressThinking, iteration, "", "")

	if g.opts.Tracer != nil {
		var span trace.Span
		ctx, span = g.opts.Tracer.TraceDecode(ctx, primarySeq, g.opts.MaxTokensPerResponse)
		defer span.End()
	}

	text := ""
	truncated := false
	for n := 0; n < g.opts.MaxTokensPerResponse; n++ {
		if err := ctx.Err(); err != nil {
			break
		}

		tok, err := g.engine.SampleNext(chain)
		if err != nil {
			return "", newLoopError(PhaseSample, iteration, models.NewError(models.ErrBackendFailure, "sample: %v", err))
		}
		if g.engine.IsEndOfGeneration(tok) {
			break
		}

		piece := g.engine.DetokenizePiece(tok)
		prevLen := generated.Len()
		generated.WriteString(piece)

		// Early stop on a chat-format end marker: the model has started the
		// next template turn itself. The trailing sentinel is cut from the
		// response and the final token is not fed back.
		if cut, hit := truncateAtEndMarker(generated.String()); hit {
			if len(cut) > prevLen && tokenCB != nil {
				if emit := filter.feed(cut[prevLen:]); emit != "" {
					tokenCB(emit)
				}
			}
			text = cut
			truncated = true
			break
		}

		if emit := filter.feed(piece); emit != "" && tokenCB != nil {
			tokenCB(emit)
		}

		if err := g.engine.Decode(ctx, []inference.Token{tok}, []int{g.ctx.currentPos}, primarySeq, false); err != nil {
			return "", newLoopError(PhaseDecode, iteration, models.NewError(models.ErrBackendFailure, "decode generated token: %v", err))
		}
		g.ctx.currentPos++

		// Early stop on a closed tool-call tag: nothing after "/>" matters
		// until the call's result is back in context.
		if hasCompleteToolCall(generated.String()) {
			break
		}
	}
	if !truncated {
		text = generated.String()
	}

	g.ctx.appendTurn(false, genStart, g.ctx.currentPos, text)
	return text, nil
}

// dispatchAndInject executes one parsed tool call, wraps its result (or
// error) in the PREFIX/SUFFIX markers, and decodes the wrapped wire text
// back into the KV cache so the next iteration's sampling continues from
// the freshly appended assistant marker.
func (g *Governor) dispatchAndInject(ctx context.Context, runID string, iteration int, call models.ToolCall, progressCB ProgressCallback) (Outcome, bool) {
	emitProgress(progressCB, models.ProgressToolCall, iteration, call.Name, "")
	if g.opts.Audit != nil {
		g.opts.Audit.LogToolInvocation(ctx, runID, call.Name, call.Raw, call.Args)
	}

	toolCtx := ctx
	var cancel context.CancelFunc
	if g.opts.ToolTimeout > 0 {
		toolCtx, cancel = context.WithTimeout(ctx, g.opts.ToolTimeout)
		defer cancel()
	}

	dispatchStart := time.Now()
	var toolSpan trace.Span
	if g.opts.Tracer != nil {
		toolCtx, toolSpan = g.opts.Tracer.TraceToolExecution(toolCtx, call.Name)
	}
	result := tooling.Execute(toolCtx, call, g.registry)
	if toolSpan != nil {
		g.opts.Tracer.SetAttributes(toolSpan, "ok", result.OK)
		toolSpan.End()
	}

	var middle string
	if result.OK {
		payload := string(result.Result)
		if len(payload) > DefaultMaxToolResultSize {
			payload = payload[:DefaultMaxToolResultSize]
		}
		payload = g.opts.ResultGuard.Apply(payload)
		middle = payload
		emitProgress(progressCB, models.ProgressToolResult, iteration, call.Name, payload)
		if g.opts.Audit != nil {
			g.opts.Audit.LogToolResult(ctx, runID, call.Name, call.Raw, len(payload), time.Since(dispatchStart))
		}
	} else {
		middle = formatToolError(result.Message)
		emitProgress(progressCB, models.ProgressToolError, iteration, call.Name, result.Message)
		if g.opts.Audit != nil {
			g.opts.Audit.LogToolError(ctx, runID, call.Name, call.Raw, result.Message)
		}
	}
	if g.opts.Metrics != nil {
		status := "ok"
		if !result.OK {
			status = "error"
		}
		g.opts.Metrics.RecordToolExecution(call.Name, status, time.Since(dispatchStart).Seconds())
	}

	kvStart, kvEnd, werr := g.injectWrapped(ctx, middle)
	if werr != nil {
		if werr.Kind != models.ErrResourceExhausted {
			return errorOutcome(werr), false
		}
		// Even the PREFIX/SUFFIX wrapper markers don't fit the remaining
		// n_ctx budget after the Context Manager ran out of turns to
		// evict: the wrapper's token count is fixed, so nothing — not
		// even a truncated error payload — can be wrapped and decoded.
		// Tool failures recover locally rather than aborting the run:
		// drop the result, surface it through the progress/audit channel,
		// and let the loop continue.
		emitProgress(progressCB, models.ProgressToolError, iteration, call.Name, "context exhausted")
		if g.opts.Audit != nil {
			g.opts.Audit.LogToolError(ctx, runID, call.Name, call.Raw, "context exhausted")
		}
		return Outcome{}, true
	}
	g.ctx.appendTurn(true, kvStart, kvEnd, middle)
	return Outcome{}, true
}

// injectWrapped tokenizes middle and decodes prefixTokens + middleTokens +
// suffixTokens as one contiguous span. The Context Manager is asked to make
// room for the wrapper tokens only; middle is then truncated to whatever
// n_ctx budget remains (possibly to nothing). If even the wrapper cannot
// fit, it returns ContextExhausted and decodes nothing.
func (g *Governor) injectWrapped(ctx context.Context, middle string) (kvStart, kvEnd int, err *models.Error) {
	wrapLen := len(g.ctx.prefixTokens) + len(g.ctx.suffixTokens)
	if cmErr := g.ensureRoom(ctx, wrapLen); cmErr != nil {
		return 0, 0, cmErr
	}

	middleTokens, tokErr := g.engine.Tokenize(middle, false)
	if tokErr != nil {
		return 0, 0, models.NewError(models.ErrBackendFailure, "tokenize tool result: %v", tokErr)
	}

	remaining := g.engine.NCtx() - g.ctx.currentPos - wrapLen
	if remaining < 0 {
		remaining = 0
	}
	if len(middleTokens) > remaining {
		middleTokens = middleTokens[:remaining]
	}

	all := make([]inference.Token, 0, wrapLen+len(middleTokens))
	all = append(all, cloneTokens(g.ctx.prefixTokens)...)
	all = append(all, middleTokens...)
	all = append(all, g.ctx.suffixTokens...)

	positions := make([]int, len(all))
	for i := range positions {
		positions[i] = g.ctx.currentPos + i
	}
	if derr := decodeInBatches(ctx, g.engine, all, positions, primarySeq); derr != nil {
		return 0, 0, models.NewError(models.ErrBackendFailure, "decode tool result: %v", derr)
	}

	kvStart = g.ctx.currentPos
	g.ctx.currentPos += len(all)
	return kvStart, g.ctx.currentPos, nil
}

// ensureRoom invokes the Context Manager until needed tokens fit in the
// remaining KV budget, or reports ContextExhausted. When needed alone
// exceeds the budget available with every turn evicted, it fails without
// touching any state.
func (g *Governor) ensureRoom(ctx context.Context, needed int) *models.Error {
	if g.opts.Metrics != nil {
		g.opts.Metrics.KVPositionUsed.Observe(float64(g.ctx.currentPos) / float64(g.engine.NCtx()))
	}

	budget := g.engine.NCtx() - g.ctx.systemPromptLen
	if needed > budget {
		return ErrContextExhausted
	}
	if g.ctx.currentPos+needed <= g.engine.NCtx() {
		return nil
	}

	keep := g.opts.KeepLastK
	for g.ctx.currentPos+needed > g.engine.NCtx() {
		if len(g.ctx.turns) == 0 {
			return ErrContextExhausted
		}
		before := len(g.ctx.turns)
		posBefore := g.ctx.currentPos
		policy := "shift_window"
		if g.opts.SummarizeFn != nil && g.opts.Memory != nil {
			policy = "summarize_old"
		}

		var cmSpan trace.Span
		if g.opts.Tracer != nil {
			_, cmSpan = g.opts.Tracer.TraceContextManager(ctx, policy)
		}

		if policy == "summarize_old" {
			text, result := ctxmgr.SummarizeOld(g.ctx.turns, g.ctx.currentPos, keep, g.opts.SummaryDetailLevel, g.opts.SummarizeFn, g.engine, primarySeq)
			if text != "" {
				g.opts.Memory.Add(text, ctxmgr.SummaryTags, ctxmgr.SummaryImportance, false)
			}
			g.ctx.turns = result.Turns
			g.ctx.currentPos = result.CurrentPos
		} else {
			result := ctxmgr.ShiftWindow(g.ctx.turns, g.ctx.currentPos, keep, g.engine, primarySeq)
			g.ctx.turns = result.Turns
			g.ctx.currentPos = result.CurrentPos
		}

		if cmSpan != nil {
			g.opts.Tracer.SetAttributes(cmSpan,
				"turns_before", before,
				"turns_after", len(g.ctx.turns),
				"pos_after", g.ctx.currentPos,
			)
			cmSpan.End()
		}
		if g.opts.Metrics != nil {
			g.opts.Metrics.RecordContextManagerInvocation(policy)
		}
		if g.opts.Audit != nil {
			g.opts.Audit.LogContextManager(ctx, "", audit.ContextManagerDetails{
				Policy:      policy,
				TurnsBefore: before,
				TurnsAfter:  len(g.ctx.turns),
				PosBefore:   posBefore,
				PosAfter:    g.ctx.currentPos,
			})
		}

		if len(g.ctx.turns) == before {
			if keep == 0 {
				return ErrContextExhausted
			}
			keep = 0
		}
	}
	return nil
}

func emitProgress(cb ProgressCallback, typ models.ProgressEventType, iteration int, toolName, detail string) {
	if cb == nil {
		return
	}
	cb(models.ProgressEvent{
		Type:      typ,
		Iteration: iteration,
		ToolName:  toolName,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}
