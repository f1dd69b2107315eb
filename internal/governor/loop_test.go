package governor

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/vassal/internal/governor/ctxmgr"
	"github.com/haasonsaas/vassal/internal/inference"
	"github.com/haasonsaas/vassal/internal/memorystore"
	"github.com/haasonsaas/vassal/internal/tooling"
	"github.com/haasonsaas/vassal/pkg/models"
)

func newTestGovernor(t *testing.T, nCtx int, opts Options) (*Governor, *inference.MockEngine) {
	t.Helper()
	engine := inference.NewMockEngine()
	registry := tooling.NewRegistry()
	if err := tooling.RegisterBuiltins(registry); err != nil {
		t.Fatalf("register builtins: %v", err)
	}

	g := NewGovernor(engine, registry, opts)
	if err := g.LoadModel(context.Background(), "/models/test.gguf", inference.LoadParams{NCtx: nCtx, NBatch: 256}, 42); err != nil {
		t.Fatalf("load model: %v", err)
	}
	return g, engine
}

func newTempMemoryStore(t *testing.T) *memorystore.Store {
	t.Helper()
	result := memorystore.Init("governor-test-session", t.TempDir())
	store, ok := result.Value()
	if !ok {
		t.Fatalf("init memory store: %v", result.Err())
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// A pure-answer response with no tool calls completes on the first
// iteration.
func TestExecute_PureAnswer(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 3})
	engine.EnqueueResponse("The answer is 4.")

	outcome := g.Execute(context.Background(), "what is 2+2", nil, nil)

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", outcome.Kind, outcome.Err)
	}
	if !strings.Contains(outcome.Text, "answer is 4") {
		t.Fatalf("unexpected text: %q", outcome.Text)
	}
	if g.State() != StateModelLoaded {
		t.Fatalf("expected MODEL_LOADED after success, got %s", g.State())
	}
	if len(g.ctx.Turns()) != 2 {
		t.Fatalf("expected 2 turns (user + assistant), got %d", len(g.ctx.Turns()))
	}
}

// A single calculator call is dispatched, its result injected, and the
// follow-up generation completes without further tool calls.
func TestExecute_SingleToolCall(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 3})
	engine.EnqueueResponse(`<tool_call name="calculator_compute" expression="2+2" />`)
	engine.EnqueueResponse("The result is 4.")

	var toolResults int
	outcome := g.Execute(context.Background(), "compute 2+2", func(e models.ProgressEvent) {
		if e.Type == models.ProgressToolResult {
			toolResults++
		}
	}, nil)

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", outcome.Kind, outcome.Err)
	}
	if toolResults != 1 {
		t.Fatalf("expected exactly 1 tool result event, got %d", toolResults)
	}
	if !strings.Contains(outcome.Text, "result is 4") {
		t.Fatalf("unexpected final text: %q", outcome.Text)
	}
	// user turn, assistant tool-call turn, tool-result turn, final assistant turn.
	if len(g.ctx.Turns()) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(g.ctx.Turns()))
	}
}

// A malformed, never-closed tool_call fragment is not parsed as a call;
// the response completes as plain text.
func TestExecute_MalformedToolCallIgnored(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 3})
	engine.EnqueueResponse(`here is some text <tool_call name="broken"`)

	outcome := g.Execute(context.Background(), "try something", nil, nil)
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success (malformed call ignored), got %s (%v)", outcome.Kind, outcome.Err)
	}
}

// The stream filter must never leak a tool_call tag's text to token_cb.
func TestExecute_StreamFilterSuppressesToolCallTag(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 3})
	engine.EnqueueResponse(`before <tool_call name="calculator_compute" expression="1+1" /> after`)
	engine.EnqueueResponse("done")

	var streamed strings.Builder
	outcome := g.Execute(context.Background(), "go", nil, func(s string) {
		streamed.WriteString(s)
	})

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", outcome.Kind, outcome.Err)
	}
	if strings.Contains(streamed.String(), "tool_call") {
		t.Fatalf("tool_call tag leaked to token_cb: %q", streamed.String())
	}
}

// A response that runs into a chat-format end marker is truncated at the
// marker and generation halts; neither the marker nor the text after it
// reaches the final response or token_cb.
func TestExecute_TruncatesAtChatEndMarker(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 3})
	engine.EnqueueResponse("Hello there<|im_end|>garbage")

	var streamed strings.Builder
	outcome := g.Execute(context.Background(), "hi", nil, func(s string) {
		streamed.WriteString(s)
	})

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", outcome.Kind, outcome.Err)
	}
	if outcome.Text != "Hello there" {
		t.Fatalf("expected truncated response %q, got %q", "Hello there", outcome.Text)
	}
	if strings.Contains(streamed.String(), "im_end") || strings.Contains(streamed.String(), "garbage") {
		t.Fatalf("end marker leaked to token_cb: %q", streamed.String())
	}
}

// Generation stops at a closed tool-call tag: trailing text after "/>" in
// the same sampling pass is deferred until after the result injection.
func TestGenerate_StopsAtClosedToolCallTag(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 3})
	engine.EnqueueResponse(`<tool_call name="calculator_compute" expression="1+1" /> trailing words`)

	generated, lerr := g.generate(context.Background(), 0, nil, nil)
	if lerr != nil {
		t.Fatalf("generate: %v", lerr)
	}
	if strings.Contains(generated, "trailing") {
		t.Fatalf("expected generation halted at the closed tag, got %q", generated)
	}
	if len(tooling.ParseCalls(generated)) != 1 {
		t.Fatalf("expected the halted text to contain exactly the tool call, got %q", generated)
	}
}

// Once turn history exceeds KeepLastK, ensureRoom evicts the oldest
// turns via shift_window.
func TestEnsureRoom_ShiftWindowEvictsOldestTurns(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 1, KeepLastK: 1})

	// Override the bookkeeping LoadModel derived from the real system
	// prompt so the budget arithmetic in this test is exact and
	// independent of the tool catalog's token count.
	g.ctx.systemPromptLen = 10
	g.ctx.turns = nil
	g.ctx.appendTurn(true, 10, 15, "turn 1 user")
	g.ctx.appendTurn(false, 15, 20, "turn 1 assistant")
	g.ctx.appendTurn(true, 20, 25, "turn 2 user")
	g.ctx.appendTurn(false, 25, 30, "turn 2 assistant")
	g.ctx.currentPos = 30

	if err := engine.Load("/models/test.gguf", inference.LoadParams{NCtx: 32, NBatch: 256}); err != nil {
		t.Fatalf("reload engine: %v", err)
	}

	if err := g.ensureRoom(context.Background(), 10); err != nil {
		t.Fatalf("ensureRoom: %v", err)
	}
	if len(engine.Removed) == 0 {
		t.Fatalf("expected shift_window to evict a KV range, none removed")
	}
	if len(g.ctx.Turns()) != 1 {
		t.Fatalf("expected KeepLastK=1 turn to survive, got %d", len(g.ctx.Turns()))
	}
}

// A tool result too large to fit the remaining window is truncated
// rather than aborting the run.
func TestInjectWrapped_TruncatesOversizedToolResult(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 1})
	if err := engine.Load("/models/test.gguf", inference.LoadParams{NCtx: 64, NBatch: 256}); err != nil {
		t.Fatalf("reload engine: %v", err)
	}
	g.ctx.systemPromptLen = 5
	g.ctx.currentPos = 40 // leave little room before n_ctx=64

	huge := strings.Repeat("word ", 200)
	kvStart, kvEnd, err := g.injectWrapped(context.Background(), huge)
	if err != nil {
		t.Fatalf("injectWrapped: %v", err)
	}
	if kvEnd > 64 {
		t.Fatalf("decoded past n_ctx: kvEnd=%d", kvEnd)
	}
	if kvEnd <= kvStart {
		t.Fatalf("expected a non-empty decoded span")
	}
}

// When even the PREFIX/SUFFIX wrapper
// can't fit the remaining n_ctx budget and the Context Manager has no
// turns left to evict, the tool result is dropped and a ToolError event
// is surfaced instead of aborting the whole run.
func TestDispatchAndInject_WrapDoesNotFitRecoversLocally(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 1})
	if err := engine.Load("/models/test.gguf", inference.LoadParams{NCtx: 64, NBatch: 256}); err != nil {
		t.Fatalf("reload engine: %v", err)
	}
	g.ctx.systemPromptLen = 5
	g.ctx.turns = nil
	g.ctx.currentPos = 63 // one token of room left; PREFIX/SUFFIX alone can't fit

	var toolErrors int
	progressCB := func(e models.ProgressEvent) {
		if e.Type == models.ProgressToolError {
			toolErrors++
		}
	}

	call := models.ToolCall{Name: "calculator_compute", Args: []byte(`{"expression":"1+1"}`), Raw: `<tool_call name="calculator_compute" expression="1+1" />`}
	before := g.ctx.currentPos
	outcome, ok := g.dispatchAndInject(context.Background(), "run-1", 0, call, progressCB)
	if !ok {
		t.Fatalf("expected dispatchAndInject to recover locally, got error outcome: %v", outcome.Err)
	}
	if toolErrors != 1 {
		t.Fatalf("expected exactly 1 ToolError progress event, got %d", toolErrors)
	}
	if g.ctx.currentPos != before {
		t.Fatalf("expected current_pos untouched when the result is dropped, before=%d after=%d", before, g.ctx.currentPos)
	}
}

// A user query alone exceeding the
// entire usable budget (even with every turn evicted) is rejected without
// any state mutation.
func TestEnsureRoom_UnrecoverableBudgetLeavesStateUntouched(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 1})
	if err := engine.Load("/models/test.gguf", inference.LoadParams{NCtx: 64, NBatch: 256}); err != nil {
		t.Fatalf("reload engine: %v", err)
	}
	g.ctx.systemPromptLen = 10
	g.ctx.currentPos = 10
	g.ctx.turns = nil

	before := g.ctx.currentPos
	beforeTurns := len(g.ctx.Turns())

	err := g.ensureRoom(context.Background(), 1000)
	if err == nil {
		t.Fatalf("expected ContextExhausted, got nil")
	}
	if g.ctx.currentPos != before || len(g.ctx.Turns()) != beforeTurns {
		t.Fatalf("ensureRoom mutated state on an unrecoverable budget check")
	}
}

// summarize_old persists a Memory Store entry when a SummarizeFn and
// Memory are both configured.
func TestEnsureRoom_SummarizeOldPersistsToMemory(t *testing.T) {
	store := newTempMemoryStore(t)
	g, engine := newTestGovernor(t, 4096, Options{
		MaxIterations: 1,
		KeepLastK:     1,
		Memory:        store,
		SummarizeFn: func(turns []models.ConversationTurn) (string, error) {
			return "fallback summary text", nil
		},
	})
	if err := engine.Load("/models/test.gguf", inference.LoadParams{NCtx: 64, NBatch: 256}); err != nil {
		t.Fatalf("reload engine: %v", err)
	}

	g.ctx.systemPromptLen = 5
	g.ctx.turns = nil
	g.ctx.appendTurn(true, 0, 5, "a")
	g.ctx.appendTurn(false, 5, 10, "b")
	g.ctx.appendTurn(true, 10, 15, "c")
	g.ctx.currentPos = 15

	if err := g.ensureRoom(context.Background(), 50); err != nil {
		t.Fatalf("ensureRoom: %v", err)
	}

	found := false
	for _, e := range store.Entries() {
		if e.Text == "fallback summary text" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a summary entry to be persisted, got %+v", store.Entries())
	}
	_ = ctxmgr.SummaryTags // documents the tag set applied by ensureRoom's summarize path
}

// Execute refuses to run before a model is loaded.
func TestExecute_RejectsWhenModelNotLoaded(t *testing.T) {
	engine := inference.NewMockEngine()
	registry := tooling.NewRegistry()
	g := NewGovernor(engine, registry, Options{})

	outcome := g.Execute(context.Background(), "hi", nil, nil)
	if outcome.Kind != OutcomeError {
		t.Fatalf("expected error outcome, got %s", outcome.Kind)
	}
	if outcome.Err.Kind != ErrModelNotLoaded.Kind {
		t.Fatalf("expected ErrModelNotLoaded, got %v", outcome.Err)
	}
}

// max_iterations=0 returns Timeout
// without any decode, and a literal 0 must not get coerced to the
// package's default of 5.
func TestExecute_MaxIterationsZeroTimesOutWithoutDecode(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 0})
	engine.EnqueueResponse("should never be sampled")

	before := g.ctx.currentPos
	decodesBefore := engine.DecodeCalls
	outcome := g.Execute(context.Background(), "hello", nil, nil)
	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("expected timeout, got %s (%v)", outcome.Kind, outcome.Err)
	}
	if g.ctx.currentPos != before {
		t.Fatalf("expected current_pos untouched by a zero-iteration run, before=%d after=%d", before, g.ctx.currentPos)
	}
	if engine.DecodeCalls != decodesBefore {
		t.Fatalf("expected no decode calls during the run, before=%d after=%d", decodesBefore, engine.DecodeCalls)
	}
}

// Execute returns a timeout outcome once max_iterations is exhausted
// without a tool-call-free response.
func TestExecute_TimeoutAfterMaxIterations(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 2})
	engine.EnqueueResponse(`<tool_call name="calculator_compute" expression="1+1" />`)
	engine.EnqueueResponse(`<tool_call name="calculator_compute" expression="1+1" />`)

	outcome := g.Execute(context.Background(), "loop forever", nil, nil)
	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("expected timeout, got %s (%v)", outcome.Kind, outcome.Err)
	}
}

// Execute reports a timeout outcome when the caller's context is already
// cancelled.
func TestExecute_CancelledContext(t *testing.T) {
	g, engine := newTestGovernor(t, 4096, Options{MaxIterations: 3})
	engine.EnqueueResponse("hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := g.Execute(ctx, "hi", nil, nil)
	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("expected timeout on cancelled context, got %s", outcome.Kind)
	}
}
