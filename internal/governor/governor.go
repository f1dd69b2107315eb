// Package governor implements the Governor: the tool-orchestrating
// reasoning loop that drives the inference engine, the tool registry, and
// the context manager through a single conversation at a time. Each
// Execute iteration runs three phases — decode the pending text, sample a
// response, dispatch any tool calls it contains — until the model produces
// a response with no tool calls or the iteration budget runs out. The
// whole loop is single-threaded by contract: one caller, one goroutine,
// no internal queueing.
package governor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/vassal/internal/audit"
	"github.com/haasonsaas/vassal/internal/governor/ctxmgr"
	"github.com/haasonsaas/vassal/internal/inference"
	"github.com/haasonsaas/vassal/internal/memorystore"
	"github.com/haasonsaas/vassal/internal/obslog"
	"github.com/haasonsaas/vassal/internal/tooling"
	"github.com/haasonsaas/vassal/pkg/models"
)

// State is the Governor's lifecycle state machine:
//
//	UNINITIALIZED -> INIT -> MODEL_LOADED <-> EXECUTING
//
// ERROR is a recoverable subset of MODEL_LOADED: a failed Execute leaves
// the Governor in ERROR, but a new Execute call is accepted exactly as it
// would be from MODEL_LOADED.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInit          State = "init"
	StateModelLoaded   State = "model_loaded"
	StateExecuting     State = "executing"
	StateError         State = "error"
)

// Options configures a Governor, mirroring internal/config's
// GovernorConfig/ContextMgrConfig/ToolingConfig field for field so callers
// can build Options directly off a loaded Config.
type Options struct {
	MaxIterations        int
	MaxTokensPerResponse int
	ToolTimeout          time.Duration
	Sampler              inference.SamplerConfig
	ReseedEachRequest    bool

	KeepLastK          int
	ShiftThreshold     float64
	SummaryDetailLevel ctxmgr.DetailLevel
	SummarizeFn        ctxmgr.SummarizeFunc

	ResultGuard ToolResultGuard

	// Memory, if set, receives a Memory Store entry for every summary
	// summarize_old produces.
	Memory *memorystore.Store

	Audit   *audit.Logger
	Metrics *obslog.Metrics
	Tracer  *obslog.Tracer
}

// UnsetMaxIterations marks Options.MaxIterations as not configured by the
// caller, so setDefaults applies the default of 5. A literal 0 is left
// untouched: it must reach runLoop and return a timeout without any
// decode.
const UnsetMaxIterations = -1

func (o *Options) setDefaults() {
	if o.MaxIterations == UnsetMaxIterations {
		o.MaxIterations = 5
	}
	if o.MaxTokensPerResponse <= 0 {
		o.MaxTokensPerResponse = 512
	}
	if o.KeepLastK < 0 {
		o.KeepLastK = 0
	}
	if o.ShiftThreshold <= 0 {
		o.ShiftThreshold = 0.9
	}
	if o.SummaryDetailLevel == "" {
		o.SummaryDetailLevel = ctxmgr.DetailBrief
	}
}

// Governor is the tool-orchestrating reasoning loop: one loaded model,
// one primary KV sequence, one registry of tools, driven by a single
// goroutine.
type Governor struct {
	mu sync.Mutex

	engine   inference.Engine
	registry *tooling.Registry
	opts     Options

	state State
	ctx   *ConversationContext

	modelPath  string
	loadParams inference.LoadParams
	runSeed    int64
}

// NewGovernor constructs a Governor bound to engine and registry. It does
// not take ownership of engine's lifecycle beyond LoadModel/UnloadModel.
func NewGovernor(engine inference.Engine, registry *tooling.Registry, opts Options) *Governor {
	opts.setDefaults()
	g := &Governor{
		engine:   engine,
		registry: registry,
		opts:     opts,
		state:    StateUninitialized,
	}
	// With a Memory Store wired and no caller-supplied summarizer, the
	// summarize_old policy runs the loaded model itself on the scratch
	// sequence; ctxmgr falls back to preview concatenation if that fails.
	if g.opts.SummarizeFn == nil && g.opts.Memory != nil {
		g.opts.SummarizeFn = g.modelSummarizer()
	}
	return g
}

// State returns the Governor's current lifecycle state.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LoadModel frees any prior KV context and wrappers, loads the model,
// decodes the tool catalog system prompt, records
// system_prompt_len/current_pos, and pre-tokenizes the PREFIX/SUFFIX
// wrapper constants once for the life of the context.
func (g *Governor) LoadModel(ctx context.Context, modelPath string, params inference.LoadParams, seed int64) *models.Error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateExecuting {
		return models.NewError(models.ErrInvalidArgument, "cannot load a model while a run is executing")
	}

	start := time.Now()
	if g.engine.Loaded() {
		_ = g.engine.Close()
	}
	g.ctx = nil
	g.state = StateInit

	fail := func(kind models.ErrorKind, format string, args ...any) *models.Error {
		_ = g.engine.Close()
		g.state = StateUninitialized
		err := models.NewError(kind, format, args...)
		if g.opts.Audit != nil {
			g.opts.Audit.LogModelLoad(ctx, false, modelPath, time.Since(start))
		}
		return err
	}

	if err := g.engine.Load(modelPath, params); err != nil {
		return fail(models.ErrBackendFailure, "load model: %v", err)
	}

	var sysPrompt strings.Builder
	g.registry.BuildSystemPrompt(&sysPrompt)

	sysTokens, err := g.engine.Tokenize(sysPrompt.String(), true)
	if err != nil {
		return fail(models.ErrBackendFailure, "tokenize system prompt: %v", err)
	}
	positions := make([]int, len(sysTokens))
	for i := range positions {
		positions[i] = i
	}
	if err := decodeInBatches(ctx, g.engine, sysTokens, positions, primarySeq); err != nil {
		return fail(models.ErrBackendFailure, "decode system prompt: %v", err)
	}

	prefixTokens, err := g.engine.Tokenize(toolResultPrefix, false)
	if err != nil {
		return fail(models.ErrBackendFailure, "tokenize tool-result prefix: %v", err)
	}
	suffixTokens, err := g.engine.Tokenize(toolResultSuffix, false)
	if err != nil {
		return fail(models.ErrBackendFailure, "tokenize tool-result suffix: %v", err)
	}

	g.modelPath = modelPath
	g.loadParams = params
	g.runSeed = seed
	g.ctx = &ConversationContext{
		systemPromptLen: len(sysTokens),
		currentPos:      len(sysTokens),
		prefixTokens:    prefixTokens,
		suffixTokens:    suffixTokens,
	}
	g.state = StateModelLoaded

	if g.opts.Audit != nil {
		g.opts.Audit.LogModelLoad(ctx, true, modelPath, time.Since(start))
	}
	return nil
}

// UnloadModel implements unload_model: frees the native engine and all
// Conversation Context state, returning the Governor to UNINITIALIZED.
func (g *Governor) UnloadModel() *models.Error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateExecuting {
		return models.NewError(models.ErrInvalidArgument, "cannot unload a model while a run is executing")
	}
	if g.engine.Loaded() {
		if err := g.engine.Close(); err != nil {
			return models.NewError(models.ErrBackendFailure, "close engine: %v", err)
		}
	}
	g.ctx = nil
	g.modelPath = ""
	g.state = StateUninitialized
	return nil
}

// ConversationContext exposes the live positional bookkeeping, chiefly for
// diagnostics and tests; nil before a model is loaded.
func (g *Governor) ConversationContext() *ConversationContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}

func decodeInBatches(ctx context.Context, engine inference.Engine, tokens []inference.Token, positions []int, seqID int) error {
	for _, r := range inference.SplitBatches(tokens, positions, engine.NBatch()) {
		if err := engine.Decode(ctx, tokens[r[0]:r[1]], positions[r[0]:r[1]], seqID, false); err != nil {
			return err
		}
	}
	return nil
}

func cloneTokens(tokens []inference.Token) []inference.Token {
	out := make([]inference.Token, len(tokens))
	copy(out, tokens)
	return out
}
