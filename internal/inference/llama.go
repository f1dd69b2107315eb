//go:build llama

package inference

/*
#cgo CFLAGS: -O3 -std=c11 -fPIC
#cgo CXXFLAGS: -std=c++11 -fPIC
#cgo LDFLAGS: -lllama -lm -lstdc++
#cgo darwin LDFLAGS: -framework Accelerate -framework Foundation -framework Metal -framework MetalKit

#include <stdlib.h>
#include "llama.h"

struct vassal_sample_params {
	float   repeat_penalty;
	int32_t repeat_last_n;
	int32_t top_k;
	float   top_p;
	float   temperature;
};

// vassal_decode evaluates n_tokens at explicit caller-supplied positions in
// seq_id. logits are requested for the last token only when want_logits is
// nonzero.
int vassal_decode(struct llama_context *ctx, llama_token *tokens, int32_t *pos, int n_tokens, int seq_id, int want_logits) {
	if (n_tokens < 1) return 0;
	llama_batch batch = llama_batch_init(n_tokens, 0, 1);
	batch.n_tokens = n_tokens;
	for (int i = 0; i < n_tokens; i++) {
		batch.token[i] = tokens[i];
		batch.pos[i] = pos[i];
		batch.seq_id[i][0] = seq_id;
		batch.n_seq_id[i] = 1;
		batch.logits[i] = 0;
	}
	if (want_logits) {
		batch.logits[n_tokens - 1] = 1;
	}
	int e = llama_decode(ctx, batch);
	llama_batch_free(batch);
	return e;
}

llama_token vassal_sample(struct llama_context *ctx, struct vassal_sample_params *params, llama_token *last_tokens, int n_last_tokens) {
	float *logits = llama_get_logits_ith(ctx, -1);
	if (logits == NULL) {
		return -1;
	}
	const struct llama_model *model = llama_get_model(ctx);
	int n_vocab = llama_n_vocab(model);

	llama_token_data *data = malloc(sizeof(llama_token_data) * n_vocab);
	if (data == NULL) {
		return -1;
	}
	for (int i = 0; i < n_vocab; i++) {
		data[i].id = i;
		data[i].logit = logits[i];
		data[i].p = 0;
	}
	llama_token_data_array candidates = {data, n_vocab, false};

	// Penalties first, then top-k, top-p, temperature, final draw.
	if (n_last_tokens > 0) {
		llama_sample_repetition_penalties(
			ctx, &candidates,
			last_tokens, n_last_tokens,
			params->repeat_penalty, 0.0f, 0.0f);
	}

	llama_token token;
	if (params->temperature <= 0) {
		token = llama_sample_token_greedy(ctx, &candidates);
	} else {
		llama_sample_top_k(ctx, &candidates, params->top_k, 1);
		llama_sample_top_p(ctx, &candidates, params->top_p, 1);
		llama_sample_temp(ctx, &candidates, params->temperature);
		token = llama_sample_token(ctx, &candidates);
	}

	free(data);
	return token;
}

void vassal_log_handler(enum ggml_log_level level, const char *text, void *user) {
	(void)(user);
	// Only warnings and errors escape to stderr; INFO-level load chatter is
	// surfaced through the Go logger instead.
	if (level <= GGML_LOG_LEVEL_INFO) return;
	fputs(text, stderr);
	fflush(stderr);
}

static void vassal_mute(void) {
	llama_log_set(vassal_log_handler, NULL);
}
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"
)

// LlamaEngine is the cgo-backed Engine over llama.cpp. Build with
// -tags llama and llama.cpp's headers/library on the include/link path;
// without the tag the package offers only the MockEngine and the deciding
// Engine interface, so the core remains testable on machines with no
// native toolchain.
//
// Not thread-safe, like every Engine implementation.
type LlamaEngine struct {
	log zerolog.Logger

	model *C.struct_llama_model
	lctx  *C.struct_llama_context

	nCtx   int
	nBatch int

	eosToken Token
}

var llamaBackendOnce sync.Once

// NewLlamaEngine constructs an unloaded engine. log receives model-load
// diagnostics and native-layer warnings.
func NewLlamaEngine(log zerolog.Logger) *LlamaEngine {
	return &LlamaEngine{log: log}
}

func (e *LlamaEngine) Load(modelPath string, params LoadParams) error {
	llamaBackendOnce.Do(func() {
		C.llama_backend_init()
		C.vassal_mute()
	})

	if e.lctx != nil {
		_ = e.Close()
	}
	if _, err := os.Stat(modelPath); err != nil {
		return &ModelLoadFailedError{Path: modelPath, Err: err}
	}

	if params.NCtx <= 0 {
		params.NCtx = 4096
	}
	if params.NBatch <= 0 {
		params.NBatch = 1024
	}
	if params.NThreads <= 0 {
		params.NThreads = 4
	}

	mp := C.llama_model_default_params()
	mp.n_gpu_layers = C.int32_t(params.GPULayers)
	mp.use_mmap = C.bool(params.UseMmap)
	mp.use_mlock = C.bool(params.UseMlock)

	cPath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cPath))

	e.log.Debug().
		Str("model_path", modelPath).
		Int("n_ctx", params.NCtx).
		Int("n_batch", params.NBatch).
		Int("gpu_layers", params.GPULayers).
		Msg("loading model")

	e.model = C.llama_load_model_from_file(cPath, mp)
	if e.model == nil {
		return &ModelLoadFailedError{Path: modelPath, Err: fmt.Errorf("llama_load_model_from_file returned NULL")}
	}

	cp := C.llama_context_default_params()
	cp.n_ctx = C.uint32_t(params.NCtx)
	cp.n_batch = C.uint32_t(params.NBatch)
	cp.n_threads = C.int32_t(params.NThreads)
	cp.n_threads_batch = C.int32_t(params.NThreads)
	cp.flash_attn = C.bool(params.FlashAttn)

	e.lctx = C.llama_new_context_with_model(e.model, cp)
	if e.lctx == nil {
		C.llama_free_model(e.model)
		e.model = nil
		return &ModelLoadFailedError{Path: modelPath, Err: fmt.Errorf("llama_new_context_with_model returned NULL")}
	}

	e.nCtx = params.NCtx
	e.nBatch = params.NBatch
	e.eosToken = Token(C.llama_token_eos(e.model))
	e.log.Info().Str("model_path", modelPath).Msg("model loaded")
	return nil
}

func (e *LlamaEngine) Tokenize(text string, addBOS bool) ([]Token, error) {
	if e.model == nil {
		return nil, ErrNotLoaded
	}
	if text == "" && !addBOS {
		return nil, nil
	}
	buf := make([]Token, len(text)+8)
	n := C.llama_tokenize(
		e.model,
		(*C.char)(unsafe.Pointer(unsafe.StringData(text))),
		C.int32_t(len(text)),
		(*C.llama_token)(unsafe.SliceData(buf)),
		C.int32_t(len(buf)),
		C.bool(addBOS),
		C.bool(true),
	)
	if n < 0 {
		return nil, &TokenizeFailedError{Err: fmt.Errorf("llama_tokenize returned %d", n)}
	}
	return buf[:n], nil
}

func (e *LlamaEngine) Decode(ctx context.Context, tokens []Token, positions []int, seqID int, needLogitsMask bool) error {
	if e.lctx == nil {
		return ErrNotLoaded
	}
	if len(tokens) != len(positions) {
		return &DecodeFailedError{SeqID: seqID, Err: fmt.Errorf("token/position length mismatch: %d vs %d", len(tokens), len(positions))}
	}
	for _, r := range SplitBatches(tokens, positions, e.nBatch) {
		if err := ctx.Err(); err != nil {
			return &DecodeFailedError{SeqID: seqID, Err: err}
		}
		sub := tokens[r[0]:r[1]]
		pos := make([]int32, r[1]-r[0])
		for i := range pos {
			pos[i] = int32(positions[r[0]+i])
		}
		wantLogits := 0
		if needLogitsMask || r[1] == len(tokens) {
			wantLogits = 1
		}
		rc := C.vassal_decode(
			e.lctx,
			(*C.llama_token)(unsafe.SliceData(sub)),
			(*C.int32_t)(unsafe.SliceData(pos)),
			C.int(len(sub)),
			C.int(seqID),
			C.int(wantLogits),
		)
		if rc != 0 {
			return &DecodeFailedError{SeqID: seqID, Err: fmt.Errorf("llama_decode returned %d", rc)}
		}
	}
	return nil
}

func (e *LlamaEngine) SampleNext(chain *SamplerChain) (Token, error) {
	if e.lctx == nil {
		return 0, ErrNotLoaded
	}
	cfg := chain.Config()
	params := C.struct_vassal_sample_params{
		repeat_penalty: C.float(cfg.RepeatPenalty),
		repeat_last_n:  C.int32_t(cfg.RepeatLastN),
		top_k:          C.int32_t(cfg.TopK),
		top_p:          C.float(cfg.TopP),
		temperature:    C.float(cfg.Temperature),
	}

	history := chain.History()
	var last *C.llama_token
	if len(history) > 0 {
		last = (*C.llama_token)(unsafe.SliceData(history))
	}
	tok := C.vassal_sample(e.lctx, &params, last, C.int(len(history)))
	if tok < 0 {
		return 0, fmt.Errorf("inference: native sampler produced no token")
	}
	chain.Accept(Token(tok))
	return Token(tok), nil
}

func (e *LlamaEngine) DetokenizePiece(tok Token) string {
	if e.model == nil {
		return ""
	}
	var tmp [256]byte
	n := C.llama_token_to_piece(e.model, C.llama_token(tok), (*C.char)(unsafe.Pointer(&tmp[0])), C.int32_t(len(tmp)))
	if n < 0 {
		return ""
	}
	return string(tmp[:n])
}

func (e *LlamaEngine) KVRemove(seqID int, posStart, posEnd int) {
	if e.lctx == nil {
		return
	}
	C.llama_kv_cache_seq_rm(e.lctx, C.llama_seq_id(seqID), C.llama_pos(posStart), C.llama_pos(posEnd))
}

func (e *LlamaEngine) IsEndOfGeneration(tok Token) bool {
	return e.model != nil && tok == e.eosToken
}

func (e *LlamaEngine) NCtx() int    { return e.nCtx }
func (e *LlamaEngine) NBatch() int  { return e.nBatch }
func (e *LlamaEngine) Loaded() bool { return e.lctx != nil }

func (e *LlamaEngine) Close() error {
	if e.lctx != nil {
		C.llama_free(e.lctx)
		e.lctx = nil
	}
	if e.model != nil {
		C.llama_free_model(e.model)
		e.model = nil
	}
	return nil
}

var _ Engine = (*LlamaEngine)(nil)
