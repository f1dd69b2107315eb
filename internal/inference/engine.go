// Package inference is the Inference Adapter: a thin, typed
// facade over the underlying token-level inference library. It exposes
// load/tokenize/decode/sample/detokenize/kv_remove without leaking the
// native library's types past the package boundary.
//
// Not thread-safe: callers must serialize access to a single Engine.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// Token is a single token id in the model's vocabulary.
type Token = int32

// LoadParams configures model load.
type LoadParams struct {
	NCtx         int
	NBatch       int
	NThreads     int
	GPULayers    int
	UseMmap      bool
	UseMlock     bool
	KVCacheDType string
	FlashAttn    bool
}

// ModelLoadFailedError is returned by Load when the model file is absent
// or corrupt.
type ModelLoadFailedError struct {
	Path string
	Err  error
}

func (e *ModelLoadFailedError) Error() string {
	return fmt.Sprintf("model load failed for %q: %v", e.Path, e.Err)
}

func (e *ModelLoadFailedError) Unwrap() error { return e.Err }

// DecodeFailedError is returned by Decode when any sub-batch fails.
type DecodeFailedError struct {
	SeqID int
	Err   error
}

func (e *DecodeFailedError) Error() string {
	return fmt.Sprintf("decode failed for seq %d: %v", e.SeqID, e.Err)
}

func (e *DecodeFailedError) Unwrap() error { return e.Err }

// TokenizeFailedError is returned by Tokenize on malformed input the
// tokenizer cannot encode.
type TokenizeFailedError struct {
	Err error
}

func (e *TokenizeFailedError) Error() string {
	return fmt.Sprintf("tokenize failed: %v", e.Err)
}

func (e *TokenizeFailedError) Unwrap() error { return e.Err }

// ErrNotLoaded is returned by any operation performed before Load succeeds.
var ErrNotLoaded = errors.New("inference: model not loaded")

// Engine is the minimal, typed interface over the native token-level
// inference library. Implementations must not leak
// library-specific types past this boundary.
type Engine interface {
	// Load loads a model from modelPath with the given parameters. Fails
	// with *ModelLoadFailedError if the file is absent or corrupt.
	Load(modelPath string, params LoadParams) error

	// Tokenize is pure; it carries no context state.
	Tokenize(text string, addBOS bool) ([]Token, error)

	// Decode processes a contiguous batch of tokens at caller-specified
	// positions in the given KV sequence. The adapter internally splits
	// into sub-batches respecting n_batch. Fails with *DecodeFailedError
	// if any sub-batch fails.
	Decode(ctx context.Context, tokens []Token, positions []int, seqID int, needLogitsMask bool) error

	// SampleNext draws the next token from the logits of the last decoded
	// position of the target sequence, using the given sampler chain.
	SampleNext(chain *SamplerChain) (Token, error)

	// DetokenizePiece returns the short byte string a single token
	// decodes to.
	DetokenizePiece(tok Token) string

	// KVRemove evicts the half-open position range [posStart, posEnd)
	// from the given sequence.
	KVRemove(seqID int, posStart, posEnd int)

	// IsEndOfGeneration reports whether tok is an end-of-generation
	// sentinel for the loaded model.
	IsEndOfGeneration(tok Token) bool

	// NCtx returns the configured maximum position for the loaded model.
	NCtx() int

	// NBatch returns the configured sub-batch size.
	NBatch() int

	// Loaded reports whether a model is currently loaded.
	Loaded() bool

	// Close unloads the model and frees all native resources.
	Close() error
}

// SplitBatches splits tokens/positions into sub-batches of at most
// nBatch tokens each, the way Decode must internally chunk its input
// before calling the native decode primitive.
func SplitBatches(tokens []Token, positions []int, nBatch int) [][2]int {
	if nBatch <= 0 {
		nBatch = len(tokens)
	}
	var ranges [][2]int
	for start := 0; start < len(tokens); start += nBatch {
		end := start + nBatch
		if end > len(tokens) {
			end = len(tokens)
		}
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges
}
