package inference

import (
	"context"
	"fmt"
	"strings"
)

// Reserved mock vocabulary ids. Real vocabularies reserve low ids for
// control tokens; the mock follows the same convention so tests can assert
// against IsEndOfGeneration without depending on vocab contents.
const (
	mockBOS        Token = 1
	mockEOG        Token = 2
	firstFreeToken Token = 3
)

// MockEngine is a deterministic, scriptable stand-in for the cgo-backed
// Engine, used throughout the test suite in place of a real model.
//
// Responses are scripted with EnqueueResponse: each call to SampleNext
// drains the oldest enqueued response one token at a time, then returns
// the end-of-generation token once exhausted, at which point the next
// enqueued response becomes active for the following decode/sample cycle.
// A response ending in a closed tool-call tag carries no EOG terminator,
// matching a caller that halts generation at the tag and resumes sampling
// only after injecting the tool result.
type MockEngine struct {
	loaded bool
	params LoadParams

	vocabFwd map[string]Token
	vocabRev map[Token]string
	nextTok  Token

	queue  []scriptedResponse
	active *scriptedResponse
	cursor int

	// Removed records kv_remove calls for assertions in Context Manager
	// tests.
	Removed []KVRange

	// DecodeCalls counts Decode invocations.
	DecodeCalls int

	// ForceTokenizeErr, when set, is returned by the next Tokenize call.
	ForceTokenizeErr error
	// ForceDecodeErr, when set, is returned by every subsequent Decode call.
	ForceDecodeErr error
}

// KVRange is a half-open [Start, End) position range removed from a
// sequence by KVRemove.
type KVRange struct {
	SeqID      int
	Start, End int
}

// NewMockEngine constructs an unloaded mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		vocabFwd: map[string]Token{"<bos>": mockBOS, "<eog>": mockEOG},
		vocabRev: map[Token]string{mockBOS: "", mockEOG: ""},
		nextTok:  firstFreeToken,
	}
}

// scriptedResponse is one enqueued model response. endsWithToolCall marks a
// response whose final piece closes a tool-call tag; such responses end by
// caller halt, not by an EOG draw.
type scriptedResponse struct {
	tokens           []Token
	endsWithToolCall bool
}

// EnqueueResponse scripts a full response text to be drained token-by-token
// across subsequent SampleNext calls, as if the model had generated it.
func (m *MockEngine) EnqueueResponse(text string) {
	m.queue = append(m.queue, scriptedResponse{
		tokens:           m.tokenizePieces(text),
		endsWithToolCall: strings.HasSuffix(strings.TrimSpace(text), "/>"),
	})
}

func (m *MockEngine) Load(modelPath string, params LoadParams) error {
	if modelPath == "" {
		return &ModelLoadFailedError{Path: modelPath, Err: fmt.Errorf("empty model path")}
	}
	if strings.Contains(modelPath, "::corrupt::") {
		return &ModelLoadFailedError{Path: modelPath, Err: fmt.Errorf("corrupt model file")}
	}
	if params.NCtx <= 0 {
		params.NCtx = 4096
	}
	if params.NBatch <= 0 {
		params.NBatch = 1024
	}
	m.params = params
	m.loaded = true
	return nil
}

// tokenizePieces splits text into leading-space-carrying pieces the way a
// real SentencePiece-style tokenizer does: the first piece of a run has no
// leading space, every subsequent piece carries the space that separated
// it from its predecessor. Concatenating DetokenizePiece output for the
// returned tokens reconstructs text exactly.
func (m *MockEngine) tokenizePieces(text string) []Token {
	if text == "" {
		return nil
	}
	var pieces []string
	rest := text
	first := true
	for len(rest) > 0 {
		idx := strings.IndexByte(rest, ' ')
		var word string
		if idx < 0 {
			word = rest
			rest = ""
		} else {
			word = rest[:idx]
			rest = rest[idx+1:]
		}
		if first {
			pieces = append(pieces, word)
			first = false
		} else {
			pieces = append(pieces, " "+word)
		}
	}
	toks := make([]Token, 0, len(pieces))
	for _, p := range pieces {
		toks = append(toks, m.internPiece(p))
	}
	return toks
}

func (m *MockEngine) internPiece(piece string) Token {
	if tok, ok := m.vocabFwd[piece]; ok {
		return tok
	}
	tok := m.nextTok
	m.nextTok++
	m.vocabFwd[piece] = tok
	m.vocabRev[tok] = piece
	return tok
}

func (m *MockEngine) Tokenize(text string, addBOS bool) ([]Token, error) {
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	if m.ForceTokenizeErr != nil {
		err := m.ForceTokenizeErr
		m.ForceTokenizeErr = nil
		return nil, &TokenizeFailedError{Err: err}
	}
	toks := m.tokenizePieces(text)
	if addBOS {
		toks = append([]Token{mockBOS}, toks...)
	}
	return toks, nil
}

func (m *MockEngine) Decode(ctx context.Context, tokens []Token, positions []int, seqID int, needLogitsMask bool) error {
	if !m.loaded {
		return ErrNotLoaded
	}
	if len(tokens) != len(positions) {
		return &DecodeFailedError{SeqID: seqID, Err: fmt.Errorf("token/position length mismatch: %d vs %d", len(tokens), len(positions))}
	}
	m.DecodeCalls++
	if m.ForceDecodeErr != nil {
		return &DecodeFailedError{SeqID: seqID, Err: m.ForceDecodeErr}
	}
	return nil
}

func (m *MockEngine) SampleNext(chain *SamplerChain) (Token, error) {
	if !m.loaded {
		return 0, ErrNotLoaded
	}
	for m.active == nil || m.cursor >= len(m.active.tokens) {
		if m.active != nil {
			halted := m.active.endsWithToolCall
			m.active = nil
			if !halted {
				return mockEOG, nil
			}
			// A tool-call response ends by caller halt, not an EOG draw;
			// the next sample continues straight into the next scripted
			// response, as a real model would after the result injection.
		}
		if len(m.queue) == 0 {
			return mockEOG, nil
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.active = &next
		m.cursor = 0
	}
	tok := m.active.tokens[m.cursor]
	m.cursor++
	if chain != nil {
		chain.Accept(tok)
	}
	return tok, nil
}

func (m *MockEngine) DetokenizePiece(tok Token) string {
	return m.vocabRev[tok]
}

func (m *MockEngine) KVRemove(seqID int, posStart, posEnd int) {
	m.Removed = append(m.Removed, KVRange{SeqID: seqID, Start: posStart, End: posEnd})
}

func (m *MockEngine) IsEndOfGeneration(tok Token) bool {
	return tok == mockEOG
}

func (m *MockEngine) NCtx() int    { return m.params.NCtx }
func (m *MockEngine) NBatch() int  { return m.params.NBatch }
func (m *MockEngine) Loaded() bool { return m.loaded }

func (m *MockEngine) Close() error {
	m.loaded = false
	m.active = nil
	m.queue = nil
	return nil
}

var _ Engine = (*MockEngine)(nil)
