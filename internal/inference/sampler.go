package inference

import (
	"math"
	"math/rand"
	"sort"
)

// SamplerConfig mirrors internal/config.SamplerConfig without importing
// it, keeping this package free of a dependency on the config package.
type SamplerConfig struct {
	RepeatPenalty float64
	RepeatLastN   int
	TopK          int
	TopP          float64
	Temperature   float64
	Seed          int64
}

// SamplerChain is configured once per generation and applies its stages
// in a fixed order: repetition-penalty first, then top-k, top-p,
// temperature, and a seeded distributional draw. It is disposed at
// generation end.
type SamplerChain struct {
	cfg     SamplerConfig
	history []Token // last RepeatLastN accepted tokens, oldest first
	rng     *rand.Rand
	closed  bool
}

// NewSamplerChain builds a sampler chain from cfg. The seed is applied
// once; reseeding per generation is the caller's responsibility.
func NewSamplerChain(cfg SamplerConfig, seed int64) *SamplerChain {
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 1.0
	}
	if cfg.RepeatLastN < 0 {
		cfg.RepeatLastN = 0
	}
	return &SamplerChain{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Close disposes the chain. Safe to call multiple times.
func (c *SamplerChain) Close() {
	c.closed = true
	c.history = nil
}

// Closed reports whether Close has been called.
func (c *SamplerChain) Closed() bool {
	return c.closed
}

// Config returns the chain's effective configuration after defaulting.
func (c *SamplerChain) Config() SamplerConfig {
	return c.cfg
}

// History returns the repetition-penalty window: the last RepeatLastN
// accepted tokens, oldest first. The returned slice is owned by the chain.
func (c *SamplerChain) History() []Token {
	return c.history
}

// Accept records a token as having been generated, feeding the
// repetition-penalty window for subsequent Sample calls.
func (c *SamplerChain) Accept(tok Token) {
	c.history = append(c.history, tok)
	if c.cfg.RepeatLastN > 0 && len(c.history) > c.cfg.RepeatLastN {
		c.history = c.history[len(c.history)-c.cfg.RepeatLastN:]
	}
}

// candidate pairs a token id with its logit/probability during sampling.
type candidate struct {
	id    Token
	logit float64
}

// Sample applies the chain's stages in order — repetition penalty, top-k,
// top-p, temperature, seeded draw — to a raw logit vector indexed by
// token id, and returns the selected token. This is the pure algorithm
// the native sampler chain implements in C (see the ollama llm_go_sample
// binding this package is grounded on); the cgo-backed Engine delegates
// to the native equivalent instead of calling this function directly, and
// the mock Engine replays scripted tokens without calling it either. The
// unit tests in this package call it directly to exercise the decision
// logic without cgo.
func (c *SamplerChain) Sample(logits []float64) Token {
	cands := make([]candidate, len(logits))
	for i, l := range logits {
		cands[i] = candidate{id: Token(i), logit: l}
	}

	cands = applyRepetitionPenalty(cands, c.history, c.cfg.RepeatPenalty)

	if c.cfg.Temperature <= 0 {
		return greedy(cands)
	}

	cands = topK(cands, c.cfg.TopK)
	cands = topP(cands, c.cfg.TopP, c.cfg.Temperature)
	return c.draw(cands, c.cfg.Temperature)
}

func applyRepetitionPenalty(cands []candidate, history []Token, penalty float64) []candidate {
	if penalty <= 0 || penalty == 1.0 || len(history) == 0 {
		return cands
	}
	seen := make(map[Token]bool, len(history))
	for _, t := range history {
		seen[t] = true
	}
	for i := range cands {
		if !seen[cands[i].id] {
			continue
		}
		if cands[i].logit > 0 {
			cands[i].logit /= penalty
		} else {
			cands[i].logit *= penalty
		}
	}
	return cands
}

func greedy(cands []candidate) Token {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.logit > best.logit {
			best = c
		}
	}
	return best.id
}

func topK(cands []candidate, k int) []candidate {
	if k <= 0 || k >= len(cands) {
		return cands
	}
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].logit > sorted[j].logit })
	return sorted[:k]
}

func topP(cands []candidate, p float64, temperature float64) []candidate {
	if p <= 0 || p >= 1.0 {
		return cands
	}
	probs := softmax(cands, temperature)
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return probs[order[i]] > probs[order[j]] })

	cum := 0.0
	cutoff := len(order)
	for i, idx := range order {
		cum += probs[idx]
		if cum >= p {
			cutoff = i + 1
			break
		}
	}
	kept := make([]candidate, cutoff)
	for i := 0; i < cutoff; i++ {
		kept[i] = cands[order[i]]
	}
	return kept
}

func softmax(cands []candidate, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1.0
	}
	maxLogit := cands[0].logit
	for _, c := range cands[1:] {
		if c.logit > maxLogit {
			maxLogit = c.logit
		}
	}
	probs := make([]float64, len(cands))
	sum := 0.0
	for i, c := range cands {
		e := math.Exp((c.logit - maxLogit) / temperature)
		probs[i] = e
		sum += e
	}
	if sum == 0 {
		for i := range probs {
			probs[i] = 1.0 / float64(len(probs))
		}
		return probs
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func (c *SamplerChain) draw(cands []candidate, temperature float64) Token {
	probs := softmax(cands, temperature)
	r := c.rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r <= cum {
			return cands[i].id
		}
	}
	return cands[len(cands)-1].id
}
