package governor

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/vassal/pkg/models"
)

// Phase identifies which stage of execute()'s loop body an error occurred
// in, surfaced for diagnostics and audit events.
type Phase string

const (
	PhaseTokenize     Phase = "tokenize"
	PhaseContextCheck Phase = "context_check"
	PhaseDecode       Phase = "decode"
	PhaseSample       Phase = "sample"
	PhaseToolDispatch Phase = "tool_dispatch"
	PhaseComplete     Phase = "complete"
)

// ErrModelNotLoaded is returned by execute() when no model is loaded.
var ErrModelNotLoaded = models.NewError(models.ErrNotInitialized, "model not loaded")

// ErrContextExhausted is returned when the Context Manager could not make
// room for a turn or tool result even after shifting/summarizing.
var ErrContextExhausted = models.NewError(models.ErrResourceExhausted, "context exhausted")

// LoopError wraps a models.Error with the phase of the loop it occurred in
// and the iteration count reached so far.
type LoopError struct {
	Phase     Phase
	Iteration int
	Err       *models.Error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("governor: phase=%s iteration=%d: %s", e.Phase, e.Iteration, e.Err.Error())
}

func (e *LoopError) Unwrap() error { return e.Err }

// Kind returns the wrapped error's taxonomy kind.
func (e *LoopError) Kind() models.ErrorKind { return e.Err.Kind }

func newLoopError(phase Phase, iteration int, err *models.Error) *LoopError {
	return &LoopError{Phase: phase, Iteration: iteration, Err: err}
}

// Outcome is the tagged result category of execute():
// exactly one of Text/Err is meaningful, selected by Kind.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  *models.Error
}

// OutcomeKind enumerates execute()'s possible outcome categories.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeNeedClarification OutcomeKind = "need_clarification"
	OutcomeTimeout           OutcomeKind = "timeout"
	OutcomeError             OutcomeKind = "error"
)

func successOutcome(text string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Text: text}
}

func timeoutOutcome() Outcome {
	return Outcome{Kind: OutcomeTimeout}
}

func errorOutcome(err *models.Error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// IsLoopError reports whether err is (or wraps) a *LoopError, and returns it
// if so.
func IsLoopError(err error) (*LoopError, bool) {
	var le *LoopError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
