// Package models holds the shared data shapes that cross package
// boundaries in the Governor core: conversation turns, memory entries,
// tool descriptors/calls, path configuration, and the tagged Result type
// every top-level API returns.
package models

import "fmt"

// ErrorKind enumerates the error taxonomy. Every top-level API returns a
// Result tagged with one of these kinds on failure.
type ErrorKind string

const (
	// ErrInvalidArgument is a caller contract violation; never retried.
	ErrInvalidArgument ErrorKind = "invalid_argument"

	// ErrNotInitialized means the operation requires a loaded model or an
	// initialized store.
	ErrNotInitialized ErrorKind = "not_initialized"

	// ErrResourceExhausted covers OutOfMemory, StoreFull, ContextExhausted.
	ErrResourceExhausted ErrorKind = "resource_exhausted"

	// ErrBackendFailure covers ModelLoadFailed, TokenizeFailed, DecodeFailed.
	ErrBackendFailure ErrorKind = "backend_failure"

	// ErrToolFailure is recovered locally by the Governor: the message is
	// injected into context and the loop continues.
	ErrToolFailure ErrorKind = "tool_failure"

	// ErrParseFailure is a malformed tool-call fragment; never surfaced,
	// the fragment is simply discarded.
	ErrParseFailure ErrorKind = "parse_failure"

	// ErrNotFound means a memory id was absent on update/delete.
	ErrNotFound ErrorKind = "not_found"

	// ErrIoFailure is a log write/read failure; the store transitions to
	// read-only until reinitialized.
	ErrIoFailure ErrorKind = "io_failure"

	// ErrTimeout covers max_iterations exhaustion or caller cancellation.
	ErrTimeout ErrorKind = "timeout"
)

// Error is the typed error every Result carries on failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError constructs an *Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Result is the tagged {ok(value) | err(kind, message)} result every
// top-level API returns. The zero value has no error, so it reads as a
// success carrying T's zero value; callers should never construct it
// directly — use Success/Failure.
type Result[T any] struct {
	value T
	err   *Error
}

// Success wraps a value in an ok Result.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Failure wraps an error kind and message in a failed Result.
func Failure[T any](kind ErrorKind, format string, args ...any) Result[T] {
	return Result[T]{err: NewError(kind, format, args...)}
}

// FailureFromError wraps an existing *Error in a failed Result.
func FailureFromError[T any](err *Error) Result[T] {
	return Result[T]{err: err}
}

// IsOK reports whether the Result is a success.
func (r Result[T]) IsOK() bool {
	return r.err == nil
}

// Value returns the success value and whether the Result was ok.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.err == nil
}

// Err returns the failure, or nil if the Result was ok.
func (r Result[T]) Err() *Error {
	return r.err
}

// Unwrap returns the success value, panicking if the Result is a failure.
// Intended for use in tests where failure indicates a bug in the test
// itself, not in the system under test.
func (r Result[T]) Unwrap() T {
	if r.err != nil {
		panic("models: Unwrap called on failed Result: " + r.err.Error())
	}
	return r.value
}
