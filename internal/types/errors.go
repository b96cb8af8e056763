package types

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure surfaced by the engine wraps one of these
// kinds so callers (HTTP layer, CLI) can map them without string matching.
//
// Directive parse failures are deliberately NOT part of this taxonomy: a
// malformed side-channel instruction degrades the output and logs a warning
// but never fails an otherwise-successful reply.

// ErrKind identifies a class of engine error.
type ErrKind int

const (
	// KindValidation is a missing or malformed required field. User-correctable.
	KindValidation ErrKind = iota + 1
	// KindNotFound is an absent id or an ownership miss. The two cases are
	// surfaced identically so existence never leaks across users.
	KindNotFound
	// KindUpstream is a failed or timed-out model call. Not retried
	// automatically; the persisted user message is the durable record.
	KindUpstream
	// KindPersistence is a store-layer failure. Fatal to the request.
	KindPersistence
)

// Error is the concrete error type for the taxonomy.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so sentinel comparisons work across wrapped chains.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation  = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrNotFound    = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrUpstream    = &Error{Kind: KindUpstream, Msg: "upstream model call failed"}
	ErrPersistence = &Error{Kind: KindPersistence, Msg: "persistence failure"}
)

// ValidationError builds a validation error with a formatted message.
func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError builds a not-found error. The message never distinguishes
// between a missing row and an ownership mismatch.
func NotFoundError(what string) error {
	return &Error{Kind: KindNotFound, Msg: what + " not found"}
}

// UpstreamError wraps a model-call failure.
func UpstreamError(err error) error {
	return &Error{Kind: KindUpstream, Msg: "model call failed", Err: err}
}

// PersistenceError wraps a store-layer failure.
func PersistenceError(op string, err error) error {
	return &Error{Kind: KindPersistence, Msg: op + " failed", Err: err}
}

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is (or wraps) a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
