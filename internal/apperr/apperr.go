// Package apperr defines the closed set of error kinds the proposal core can
// surface to callers, plus helpers to construct and classify them.
//
// Propagation policy (enforced by the handlers in internal/api):
//
//   - NotFound, InvalidTransition, Validation, and IdentifierFormat abort the
//     requested mutation and are returned to the caller immediately.
//   - DependencyFailure marks a failed audit write or notification dispatch.
//     It is caught at the invocation site, logged with full context, and never
//     unwinds an already-committed primary mutation.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	// KindUnknown is the zero value; errors without a kind map to 500.
	KindUnknown Kind = iota
	// KindNotFound marks a missing draft or proposal.
	KindNotFound
	// KindInvalidTransition marks a status change with no matching row in the
	// transition table for the current state.
	KindInvalidTransition
	// KindValidation marks missing or malformed required fields.
	KindValidation
	// KindIdentifierFormat marks the wrong identifier kind used in a context
	// requiring another kind (e.g. a public id passed to a surrogate-keyed
	// query).
	KindIdentifierFormat
	// KindDependencyFailure marks a failed audit write or notification
	// dispatch. Never propagated past the invocation site.
	KindDependencyFailure
)

// String returns the wire name of the kind, used in error response bodies.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindValidation:
		return "validation_error"
	case KindIdentifierFormat:
		return "identifier_format_error"
	case KindDependencyFailure:
		return "dependency_failure"
	default:
		return "internal_error"
	}
}

// Error is a kinded error with a human-readable message and optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kinded error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs a kinded error wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
