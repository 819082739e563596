// Package apperr defines the error kinds shared across the daemon, following
// the classification in the error-handling design: each kind carries its own
// propagation policy (session-fatal, socket-local, or silent-cancellation).
package apperr

import "errors"

// Kind classifies an error for dispatch to the right handling policy.
type Kind int

const (
	KindInternal Kind = iota
	KindProtocol
	KindAuth
	KindNotFound
	KindConflict
	KindExhausted
	KindTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExhausted:
		return "exhausted"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error wraps an underlying cause with a Kind, the way dtls.FatalError and
// friends tag plain errors with a handling category.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
