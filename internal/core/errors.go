package core

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

var (
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	ErrRetrievalUnavailable  = errors.New("document index unavailable")
)

// Error is the only error type the chat service returns to its callers.
// Reason is safe to show to end users; Err carries the diagnostic cause.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("core: %s (%s)", e.Kind, e.Reason)
	}
	return fmt.Sprintf("core: %s (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func validationError(reason string) *Error {
	return newError(KindValidation, reason, nil)
}

// KindOf reports the kind of err. Anything that is not a *Error is internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// classify converts a pipeline failure into a typed error. The unavailable
// sentinels map to KindUnavailable and everything else is internal.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, ErrGenerationUnavailable), errors.Is(err, ErrRetrievalUnavailable):
		return newError(KindUnavailable, notReadyReason, err)
	default:
		return newError(KindInternal, "An error occurred processing your message", err)
	}
}

const notReadyReason = "Chatbot is not ready. Please contact support."
