package services

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. Handlers map each kind to a response.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidState
	KindInvalidTarget
	KindNoOp
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidTarget:
		return "invalid_target"
	case KindNoOp:
		return "no_op"
	case KindValidation:
		return "validation_error"
	}
	return "unknown"
}

// Error is a domain failure with a user-facing message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every NotFound failure regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrInvalidTarget   = &Error{Kind: KindInvalidTarget, Message: "invalid target"}
	ErrNoOp            = &Error{Kind: KindNoOp, Message: "nothing to change"}
	ErrValidation      = &Error{Kind: KindValidation, Message: "invalid input"}
)

func Unauthenticated(format string, args ...interface{}) error {
	return newError(KindUnauthenticated, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return newError(KindForbidden, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newError(KindConflict, format, args...)
}

func InvalidState(format string, args ...interface{}) error {
	return newError(KindInvalidState, format, args...)
}

func InvalidTarget(format string, args ...interface{}) error {
	return newError(KindInvalidTarget, format, args...)
}

func NoOp(format string, args ...interface{}) error {
	return newError(KindNoOp, format, args...)
}

func Validation(format string, args ...interface{}) error {
	return newError(KindValidation, format, args...)
}

// KindOf returns the kind of a domain error, or 0 for anything else.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
