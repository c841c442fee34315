package tools

import (
	"errors"
	"fmt"

	"github.com/viberelay/relay/internal/statemachine"
	"github.com/viberelay/relay/internal/store"
)

// ErrorKind tags a tool surface failure. HTTP adapters map not_found to 404
// and the remaining kinds to 422.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindInvalidRole       ErrorKind = "invalid_role"
)

// Error is the tagged error every tool surface operation returns on rejection.
// It serializes as {"error": kind, "message": ...}.
type Error struct {
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NotFoundf builds a not_found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidInputf builds an invalid_input error.
func InvalidInputf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionf builds an invalid_transition error.
func InvalidTransitionf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// InvalidRolef builds an invalid_role error.
func InvalidRolef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRole, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the tagged error from err, or nil when err is an
// infrastructure failure.
func AsError(err error) *Error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	return nil
}

// tagErr converts known sentinel errors into tagged errors: store.ErrNotFound
// becomes not_found and state machine rejections become invalid_transition.
// Anything else passes through as an infrastructure failure.
func tagErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: err.Error()}
	}
	var invalid *statemachine.InvalidTransitionError
	if errors.As(err, &invalid) {
		return &Error{Kind: KindInvalidTransition, Message: invalid.Error()}
	}
	return err
}
