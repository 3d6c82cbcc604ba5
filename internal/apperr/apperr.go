// Package apperr defines the error kinds shared by all domain packages.
//
// Domain packages declare their own sentinel and typed errors and attach one
// of the kinds below so that transports can classify failures with errors.Is
// without knowing every domain error.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks bad input or an unsatisfied business rule.
	ErrValidation = errors.New("validation failed")
	// ErrIllegalTransition marks a forbidden status change or an exhausted resource.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrInsufficientBalance marks a loyalty redemption above the available points.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Error is a domain error carrying a kind and a user-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error with a formatted message.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// IllegalTransition returns an illegal-transition error with a formatted message.
func IllegalTransition(format string, args ...any) error {
	return &Error{Kind: ErrIllegalTransition, Message: fmt.Sprintf(format, args...)}
}

// Message extracts the user-facing message of the outermost *Error in the
// chain, falling back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
