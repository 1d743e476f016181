package checkout

import (
	"errors"
	"fmt"
)

// Error kinds. Every rejection returned by this package unwraps to exactly one.
var (
	ErrValidation             = errors.New("validation error")
	ErrUnknownProduct         = errors.New("unknown product")
	ErrPricingMismatch        = errors.New("pricing mismatch")
	ErrAmountTooLow           = errors.New("amount too low")
	ErrGateway                = errors.New("payment gateway error")
	ErrCaptureMismatch        = errors.New("capture mismatch")
	ErrIncompleteGuestAddress = errors.New("incomplete guest address")
	ErrAddressOwnership       = errors.New("address ownership")
	ErrPersistence            = errors.New("persistence error")
	ErrCaptureInProgress      = errors.New("capture in progress")
)

// Error is a structured rejection safe to show to the client.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

func newError(kind error, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

func validationError(msg string, details map[string]any) *Error {
	return newError(ErrValidation, msg, details)
}

func persistenceError(msg string, cause error) *Error {
	return &Error{Kind: ErrPersistence, Message: msg, cause: cause}
}
