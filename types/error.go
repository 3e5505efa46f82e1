package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Execution error codes
const (
	ErrValidationRejected     ErrorCode = "VALIDATION_REJECTED"
	ErrExecutionTimeout       ErrorCode = "EXECUTION_TIMEOUT"
	ErrExecutionCancelled     ErrorCode = "EXECUTION_CANCELLED"
	ErrExecutionFailed        ErrorCode = "EXECUTION_FAILED"
	ErrExecutionInternalError ErrorCode = "EXECUTION_INTERNAL_ERROR"
)

// Storage error codes
const (
	ErrLedgerUnavailable ErrorCode = "LEDGER_UNAVAILABLE"
)

// General error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// NewLedgerUnavailableError wraps a storage fault. Ledger faults are retryable
// from the caller's point of view: the run already happened, only the record
// is missing.
func NewLedgerUnavailableError(op string, cause error) *Error {
	return NewError(ErrLedgerUnavailable, fmt.Sprintf("ledger %s failed", op)).
		WithCause(cause).
		WithRetryable(true)
}

// OutcomeError converts a non-successful outcome into a typed error. It
// returns nil for SUCCESS.
func OutcomeError(o ExecutionOutcome) error {
	var code ErrorCode
	switch o.Status {
	case StatusSuccess:
		return nil
	case StatusFailure:
		code = ErrExecutionFailed
	case StatusTimeout:
		code = ErrExecutionTimeout
	case StatusCancelled:
		code = ErrExecutionCancelled
	case StatusValidationRejected:
		code = ErrValidationRejected
	default:
		code = ErrExecutionInternalError
	}
	msg := o.ErrorMessage
	if msg == "" {
		msg = string(o.Status)
	}
	return NewError(code, msg)
}
