// Package errors provides coded errors shared by the services.
// Handlers translate the code into an HTTP status and a failure envelope.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure
type ErrorCode string

const (
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodeUnavailable    ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodePersistence    ErrorCode = "PERSISTENCE"
	ErrCodeInternal       ErrorCode = "INTERNAL"
)

// StructuredError carries a code, a human-readable message and the cause
type StructuredError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a StructuredError with no cause
func New(code ErrorCode, message string) *StructuredError {
	return &StructuredError{Code: code, Message: message}
}

// Newf creates a StructuredError with a formatted message
func Newf(code ErrorCode, format string, args ...any) *StructuredError {
	return &StructuredError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message
func Wrap(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{Code: code, Message: message, Cause: cause}
}

// NotFound is shorthand for New(ErrCodeNotFound, message)
func NotFound(message string) *StructuredError {
	return New(ErrCodeNotFound, message)
}

// Invalid is shorthand for New(ErrCodeInvalidRequest, message)
func Invalid(message string) *StructuredError {
	return New(ErrCodeInvalidRequest, message)
}

// CodeOf returns the code of the outermost StructuredError in the chain,
// or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// MessageOf returns the message of the outermost StructuredError, or err.Error()
func MessageOf(err error) string {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to the response status.
// Upstream and persistence failures are reported as 500.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
