// Package backend holds the error taxonomy and HTTP plumbing shared by the
// indexer, provider and metadata clients.
package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for categorizing backend errors
const (
	ErrCodeTransport  = "TRANSPORT_ERROR"
	ErrCodeProtocol   = "PROTOCOL_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
)

// Error represents a categorized error from a backend operation.
type Error struct {
	Code       string // Error category code
	Backend    string // Name of the affected backend ("newznab", "torbox", ...)
	Message    string // Human-readable message
	StatusCode int    // HTTP status for status errors, 0 otherwise
	Cause      error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Backend, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is().
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Common error instances for comparison
var (
	ErrTransport  = &Error{Code: ErrCodeTransport, Message: "transport error"}
	ErrProtocol   = &Error{Code: ErrCodeProtocol, Message: "protocol error"}
	ErrValidation = &Error{Code: ErrCodeValidation, Message: "validation error"}
)

// NewTransportError creates an error for network failures, timeouts and
// unexpected HTTP statuses.
func NewTransportError(backendName string, cause error) *Error {
	return &Error{
		Code:    ErrCodeTransport,
		Backend: backendName,
		Message: "request failed",
		Cause:   cause,
	}
}

// NewStatusError creates a transport error for a non-success HTTP status.
func NewStatusError(backendName string, resp *http.Response) *Error {
	return &Error{
		Code:       ErrCodeTransport,
		Backend:    backendName,
		Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
}

// NewProtocolError creates an error for malformed backend responses.
func NewProtocolError(backendName string, message string, cause error) *Error {
	return &Error{
		Code:    ErrCodeProtocol,
		Backend: backendName,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates an error for caller-supplied input that fails
// shape checks.
func NewValidationError(message string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// IsTransport returns whether the error is a transport error.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsProtocol returns whether the error is a protocol error.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsValidation returns whether the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var backendErr *Error
	if errors.As(err, &backendErr) {
		return backendErr.Code
	}
	return ""
}

// StatusCode returns the HTTP status carried by a status error, or 0.
func StatusCode(err error) int {
	var backendErr *Error
	if errors.As(err, &backendErr) {
		return backendErr.StatusCode
	}
	return 0
}
