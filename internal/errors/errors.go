// Package errors defines stable error codes for all service failure modes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// FetchTransient indicates a retryable upstream failure (network, 5xx, 429)
	FetchTransient ErrorCode = "FETCH_TRANSIENT"
	// FetchPermanent indicates the target is invalid or unauthorized (401/403/404)
	FetchPermanent ErrorCode = "FETCH_PERMANENT"
	// AnalysisFailed indicates a processing failure on otherwise-valid data
	AnalysisFailed ErrorCode = "ANALYSIS_FAILED"
	// StoreUnavailable indicates the request store itself is unreachable
	StoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// InvalidTransition indicates a status change attempted from the wrong state
	InvalidTransition ErrorCode = "INVALID_TRANSITION"
	// RequestNotFound indicates no request exists with the given id
	RequestNotFound ErrorCode = "REQUEST_NOT_FOUND"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// ServiceError carries an error code, an operator-readable message, and an
// optional underlying cause.
type ServiceError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	cause   error
}

// New creates a ServiceError without an underlying cause.
func New(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Newf creates a ServiceError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a ServiceError wrapping an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the error code from err, or InternalError if err carries none.
func CodeOf(err error) ErrorCode {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
