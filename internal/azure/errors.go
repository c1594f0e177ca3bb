package azure

import (
	"errors"
	"fmt"
)

// FailureKind classifies a fetch failure for the caller's retry decision.
type FailureKind string

const (
	// Transient failures (network, 5xx, 429) are retried internally with
	// backoff; if they reach the caller the retry budget is exhausted.
	Transient FailureKind = "transient"
	// Permanent failures (401/403/404, malformed target) must not be retried.
	Permanent FailureKind = "permanent"
)

// FetchError is the typed failure returned by the client.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	Op         string
	cause      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch failure in %s", e.Kind, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.cause
}

// NewTransientError builds a retryable fetch failure.
func NewTransientError(op string, statusCode int, cause error) *FetchError {
	return &FetchError{Kind: Transient, StatusCode: statusCode, Op: op, cause: cause}
}

// NewPermanentError builds a non-retryable fetch failure.
func NewPermanentError(op string, statusCode int, cause error) *FetchError {
	return &FetchError{Kind: Permanent, StatusCode: statusCode, Op: op, cause: cause}
}

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}

// IsTransient reports whether err is a transient fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}
