package domain

import (
	"errors"
	"fmt"
	"time"
)

// Common domain errors
var (
	ErrNotFound        = errors.New("not found")
	ErrMalformedURL    = errors.New("malformed url")
	ErrUnnamedResource = errors.New("url has no usable file name")

	// Transfer errors
	ErrTransferFailed    = errors.New("transfer failed")
	ErrRangeNotSupported = errors.New("server does not support range requests")
	ErrSourceChanged     = errors.New("remote resource changed since last attempt")
	ErrInvalidToken      = errors.New("invalid resume token")
)

// NotFoundMessage is the location text reported when a stored file is absent.
const NotFoundMessage = "File not found in directory"

// TransferError describes a failed HTTP transfer.
type TransferError struct {
	Op         string // start or resume
	StatusCode int    // 0 for non-HTTP failures
	Err        error
}

// Error returns the error message
func (e *TransferError) Error() string {
	if e.StatusCode > 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
		}
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": transfer failed"
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransferFailed) match any TransferError.
func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

// RetryableError represents an error that should trigger a retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// StatusCode extracts the HTTP status from a TransferError chain, or 0.
func StatusCode(err error) int {
	var te *TransferError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
