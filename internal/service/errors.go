package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/response"
)

// ErrorKind classifies failures for the transport layer.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindState          ErrorKind = "state"
	KindRateLimit      ErrorKind = "rate_limit"
	KindInfrastructure ErrorKind = "infrastructure"
)

// Error is the only error type the Orchestrator returns.
type Error struct {
	Kind ErrorKind
	Code response.ErrCode
	// RemainingAttempts is set for ATTEMPT_LIMIT_EXCEEDED.
	RemainingAttempts *int
	// RetryAfter is set for COOLDOWN_ACTIVE.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller should retry the same request later.
func (e *Error) Retryable() bool {
	return e.Kind == KindInfrastructure
}

func validationError(code response.ErrCode) *Error {
	return &Error{Kind: KindValidation, Code: code}
}

func stateError(code response.ErrCode) *Error {
	return &Error{Kind: KindState, Code: code}
}

func attemptLimitError() *Error {
	remaining := 0
	return &Error{Kind: KindRateLimit, Code: response.ErrAttemptLimitExceeded, RemainingAttempts: &remaining}
}

func cooldownError(wait time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Code: response.ErrCooldownActive, RetryAfter: wait}
}

// asServiceError returns err as *Error, classifying anything else as a
// retryable infrastructure failure.
func asServiceError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return &Error{Kind: KindInfrastructure, Code: response.ErrRetryLater, Err: err}, false
}
