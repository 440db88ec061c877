package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/chatline-server/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeForbidden          = "forbidden"
	ErrCodeInvalidState       = "invalid_state"
	ErrCodePersistenceFailure = "persistence_failure"
	ErrCodeDeliveryTimeout    = "delivery_timeout"
	ErrCodePartialFailure     = "partial_failure"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeStorageUnavailable = "storage_unavailable"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// NewError builds a CoreError for callers outside the package (transport, rate limiting).
func NewError(code, msg string) *CoreError {
	return coreError(code, msg)
}

// AsCoreError extracts a CoreError from err. Anything unrecognized becomes a persistence failure.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return &CoreError{Code: ErrCodePersistenceFailure, Message: "internal error", Err: err}
}

// CodeOf returns the domain code carried by err.
func CodeOf(err error) string {
	if ce := AsCoreError(err); ce != nil {
		return ce.Code
	}
	return ""
}

// storeError maps store-level failures onto domain errors.
func storeError(ctx context.Context, err error, notFound string) error {
	if err == nil {
		return nil
	}

	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}

	var partial *store.PartialDeleteError
	switch {
	case errors.As(err, &partial):
		return &CoreError{Code: ErrCodePartialFailure, Message: "delete stopped after " + partial.Phase, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &CoreError{Code: ErrCodeDeliveryTimeout, Message: "persistence timed out", Err: err}
	case errors.Is(err, store.ErrNotFound):
		return &CoreError{Code: ErrCodeNotFound, Message: notFound, Err: err}
	default:
		return &CoreError{Code: ErrCodePersistenceFailure, Message: "persistence failure", Err: err}
	}
}
