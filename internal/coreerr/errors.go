// Package coreerr implements the error taxonomy shared by every core
// component (spec §7). A single CoreError carries a Kind the dispatcher can
// switch on, a human message, optional structured details, and an optional
// wrapped cause — callers can use errors.Is/errors.As against both the Kind
// and the underlying cause.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError per the spec §7 taxonomy.
type Kind string

const (
	KindValidation             Kind = "ValidationError"
	KindUnknownTool            Kind = "UnknownTool"
	KindUnknownModel           Kind = "UnknownModel"
	KindModelRestricted        Kind = "ModelRestricted"
	KindNoEligibleModel        Kind = "NoEligibleModel"
	KindFeatureUnsupported     Kind = "FeatureUnsupported"
	KindThreadNotFound         Kind = "ThreadNotFound"
	KindThreadCapacityExceeded Kind = "ThreadCapacityExceeded"
	KindUpstreamError          Kind = "UpstreamError"
	KindCancelled              Kind = "Cancelled"
	KindInternalError          Kind = "InternalError"
)

// CoreError is the single error type surfaced across component boundaries.
type CoreError struct {
	Kind      Kind
	Message   string
	Details   map[string]any
	Retryable bool // only meaningful for KindUpstreamError
	Cause     error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &CoreError{Kind: KindX}) match on Kind alone.
func (e *CoreError) Is(target error) bool {
	var t *CoreError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func newErr(kind Kind, msg string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: msg, Cause: cause}
}

func NewValidationError(msg string) *CoreError {
	return newErr(KindValidation, msg, nil)
}

func NewUnknownToolError(name string) *CoreError {
	return newErr(KindUnknownTool, fmt.Sprintf("unknown tool %q", name), nil)
}

func NewUnknownModelError(model string) *CoreError {
	return newErr(KindUnknownModel, fmt.Sprintf("unknown model %q", model), nil)
}

func NewModelRestrictedError(model string) *CoreError {
	return newErr(KindModelRestricted, fmt.Sprintf("model %q is blocked by restriction policy", model), nil)
}

func NewNoEligibleModelError(category string) *CoreError {
	return newErr(KindNoEligibleModel, fmt.Sprintf("no eligible model for category %q", category), nil)
}

func NewFeatureUnsupportedError(model, feature string) *CoreError {
	return newErr(KindFeatureUnsupported, fmt.Sprintf("model %q does not support %s", model, feature), nil)
}

func NewThreadNotFoundError(threadID string) *CoreError {
	return newErr(KindThreadNotFound, fmt.Sprintf("thread %q not found or expired", threadID), nil)
}

func NewThreadCapacityExceededError(threadID string, cap int) *CoreError {
	return newErr(KindThreadCapacityExceeded, fmt.Sprintf("thread %q has reached the %d-turn cap", threadID, cap), nil)
}

func NewUpstreamError(msg string, retryable bool, cause error) *CoreError {
	e := newErr(KindUpstreamError, msg, cause)
	e.Retryable = retryable
	return e
}

func NewCancelledError(msg string) *CoreError {
	return newErr(KindCancelled, msg, nil)
}

// NewInternalError wraps an unexpected error with a correlation ID for logs.
func NewInternalError(correlationID string, cause error) *CoreError {
	e := newErr(KindInternalError, "unexpected internal error", cause)
	e.Details = map[string]any{"correlation_id": correlationID}
	return e
}

// KindOf returns the Kind of err if it is (or wraps) a *CoreError, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err is an UpstreamError marked retryable.
func IsRetryable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == KindUpstreamError && ce.Retryable
	}
	return false
}
