// Package herrors defines the error-kind taxonomy shared across the
// HiveMind core. Components return these sentinels (wrapped with
// fmt.Errorf("...: %w", err)) rather than inventing ad hoc error types
// per package.
package herrors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the caller presented no credential, or an
	// invalid one. Maps to a 401 at the transport layer.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the caller is known but not permitted to act on
	// the object, OR the object belongs to another tenant. Transports
	// must render this identically to ErrNotFound for cross-tenant
	// object access, to avoid existence oracles.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned for both "does not exist" and "exists but
	// not yours" — the two are indistinguishable by design.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited covers both request-rate quota and hard rate-limit
	// rejections (burst flags for review instead; it does not use this).
	ErrRateLimited = errors.New("rate limited")

	// ErrContentRejected covers injection detection and over-redaction.
	// Use RejectReason to distinguish which.
	ErrContentRejected = errors.New("content rejected")

	// ErrDuplicate signals a NOOP outcome from dedup/conflict resolution.
	// Not a failure: callers should report it as a successful status.
	ErrDuplicate = errors.New("duplicate")

	// ErrCapabilityUnavailable means a pluggable capability (LLM,
	// embedding) could not be reached. Dedup/conflict degrade
	// gracefully on this; retrieval and PII must not.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrAlreadyRecorded signals ReportOutcome idempotency: the
	// (agent_id, run_id) pair already produced a QualitySignal.
	ErrAlreadyRecorded = errors.New("already recorded")

	// ErrTooBusy is the fast-reject backpressure response.
	ErrTooBusy = errors.New("too busy")
)

// ValidationError carries a field-specific input validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError constructs a *ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RejectReason is a short machine-readable reason code attached to
// ErrContentRejected and to ingestion pipeline rejects.
type RejectReason string

const (
	ReasonInjection    RejectReason = "injection"
	ReasonTooMuchPII   RejectReason = "too_much_pii"
	ReasonInvalidInput RejectReason = "invalid_input"
)

// RejectedError pairs ErrContentRejected with a reason and, for
// injection/PII, the classifier score that triggered it.
type RejectedError struct {
	Reason RejectReason
	Score  float64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("content rejected: %s (score=%.3f)", e.Reason, e.Score)
}

func (e *RejectedError) Unwrap() error { return ErrContentRejected }

// NewRejected constructs a *RejectedError.
func NewRejected(reason RejectReason, score float64) error {
	return &RejectedError{Reason: reason, Score: score}
}
