// Package errkind defines the error taxonomy shared across the engine.
// Components classify failures by kind so the executor can decide retries,
// the API layer can map statuses, and callers never see stack traces.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

// Kind partitions failures by how the engine must react to them.
type Kind string

const (
	// KindInput: malformed query, unknown model, missing required field.
	// Surfaced to the caller; never retried.
	KindInput Kind = "input_error"
	// KindAuthorization: denial signalled by the external auth layer.
	// Propagated unchanged; the core never produces these itself.
	KindAuthorization Kind = "authorization_error"
	// KindResourceUnavailable: a backend is unreachable or timed out. Retryable.
	KindResourceUnavailable Kind = "resource_unavailable"
	// KindRateLimited: backend quota exceeded. Retried after the hinted delay.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout: a per-operation timeout expired. Retried once.
	KindTimeout Kind = "timeout"
	// KindDataIntegrity: invariant violation in returned data or an
	// unresolved citation. Fatal to the answer.
	KindDataIntegrity Kind = "data_integrity_error"
	// KindInternal: unexpected invariant violation (e.g. dependency cycle).
	// Fatal for the plan.
	KindInternal Kind = "internal_error"
	// KindCancelled: the caller cancelled. Surfaced but not counted as an error.
	KindCancelled Kind = "cancelled"
)

// Error pairs a kind with an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without an underlying cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error. Returns nil for a nil cause.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err. Context cancellation and deadline errors
// classify as cancelled and timeout even when unwrapped; everything else
// unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsRetryable reports whether a failure of this kind may be retried by the
// step executor.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindResourceUnavailable, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

// Retryable is a convenience wrapper over KindOf(err).IsRetryable().
func Retryable(err error) bool {
	return KindOf(err).IsRetryable()
}
