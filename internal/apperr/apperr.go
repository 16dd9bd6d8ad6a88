// Package apperr defines the error-kind taxonomy every component in this
// module classifies its failures into, instead of branching on library
// error types. Each kind carries a distinct retry/propagation policy,
// decided once here rather than re-derived at every call site.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the nine propagation-policy buckets every error in this
// system belongs to.
type Kind string

const (
	InvalidRequest      Kind = "invalid_request"
	Unauthorized        Kind = "unauthorized"
	NotFound            Kind = "not_found"
	ProviderTransient    Kind = "provider_transient"
	ProviderPermanent   Kind = "provider_permanent"
	Cancelled           Kind = "cancelled"
	IntegrityBlocked    Kind = "integrity_blocked"
	Infrastructure      Kind = "infrastructure"
	InsufficientCredits Kind = "insufficient_credits"
)

// Error wraps an underlying cause with a Kind, so callers can branch on
// policy (retry, surface to client, charge back credits) without knowing
// which package or library produced the original error. RetryAfter is set
// by providers that report an explicit rate-limit wait time; zero means
// the caller should fall back to its own backoff schedule.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an existing error without discarding it.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WrapRateLimited builds a ProviderTransient error carrying the provider's
// own retry-after hint, so callers can honor it instead of falling back to
// generic exponential backoff.
func WrapRateLimited(message string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: ProviderTransient, Message: message, Cause: cause, RetryAfter: retryAfter}
}

// RetryAfterOf extracts the provider-supplied retry wait, if err carries
// one.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to Infrastructure for anything unclassified — an
// unclassified error is always treated as our own bug, never the caller's.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Infrastructure
}

// Retryable reports whether the policy for this kind allows an automatic
// retry (as opposed to surfacing immediately to the caller).
func Retryable(kind Kind) bool {
	switch kind {
	case ProviderTransient, Infrastructure:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound     = New(NotFound, "resource not found")
	ErrUnauthorized = New(Unauthorized, "unauthorized")
	ErrCancelled    = New(Cancelled, "operation cancelled")
)
