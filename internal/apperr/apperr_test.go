package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("reading config: %w", New(NotFound, "missing file"))
	if got := KindOf(wrapped); got != NotFound {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, NotFound)
	}
	if got := KindOf(errors.New("plain error")); got != Infrastructure {
		t.Errorf("KindOf(plain) = %q, want %q", got, Infrastructure)
	}
	if got := KindOf(nil); got != Infrastructure {
		t.Errorf("KindOf(nil) = %q, want %q", got, Infrastructure)
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := WrapRateLimited("rate limited", 30*time.Second, errors.New("429"))
	d, ok := RetryAfterOf(err)
	if !ok || d != 30*time.Second {
		t.Fatalf("RetryAfterOf = (%v, %v), want (30s, true)", d, ok)
	}

	if _, ok := RetryAfterOf(New(NotFound, "no retry hint")); ok {
		t.Error("RetryAfterOf should be false when RetryAfter is unset")
	}
}

func TestRetryable(t *testing.T) {
	cases := map[Kind]bool{
		ProviderTransient:   true,
		Infrastructure:      true,
		InvalidRequest:      false,
		Unauthorized:        false,
		InsufficientCredits: false,
	}
	for kind, want := range cases {
		if got := Retryable(kind); got != want {
			t.Errorf("Retryable(%q) = %v, want %v", kind, got, want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(Infrastructure, "dialing postgres", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should see through Wrap to the cause")
	}
	if wrapped.Error() == "" || wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the original cause")
	}
}
