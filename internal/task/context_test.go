package task

import (
	"context"
	"testing"
)

func TestUserIDHashFromContextRoundTrip(t *testing.T) {
	ctx := withUserIDHash(context.Background(), "abc123")
	got, ok := UserIDHashFromContext(ctx)
	if !ok || got != "abc123" {
		t.Fatalf("UserIDHashFromContext = (%q, %v), want (\"abc123\", true)", got, ok)
	}
}

func TestUserIDHashFromContextMissing(t *testing.T) {
	if _, ok := UserIDHashFromContext(context.Background()); ok {
		t.Error("UserIDHashFromContext should report false on a context that never carried a hash")
	}
}
