package upload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openmates/core/internal/models"
)

func TestChargeCreditsTranslates402ToSentinelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient credits", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := newCoreClient(srv.URL, "secret")
	err := c.chargeCredits(context.Background(), "idem-1", models.UsageEntry{UserIDHash: "u1"}, 5)

	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("chargeCredits error = %v, want ErrInsufficientCredits", err)
	}
}

func TestChargeCreditsSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Internal-Service-Token"); got != "secret" {
			t.Errorf("service token header = %q, want %q", got, "secret")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"applied"}`))
	}))
	defer srv.Close()

	c := newCoreClient(srv.URL, "secret")
	if err := c.chargeCredits(context.Background(), "idem-1", models.UsageEntry{UserIDHash: "u1"}, 5); err != nil {
		t.Fatalf("chargeCredits: %v", err)
	}
}

func TestChargeCreditsOtherErrorIsNotTreatedAsInsufficientCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newCoreClient(srv.URL, "secret")
	err := c.chargeCredits(context.Background(), "idem-1", models.UsageEntry{UserIDHash: "u1"}, 5)

	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if errors.Is(err, ErrInsufficientCredits) {
		t.Error("a 500 response should not be classified as insufficient credits")
	}
}

func TestValidateTokenParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"user_id":"11111111-1111-1111-1111-111111111111","vault_key_id":"transit/keys/u1"}`))
	}))
	defer srv.Close()

	c := newCoreClient(srv.URL, "secret")
	userIDHash, vaultKeyID, userID, err := c.validateToken(context.Background(), "refresh-token")
	if err != nil {
		t.Fatalf("validateToken: %v", err)
	}
	if userID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("userID = %q", userID)
	}
	if vaultKeyID != "transit/keys/u1" {
		t.Errorf("vaultKeyID = %q", vaultKeyID)
	}
	if userIDHash != models.HashString(userID) {
		t.Errorf("userIDHash = %q, want HashString(userID)", userIDHash)
	}
}
