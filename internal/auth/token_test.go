package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestValidateAcceptsWellFormedToken(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()
	claims := Claims{
		UserID:     userID,
		VaultKeyID: "transit/keys/user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed := signToken(t, secret, claims)

	v := NewVerifier(secret)
	got, err := v.Validate(signed)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.UserID != userID {
		t.Errorf("UserID = %v, want %v", got.UserID, userID)
	}
	if got.VaultKeyID != claims.VaultKeyID {
		t.Errorf("VaultKeyID = %q, want %q", got.VaultKeyID, claims.VaultKeyID)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	secret := "test-secret"
	claims := Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed := signToken(t, secret, claims)

	v := NewVerifier(secret)
	if _, err := v.Validate(signed); err == nil {
		t.Error("Validate should reject an expired token")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	claims := Claims{UserID: uuid.New()}
	signed := signToken(t, "secret-a", claims)

	v := NewVerifier("secret-b")
	if _, err := v.Validate(signed); err == nil {
		t.Error("Validate should reject a token signed under a different secret")
	}
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	v := NewVerifier("any-secret")
	if _, err := v.Validate("not.a.jwt"); err == nil {
		t.Error("Validate should reject a malformed token string")
	}
}
