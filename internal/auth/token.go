// Package auth verifies the refresh-token cookie the external identity
// provider issues. Everything else about identity (signup, sessions,
// password/OAuth flows) lives in that external provider — this package
// only checks a signature and reads the subject claim (§4.8 step 1).
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the user reference and their Vault key id, both needed to
// serve an authenticated upload.
type Claims struct {
	UserID     uuid.UUID `json:"sub_uuid"`
	VaultKeyID string    `json:"vault_key_id"`
	jwt.RegisteredClaims
}

// Verifier checks refresh tokens against one HMAC secret, loaded once at
// startup (§5 "rotation requires restart").
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Validate parses and verifies tokenString, rejecting anything expired or
// signed under a different secret.
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("parsing refresh token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid refresh token")
	}
	return claims, nil
}
