package internalapi

import "net/http"

type validateTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type validateTokenResponse struct {
	UserID     string `json:"user_id"`
	VaultKeyID string `json:"vault_key_id"`
}

// handleValidateToken is the Upload Service's only way to turn a refresh
// token into a user identity (§4.8 step 1) — it never sees the signing
// secret itself.
func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	claims, err := s.verifier.Validate(req.RefreshToken)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, validateTokenResponse{
		UserID:     claims.UserID.String(),
		VaultKeyID: claims.VaultKeyID,
	})
}
