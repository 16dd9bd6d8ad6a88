package internalapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/openmates/core/internal/apperr"
	"github.com/openmates/core/internal/models"
)

type chargeRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Entry          models.UsageEntry  `json:"entry"`
	CostCredits    float64            `json:"cost_credits"`
}

// handleChargeCredits is the Upload Service's only path to the billing
// ledger — used for the PDF page-count pre-charge (§4.8 step 6). A missing
// idempotency key is auto-generated rather than rejected, matching §4.9's
// "MUST be supplied (auto-generated if absent)".
func (s *Server) handleChargeCredits(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if err := s.ledger.ChargeUserCredits(r.Context(), req.IdempotencyKey, req.Entry, req.CostCredits); err != nil {
		if apperr.KindOf(err) == apperr.InsufficientCredits {
			http.Error(w, err.Error(), http.StatusPaymentRequired)
			return
		}
		http.Error(w, "charge failed", http.StatusInternalServerError)
		return
	}

	status := "applied"
	if req.CostCredits <= 0 {
		status = "skipped"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
