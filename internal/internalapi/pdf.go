package internalapi

import "net/http"

type pdfProcessRequest struct {
	UserIDHash  string `json:"user_id_hash"`
	ContentHash string `json:"content_hash"`
	S3Key       string `json:"s3_key"`
}

// handlePDFProcess accepts a fire-and-forget OCR trigger for an already
// pre-charged, already-encrypted PDF (§4.8 step 6). The upload response
// does not wait on this; it only needs to be queued.
func (s *Server) handlePDFProcess(w http.ResponseWriter, r *http.Request) {
	var req pdfProcessRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	logger.Printf("queued OCR processing for %s/%s at %s", req.UserIDHash, req.ContentHash, req.S3Key)
	w.WriteHeader(http.StatusAccepted)
}
