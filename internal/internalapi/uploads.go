package internalapi

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"

	"github.com/openmates/core/internal/models"
)

type checkDuplicateRequest struct {
	UserIDHash  string `json:"user_id_hash"`
	ContentHash string `json:"content_hash"`
}

type checkDuplicateResponse struct {
	Deduplicated bool                `json:"deduplicated"`
	Record       *models.UploadRecord `json:"record,omitempty"`
}

// handleCheckDuplicate looks up a prior record for this user+content_hash,
// but only honors it if the referenced S3 object still exists — a record
// surviving an out-of-band S3 deletion must not short-circuit the pipeline
// (Edge case 5).
func (s *Server) handleCheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var req checkDuplicateRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	rec, err := s.findRecord(r.Context(), req.UserIDHash, req.ContentHash)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, checkDuplicateResponse{Deduplicated: false})
		return
	}

	exists, err := s.storage.Exists(r.Context(), rec.StorageKeyOriginal)
	if err != nil {
		http.Error(w, "storage check failed", http.StatusInternalServerError)
		return
	}
	if !exists {
		logger.Printf("stale upload record for %s/%s, S3 object gone", req.UserIDHash, req.ContentHash)
		if err := s.deleteRecord(r.Context(), req.UserIDHash, req.ContentHash); err != nil {
			logger.Printf("WARN discarding stale record: %v", err)
		}
		writeJSON(w, http.StatusOK, checkDuplicateResponse{Deduplicated: false})
		return
	}

	writeJSON(w, http.StatusOK, checkDuplicateResponse{Deduplicated: true, Record: rec})
}

type wrapKeyRequest struct {
	AESKeyB64  string `json:"aes_key_b64"`
	VaultKeyID string `json:"vault_key_id"`
}

type wrapKeyResponse struct {
	Wrapped string `json:"wrapped"`
}

// handleWrapKey is the one point where the per-file AES key touches the
// main Vault — the Upload Service holds the plaintext key only long enough
// to encrypt, sends it here once, and never again (§4.8 step 7).
func (s *Server) handleWrapKey(w http.ResponseWriter, r *http.Request) {
	var req wrapKeyRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	keyBytes, err := base64.StdEncoding.DecodeString(req.AESKeyB64)
	if err != nil {
		http.Error(w, "invalid aes_key_b64", http.StatusBadRequest)
		return
	}

	keyName := req.VaultKeyID
	if keyName == "" {
		keyName = s.filesKey
	}
	wrapped, err := s.vault.Wrap(r.Context(), keyName, keyBytes)
	if err != nil {
		http.Error(w, "wrap failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wrapKeyResponse{Wrapped: wrapped})
}

// handleStoreRecord persists the final upload metadata (§4.8 step 9). The
// client only learns about the upload once this and the store_embed flow
// both succeed, so this is not itself embed creation — it records the file
// artifacts the subsequent store_embed references.
func (s *Server) handleStoreRecord(w http.ResponseWriter, r *http.Request) {
	var rec models.UploadRecord
	if err := decodeBody(r, &rec); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if rec.EmbedID == uuid.Nil {
		rec.EmbedID = uuid.New()
	}

	if err := s.upsertRecord(r.Context(), rec); err != nil {
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "embed_id": rec.EmbedID})
}

func (s *Server) findRecord(ctx context.Context, userIDHash, contentHash string) (*models.UploadRecord, error) {
	var rec models.UploadRecord
	var storageKeyFull, storageKeyPreview, aesNonce *string
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id_hash, content_hash, embed_id, mime_type, size_bytes,
			storage_key_original, storage_key_full, storage_key_preview,
			vault_wrapped_aes_key, aes_nonce_b64, scan_clean, ai_generated, page_count, created_at
		FROM upload_records WHERE user_id_hash = $1 AND content_hash = $2
	`, userIDHash, contentHash)
	err := row.Scan(&rec.UserIDHash, &rec.ContentHash, &rec.EmbedID, &rec.MimeType, &rec.SizeBytes,
		&rec.StorageKeyOriginal, &storageKeyFull, &storageKeyPreview,
		&rec.VaultWrappedAESKey, &aesNonce, &rec.ScanClean, &rec.AIGenerated, &rec.PageCount, &rec.CreatedAt)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	if storageKeyFull != nil {
		rec.StorageKeyFull = *storageKeyFull
	}
	if storageKeyPreview != nil {
		rec.StorageKeyPreview = *storageKeyPreview
	}
	if aesNonce != nil {
		rec.AESNonceB64 = *aesNonce
	}
	return &rec, nil
}

func (s *Server) upsertRecord(ctx context.Context, rec models.UploadRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_records (user_id_hash, content_hash, embed_id, mime_type, size_bytes,
			storage_key_original, storage_key_full, storage_key_preview,
			vault_wrapped_aes_key, aes_nonce_b64, scan_clean, ai_generated, page_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (user_id_hash, content_hash) DO UPDATE SET
			embed_id = EXCLUDED.embed_id,
			storage_key_original = EXCLUDED.storage_key_original,
			storage_key_full = EXCLUDED.storage_key_full,
			storage_key_preview = EXCLUDED.storage_key_preview,
			vault_wrapped_aes_key = EXCLUDED.vault_wrapped_aes_key,
			aes_nonce_b64 = EXCLUDED.aes_nonce_b64,
			scan_clean = EXCLUDED.scan_clean,
			ai_generated = EXCLUDED.ai_generated,
			page_count = EXCLUDED.page_count
	`, rec.UserIDHash, rec.ContentHash, rec.EmbedID, rec.MimeType, rec.SizeBytes,
		rec.StorageKeyOriginal, nullIfEmpty(rec.StorageKeyFull), nullIfEmpty(rec.StorageKeyPreview),
		rec.VaultWrappedAESKey, rec.AESNonceB64, rec.ScanClean, rec.AIGenerated, rec.PageCount)
	return err
}

func (s *Server) deleteRecord(ctx context.Context, userIDHash, contentHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM upload_records WHERE user_id_hash = $1 AND content_hash = $2`, userIDHash, contentHash)
	return err
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
