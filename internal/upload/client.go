// Package upload implements the Upload Service (§4.8): a process with only
// narrow outbound access — its own local Vault for S3/external-API
// credentials, and HTTPS to the core's /internal/uploads/* endpoints. It
// never touches the main data store or the main Vault directly; every
// state-bearing step is forwarded through coreClient.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openmates/core/internal/models"
)

// ErrInsufficientCredits is returned by chargeCredits when the core's
// /internal/billing/charge endpoint reports 402, distinguishing it from
// any other failure to reach or process that call.
var ErrInsufficientCredits = errors.New("insufficient credits")

// coreClient is the only way this process talks to the main data store —
// a thin wrapper over the six /internal/uploads/* and /internal/billing/*
// and /internal/validate-token endpoints (§6).
type coreClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func newCoreClient(baseURL, secret string) *coreClient {
	return &coreClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *coreClient) post(ctx context.Context, path string, body interface{}, out interface{}) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("X-Internal-Service-Token", c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return resp, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return resp, nil
}

func (c *coreClient) validateToken(ctx context.Context, refreshToken string) (userIDHash, vaultKeyID, userID string, err error) {
	var resp struct {
		UserID     string `json:"user_id"`
		VaultKeyID string `json:"vault_key_id"`
	}
	_, err = c.post(ctx, "/internal/validate-token", map[string]string{"refresh_token": refreshToken}, &resp)
	if err != nil {
		return "", "", "", err
	}
	return models.HashString(resp.UserID), resp.VaultKeyID, resp.UserID, nil
}

func (c *coreClient) checkDuplicate(ctx context.Context, userIDHash, contentHash string) (*models.UploadRecord, bool, error) {
	var resp struct {
		Deduplicated bool                  `json:"deduplicated"`
		Record       *models.UploadRecord  `json:"record,omitempty"`
	}
	_, err := c.post(ctx, "/internal/uploads/check-duplicate", map[string]string{
		"user_id_hash": userIDHash,
		"content_hash": contentHash,
	}, &resp)
	if err != nil {
		return nil, false, err
	}
	return resp.Record, resp.Deduplicated, nil
}

func (c *coreClient) wrapKey(ctx context.Context, aesKeyB64, vaultKeyID string) (string, error) {
	var resp struct {
		Wrapped string `json:"wrapped"`
	}
	_, err := c.post(ctx, "/internal/uploads/wrap-key", map[string]string{
		"aes_key_b64":  aesKeyB64,
		"vault_key_id": vaultKeyID,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Wrapped, nil
}

func (c *coreClient) storeRecord(ctx context.Context, rec models.UploadRecord) (embedID string, err error) {
	var resp struct {
		EmbedID string `json:"embed_id"`
	}
	_, err = c.post(ctx, "/internal/uploads/store-record", rec, &resp)
	if err != nil {
		return "", err
	}
	return resp.EmbedID, nil
}

func (c *coreClient) chargeCredits(ctx context.Context, idempotencyKey string, entry models.UsageEntry, costCredits float64) error {
	resp, err := c.post(ctx, "/internal/billing/charge", map[string]interface{}{
		"idempotency_key": idempotencyKey,
		"entry":           entry,
		"cost_credits":    costCredits,
	}, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusPaymentRequired {
			return ErrInsufficientCredits
		}
		return err
	}
	return nil
}

func (c *coreClient) triggerPDFProcessing(ctx context.Context, userIDHash, contentHash, s3Key string) {
	_, err := c.post(ctx, "/internal/pdf/process", map[string]string{
		"user_id_hash": userIDHash,
		"content_hash": contentHash,
		"s3_key":       s3Key,
	}, nil)
	if err != nil {
		logger.Printf("WARN OCR trigger failed, continuing without it: %v", err)
	}
}
