package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// detectAIGenerated calls an external classifier best-effort. Any failure —
// timeout, non-2xx, malformed body — returns nil: the spec treats
// this signal as optional, never a reason to fail or delay an upload
// (§4.8 step 5).
func detectAIGenerated(ctx context.Context, endpoint string, data []byte, mimeType string) *bool {
	if endpoint == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil
	}
	req.Header.Set("content-type", mimeType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Printf("ai-gen detector unreachable, proceeding without a verdict: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var body struct {
		AIGenerated bool `json:"ai_generated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	return &body.AIGenerated
}
