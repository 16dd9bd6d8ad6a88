package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openmates/core/internal/models"
)

type storeEmbedPayload struct {
	EmbedID          uuid.UUID            `json:"embed_id"`
	ChatID           uuid.UUID            `json:"chat_id"`
	MessageID        uuid.UUID            `json:"message_id"`
	EncryptionMode   models.EncryptionMode `json:"encryption_mode"`
	EncryptedContent string               `json:"encrypted_content"`
	ShareMode        models.ShareMode     `json:"share_mode"`
	ContentHash      string               `json:"content_hash"`
	Status           models.EmbedStatus   `json:"status"`
	TextLengthChars  int                  `json:"text_length_chars"`
}

// handleStoreEmbed creates or advances an embed's lifecycle. A status
// transition that is not forward-only (or the single permitted
// in_progress -> cancelled exception) is rejected without mutating
// anything (§4.6, models.CanTransitionEmbedStatus).
func handleStoreEmbed(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p storeEmbedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding store_embed: %w", err)
	}
	if err := checkOwnership(ctx, s, p.ChatID); err != nil {
		s.SendError("You do not have access to this chat", "")
		return nil
	}

	existing, err := s.Store.GetEmbed(ctx, p.EmbedID)
	if err != nil {
		return err
	}
	if existing != nil && !models.CanTransitionEmbedStatus(existing.Status, p.Status) {
		s.SendError("Invalid embed status transition", fmt.Sprintf("%s -> %s", existing.Status, p.Status))
		return nil
	}

	now := time.Now()
	e := models.Embed{
		ID:               p.EmbedID,
		EncryptionMode:   p.EncryptionMode,
		EncryptedContent: p.EncryptedContent,
		HashedUserID:     models.UserIDHash(s.UserID),
		HashedChatID:     models.HashString(p.ChatID.String()),
		HashedMessageID:  models.HashString(p.MessageID.String()),
		ShareMode:        p.ShareMode,
		ContentHash:      p.ContentHash,
		Status:           p.Status,
		TextLengthChars:  p.TextLengthChars,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing != nil {
		e.CreatedAt = existing.CreatedAt
		e.VersionNumber = existing.VersionNumber + 1
	} else {
		e.VersionNumber = 1
	}

	if err := s.Store.UpsertEmbed(ctx, e); err != nil {
		return err
	}
	s.Manager.BroadcastToUser(s.UserID, "", mustJSON(envelope{
		Type:    "embed_updated",
		Payload: mustJSON(e),
	}))
	return nil
}

type storeEmbedKeysPayload struct {
	Wrappers []models.EmbedKeyWrapper `json:"wrappers"`
}

type storeEmbedKeysResult struct {
	Accepted int      `json:"accepted"`
	Rejected []string `json:"rejected"`
}

// handleStoreEmbedKeys validates and stores each wrapper independently —
// a bad wrapper in the batch never fails its siblings (§4.7).
func handleStoreEmbedKeys(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p storeEmbedKeysPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding store_embed_keys: %w", err)
	}

	accepted, rejected := s.Keys.StoreWrappers(ctx, p.Wrappers)
	rejectedMsgs := make([]string, 0, len(rejected))
	for _, r := range rejected {
		rejectedMsgs = append(rejectedMsgs, r.Error())
	}
	s.Send("store_embed_keys_result", storeEmbedKeysResult{Accepted: accepted, Rejected: rejectedMsgs})
	return nil
}

type requestEmbedPayload struct {
	EmbedID uuid.UUID `json:"embed_id"`
}

// handleRequestEmbed returns an embed plus the caller's available key
// wrapper, so the client can decrypt client-mode embeds locally. Vault-mode
// embeds are never decrypted here — that is the REST file-download path's
// job (§4.7).
func handleRequestEmbed(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p requestEmbedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding request_embed: %w", err)
	}

	embed, err := s.Store.GetEmbed(ctx, p.EmbedID)
	if err != nil {
		return err
	}
	if embed == nil {
		s.SendError("Embed not found", "")
		return nil
	}
	hashedUserID := models.UserIDHash(s.UserID)
	if embed.HashedUserID != hashedUserID && embed.ShareMode == models.ShareNone {
		s.SendError("You do not have access to this embed", "")
		return nil
	}

	hashedEmbedID := models.HashString(p.EmbedID.String())
	wrapper, err := s.Keys.MasterWrapperFor(ctx, hashedEmbedID, hashedUserID)
	if err != nil {
		return err
	}

	s.Send("embed_response", map[string]interface{}{
		"embed":   embed,
		"wrapper": wrapper,
	})
	return nil
}
