package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openmates/core/internal/models"
	"github.com/openmates/core/internal/modelselect"
	"github.com/openmates/core/internal/provider"
	"github.com/openmates/core/internal/task"
)

type messageReceivedPayload struct {
	ChatID           uuid.UUID `json:"chat_id"`
	HashedMessageID  string    `json:"hashed_message_id"`
	EncryptedContent string    `json:"encrypted_content"`
	EncryptedTitle   string    `json:"encrypted_title,omitempty"`
	EncryptedCategory string   `json:"encrypted_category,omitempty"`
	PlainTextForOverrides string `json:"plain_text_for_overrides,omitempty"`
}

// handleMessageReceived is the chat lifecycle's central handler: it binds
// or confirms chat ownership, commits the user's message to the cache,
// enqueues durable persistence, broadcasts to sibling devices, then hands
// the turn to the Task Dispatcher (§4.2, §4.3).
func handleMessageReceived(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p messageReceivedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding message_received: %w", err)
	}
	if p.ChatID == uuid.Nil {
		p.ChatID = uuid.New()
	}

	hashedUserID := models.UserIDHash(s.UserID)
	owned, isNew, err := s.Store.CheckChatOwnership(ctx, p.ChatID, hashedUserID)
	if err != nil {
		return err
	}
	if !owned {
		s.SendError("You do not have access to this chat", "")
		return nil
	}
	if isNew {
		if err := s.Store.CreateOrUpdateChat(ctx, models.Chat{
			ID:                p.ChatID,
			HashedUserID:      hashedUserID,
			EncryptedTitle:    p.EncryptedTitle,
			EncryptedCategory: p.EncryptedCategory,
			LastMessageTimestamp: time.Now(),
		}); err != nil {
			return err
		}
	}

	hashedChatID := models.HashString(p.ChatID.String())
	msg := models.Message{
		ID:               uuid.New(),
		HashedMessageID:  p.HashedMessageID,
		HashedChatID:      hashedChatID,
		HashedUserID:      hashedUserID,
		Role:              models.RoleUser,
		EncryptedContent:  p.EncryptedContent,
		CreatedAt:         time.Now(),
	}
	newVersion, err := s.Store.AppendMessage(ctx, msg)
	if err != nil {
		return err
	}

	s.Manager.BroadcastToUser(s.UserID, s.Device.DeviceFingerprint, mustJSON(envelope{
		Type: "message_added",
		Payload: mustJSON(map[string]interface{}{
			"chat_id":    p.ChatID,
			"message_id": msg.ID,
			"messages_v": newVersion,
		}),
	}))

	overrides, _ := modelselect.ParseOverrides(p.PlainTextForOverrides)
	model := "claude-3-5-sonnet-latest"
	if m, ok := modelselect.Find(overrides, modelselect.DirectiveAIModel); ok {
		model = m
	}

	history, err := s.Store.GetAIMessagesHistory(ctx, p.ChatID)
	if err != nil {
		return err
	}
	// history is newest-first; the provider gets it in chronological order.
	providerMessages := make([]provider.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		providerMessages = append(providerMessages, provider.Message{Role: string(m.Role), Content: m.EncryptedContent})
	}

	_, err = s.Dispatcher.Submit(ctx, task.SubmitRequest{
		ChatID:            p.ChatID,
		UserID:            s.UserID,
		Model:             model,
		Messages:          providerMessages,
		Tools:             s.Tools,
		ExcludeDeviceHash: s.Device.DeviceFingerprint,
	})
	return err
}

type deleteMessagePayload struct {
	ChatID           uuid.UUID   `json:"chat_id"`
	MessageID        uuid.UUID   `json:"message_id"`
	EmbedIdsToDelete []uuid.UUID `json:"embedIdsToDelete,omitempty"`
}

func handleDeleteMessage(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p deleteMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding delete_message: %w", err)
	}
	if err := checkOwnership(ctx, s, p.ChatID); err != nil {
		s.SendError("You do not have access to this chat", "")
		return nil
	}
	if err := s.Store.RemoveMessageFromCache(ctx, p.ChatID, p.MessageID); err != nil {
		return err
	}
	for _, embedID := range p.EmbedIdsToDelete {
		if err := s.Store.RemoveEmbedFromChatCache(ctx, p.ChatID, embedID); err != nil {
			return err
		}
	}
	s.Manager.BroadcastToUser(s.UserID, "", mustJSON(envelope{
		Type:    "message_deleted",
		Payload: mustJSON(p),
	}))
	return nil
}

type deleteNewChatSuggestionPayload struct {
	ChatID uuid.UUID `json:"chat_id"`
}

// handleDeleteNewChatSuggestion discards a locally-proposed chat that was
// never confirmed by the user — since it was never persisted, this is
// purely a cache cleanup with no durable counterpart.
func handleDeleteNewChatSuggestion(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p deleteNewChatSuggestionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding delete_new_chat_suggestion: %w", err)
	}
	owned, isNew, err := s.Store.CheckChatOwnership(ctx, p.ChatID, models.UserIDHash(s.UserID))
	if err != nil {
		return err
	}
	if !owned || !isNew {
		return nil
	}
	s.Send("new_chat_suggestion_deleted", p)
	return nil
}

type systemMessagePayload struct {
	ChatID           uuid.UUID `json:"chat_id"`
	EncryptedContent string    `json:"encrypted_content"`
}

// handleSystemMessageAdded appends a server/system-originated note (e.g.
// "focus mode activated") to chat history without going through the
// Task Dispatcher.
func handleSystemMessageAdded(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p systemMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding chat_system_message_added: %w", err)
	}
	if err := checkOwnership(ctx, s, p.ChatID); err != nil {
		s.SendError("You do not have access to this chat", "")
		return nil
	}
	msg := models.Message{
		ID:               uuid.New(),
		HashedChatID:     models.HashString(p.ChatID.String()),
		HashedUserID:     models.UserIDHash(s.UserID),
		Role:             models.RoleSystem,
		EncryptedContent: p.EncryptedContent,
		CreatedAt:        time.Now(),
	}
	v, err := s.Store.AppendMessage(ctx, msg)
	if err != nil {
		return err
	}
	s.Manager.BroadcastToUser(s.UserID, "", mustJSON(envelope{
		Type: "message_added",
		Payload: mustJSON(map[string]interface{}{"chat_id": p.ChatID, "message_id": msg.ID, "messages_v": v}),
	}))
	return nil
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
