// Package wsrouter is the WebSocket Message Router (§4.2): a single entry
// point per connection that dispatches inbound frames by their "type"
// field to typed handlers, replacing the teacher's raw
// map[string]interface{} rebroadcast
// (cmd/messaging-service/internal/models/client.go) with a registry of
// named handlers mirroring original_source's
// routes/handlers/websocket_handlers/ directory, one file per event
// family.
package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openmates/core/internal/conn"
	"github.com/openmates/core/internal/keystore"
	"github.com/openmates/core/internal/models"
	"github.com/openmates/core/internal/provider"
	"github.com/openmates/core/internal/settings"
	"github.com/openmates/core/internal/task"
	"github.com/openmates/core/internal/zkstore"
)

var logger = log.New(os.Stdout, "[wsrouter] ", log.LstdFlags)

// envelope is the wire shape of every inbound/outbound frame: a type tag
// plus an opaque payload the handler for that type knows how to decode.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"content"`
}

// OutErr matches the outbound "error" event shape from §6.
type OutErr struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Session bundles everything a handler needs for one connection; it is
// created fresh per accepted socket.
type Session struct {
	UserID uuid.UUID
	Device models.DeviceKey
	Conn   *websocket.Conn

	Manager    *conn.Manager
	Store      *zkstore.Store
	Keys       *keystore.Store
	Dispatcher *task.Dispatcher
	Settings   *settings.Store

	// Tools is the Skill Execution Fabric's manifest-derived tool schemas
	// (§4.5), offered to the model on every task this session submits.
	Tools []provider.ToolSchema
}

// Send writes one outbound frame to this session's own socket only.
func (s *Session) Send(eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("marshal outbound %s: %v", eventType, err)
		return
	}
	env := envelope{Type: eventType, Payload: raw}
	out, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.Manager.SendPersonal(s.Device, out)
}

// SendError writes the coarse, user-visible error event on this device
// only — errors are never broadcast to sibling devices (§7 propagation).
func (s *Session) SendError(message, details string) {
	s.Send("error", OutErr{Message: message, Details: details})
}

// HandlerFunc processes one decoded inbound event for a session.
type HandlerFunc func(ctx context.Context, s *Session, payload json.RawMessage) error

// Router holds the type -> handler registry.
type Router struct {
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	r := &Router{handlers: make(map[string]HandlerFunc)}
	r.registerDefaults()
	return r
}

func (r *Router) register(eventType string, h HandlerFunc) {
	r.handlers[eventType] = h
}

// Dispatch decodes the envelope and calls the registered handler; an
// unknown type or a malformed envelope both yield InvalidRequest, surfaced
// to this device only.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.SendError("Failed to process message", "malformed frame")
		return
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		s.SendError("Failed to process message", fmt.Sprintf("unknown event type %q", env.Type))
		return
	}

	if err := h(ctx, s, env.Payload); err != nil {
		logger.Printf("handler %s failed for task correlation: %v", env.Type, err)
		s.SendError("Failed to process message", "")
	}
}

// Run is the per-connection read loop: gorilla WS -> Dispatch. It returns
// when the socket closes or errors, at which point the caller is expected
// to call Manager.Disconnect.
func (r *Router) Run(ctx context.Context, s *Session) {
	s.Conn.SetReadDeadline(time.Time{})
	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			return
		}
		r.Dispatch(ctx, s, raw)
	}
}

func (r *Router) registerDefaults() {
	r.register("message_received", handleMessageReceived)
	r.register("cancel_ai_task", handleCancelAITask)
	r.register("cancel_skill", handleCancelSkill)
	r.register("focus_mode_rejected", handleFocusModeRejected)
	r.register("store_embed", handleStoreEmbed)
	r.register("store_embed_keys", handleStoreEmbedKeys)
	r.register("request_embed", handleRequestEmbed)
	r.register("delete_message", handleDeleteMessage)
	r.register("delete_new_chat_suggestion", handleDeleteNewChatSuggestion)
	r.register("email_notification_settings", handleEmailNotificationSettings)
	r.register("chat_system_message_added", handleSystemMessageAdded)
	r.register("load_more_chats", handleLoadMoreChats)
}

// checkOwnership is the ownership guard every state-mutating handler runs
// first: SHA256(user_id) == stored.hashed_user_id, with first-write
// permitted when the chat does not exist yet (§4.2).
func checkOwnership(ctx context.Context, s *Session, chatID uuid.UUID) error {
	hashedUserID := models.UserIDHash(s.UserID)
	owned, _, err := s.Store.CheckChatOwnership(ctx, chatID, hashedUserID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("ownership mismatch for chat %s", chatID)
	}
	return nil
}
