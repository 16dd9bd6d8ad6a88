// Package zkstore implements the Zero-Knowledge Store (§4.6): the cache and
// durable persistence contracts for chats, messages, and embeds, none of
// which the server ever reads as plaintext. The cache (Redis) is the
// authoritative in-flight source of truth; the durable store (Postgres) is
// eventually consistent, matching §5's shared-resource policy. Grounded on
// internal/messaging/messaging.go's Postgres+Redis split.
package zkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openmates/core/internal/models"
)

type cache struct {
	rdb *redis.Client
}

func messagesKey(chatID string) string  { return "zk:chat:" + chatID + ":messages" }
func versionsKey(chatID string) string  { return "zk:chat:" + chatID + ":versions" }
func summaryKey(chatID string) string   { return "zk:chat:" + chatID + ":summary" }
func embedsKey(chatID string) string    { return "zk:chat:" + chatID + ":embeds" }
func focusPendingKey(chatID string) string { return "zk:chat:" + chatID + ":focus_pending" }
func activeAITaskKey(chatID string) string { return "zk:chat:" + chatID + ":active_ai_task" }
func userChatsKey(hashedUserID string) string { return "zk:user:" + hashedUserID + ":chats" }

// messageEnvelope is what actually sits in the Redis list — the
// server-visible fields plus the opaque ciphertext blob, nothing more.
type messageEnvelope struct {
	ID               string    `json:"id"`
	HashedMessageID  string    `json:"hashed_message_id"`
	Role             string    `json:"role"`
	EncryptedContent string    `json:"encrypted_content"`
	CreatedAt        time.Time `json:"created_at"`
}

// pushMessage appends one message envelope to the chat's AI-inference cache
// (an ordered Redis list) — the cache update is the commit point for
// in-flight conversation logic (§4.2 delivery guarantee).
func (c *cache) pushMessage(ctx context.Context, chatID string, m models.Message) error {
	if c.rdb == nil {
		return nil
	}
	env := messageEnvelope{
		ID:               m.ID.String(),
		HashedMessageID:  m.HashedMessageID,
		Role:             string(m.Role),
		EncryptedContent: m.EncryptedContent,
		CreatedAt:        m.CreatedAt,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling message envelope: %w", err)
	}
	return c.rdb.RPush(ctx, messagesKey(chatID), raw).Err()
}

// getMessages returns the cached messages for a chat, newest-first (the
// message_received handler reverses to get chronological order per §4.6).
func (c *cache) getMessages(ctx context.Context, chatID string) ([]models.Message, bool, error) {
	if c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.LRange(ctx, messagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reading cached messages: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	out := make([]models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var env messageEnvelope
		if err := json.Unmarshal([]byte(raw[i]), &env); err != nil {
			continue
		}
		id, _ := parseUUID(env.ID)
		out = append(out, models.Message{
			ID:               id,
			HashedMessageID:  env.HashedMessageID,
			HashedChatID:     models.HashString(chatID),
			Role:             models.MessageRole(env.Role),
			EncryptedContent: env.EncryptedContent,
			CreatedAt:        env.CreatedAt,
		})
	}
	return out, true, nil
}

// removeMessage removes a message from both the ordered AI-inference cache
// and (conceptually) the sync cache keyed by message id — both structures
// live in the same Redis list here since the list already carries an id per
// element, so the removal is a single scan-and-filter.
func (c *cache) removeMessage(ctx context.Context, chatID, messageID string) error {
	if c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.LRange(ctx, messagesKey(chatID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("reading cached messages: %w", err)
	}
	for _, r := range raw {
		var env messageEnvelope
		if err := json.Unmarshal([]byte(r), &env); err != nil {
			continue
		}
		if env.ID == messageID {
			c.rdb.LRem(ctx, messagesKey(chatID), 1, r)
		}
	}
	return nil
}

func (c *cache) removeEmbed(ctx context.Context, chatID, embedID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.HDel(ctx, embedsKey(chatID), embedID).Err()
}

// touchChatOrdering updates the per-user sorted set used for chat ordering
// and pagination, keyed on last-edited-overall timestamp.
func (c *cache) touchChatOrdering(ctx context.Context, hashedUserID, chatID string, ts time.Time) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.ZAdd(ctx, userChatsKey(hashedUserID), redis.Z{
		Score:  float64(ts.Unix()),
		Member: chatID,
	}).Err()
}

// chatIDsVersions returns chat ids ordered by last-edited timestamp in the
// inclusive [start, end] rank range.
func (c *cache) chatIDsVersions(ctx context.Context, hashedUserID string, start, end int64) ([]string, int64, error) {
	if c.rdb == nil {
		return nil, 0, nil
	}
	total, err := c.rdb.ZCard(ctx, userChatsKey(hashedUserID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("counting chats: %w", err)
	}
	ids, err := c.rdb.ZRevRange(ctx, userChatsKey(hashedUserID), start, end).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("ranging chats: %w", err)
	}
	return ids, total, nil
}

// incrementVersion atomically increments one of a chat's monotonic
// counters and returns the new value — only the WS Router calls this,
// preserving the single-writer-per-chat_id invariant at the caller level.
func (c *cache) incrementVersion(ctx context.Context, chatID string, which models.ChatVersionComponent) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}
	return c.rdb.HIncrBy(ctx, versionsKey(chatID), string(which), 1).Result()
}

func (c *cache) getVersions(ctx context.Context, chatID string) (map[string]int64, error) {
	if c.rdb == nil {
		return nil, nil
	}
	raw, err := c.rdb.HGetAll(ctx, versionsKey(chatID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading versions: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		var n int64
		fmt.Sscanf(v, "%d", &n)
		out[k] = n
	}
	return out, nil
}

func (c *cache) setSummaryField(ctx context.Context, chatID, field, value string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.HSet(ctx, summaryKey(chatID), field, value).Err()
}

func (c *cache) getSummary(ctx context.Context, chatID string) (map[string]string, bool, error) {
	if c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.HGetAll(ctx, summaryKey(chatID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reading chat summary: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	return raw, true, nil
}

// FocusPendingActivation is the short-lived record written when the LLM
// selects a focus mode mid-stream, consumed by exactly one of {auto-confirm
// timer, client rejection} via getAndDeletePendingFocus.
type FocusPendingActivation struct {
	TaskID       string `json:"task_id"`
	FocusID      string `json:"focus_id"`
	PendingSince int64  `json:"pending_since"`

	// The remaining fields snapshot enough of the proposing task's
	// SubmitRequest to re-fire it as a continuation if the client wins the
	// rejection race (§4.3, §8 seed test 4) — zkstore has no dependency on
	// the provider package, so the message history travels as opaque JSON.
	UserID            string          `json:"user_id"`
	Model             string          `json:"model"`
	MessagesJSON      json.RawMessage `json:"messages_json"`
	AppTag            string          `json:"app_tag,omitempty"`
	ExcludeDeviceHash string          `json:"exclude_device_hash,omitempty"`
}

func (c *cache) setPendingFocus(ctx context.Context, chatID string, rec FocusPendingActivation, ttl time.Duration) error {
	if c.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling pending focus: %w", err)
	}
	return c.rdb.Set(ctx, focusPendingKey(chatID), raw, ttl).Err()
}

// getAndDeletePendingFocus performs the single atomic Redis round-trip
// (GETDEL) §4.6 and §8 invariant 4 require: whichever caller observes a
// non-empty result wins the race; the other gets "already consumed".
func (c *cache) getAndDeletePendingFocus(ctx context.Context, chatID string) (*FocusPendingActivation, error) {
	if c.rdb == nil {
		return nil, nil
	}
	raw, err := c.rdb.GetDel(ctx, focusPendingKey(chatID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get-and-delete pending focus: %w", err)
	}
	var rec FocusPendingActivation
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling pending focus: %w", err)
	}
	return &rec, nil
}

// setActiveAITask marks the chat as having an in-flight AI task, so a
// concurrent cancel request can tell at a glance whether there is anything
// to revoke, and so revocation has something to clear synchronously (§4.3,
// §8 seed test 1).
func (c *cache) setActiveAITask(ctx context.Context, chatID, taskID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, activeAITaskKey(chatID), taskID, 0).Err()
}

// clearActiveAITask removes the marker unconditionally — called both on
// ordinary task completion and, synchronously, on revoke.
func (c *cache) clearActiveAITask(ctx context.Context, chatID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, activeAITaskKey(chatID)).Err()
}

func (c *cache) getActiveAITask(ctx context.Context, chatID string) (string, error) {
	if c.rdb == nil {
		return "", nil
	}
	v, err := c.rdb.Get(ctx, activeAITaskKey(chatID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading active ai task marker: %w", err)
	}
	return v, nil
}

func (c *cache) setActiveFocus(ctx context.Context, chatID string, encryptedFocusID *string) error {
	if c.rdb == nil {
		return nil
	}
	val := ""
	if encryptedFocusID != nil {
		val = *encryptedFocusID
	}
	return c.rdb.HSet(ctx, summaryKey(chatID), "encrypted_active_focus_id", val).Err()
}
