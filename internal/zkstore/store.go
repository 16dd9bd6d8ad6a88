package zkstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"database/sql"

	"github.com/openmates/core/internal/models"
)

var logger = log.New(os.Stdout, "[zkstore] ", log.LstdFlags)

// ChatListItem is the metadata-only wrapper returned by the "load more
// chats" pager — no messages, per §4.6.
type ChatListItem struct {
	ChatID               uuid.UUID `json:"chat_id"`
	EncryptedTitle       string    `json:"encrypted_title"`
	EncryptedCategory    string    `json:"encrypted_category"`
	LastMessageTimestamp time.Time `json:"last_message_timestamp"`
	Pinned               bool      `json:"pinned"`
}

// ChatsPageResult is the load_more_chats_response wire shape.
type ChatsPageResult struct {
	Chats      []ChatListItem `json:"chats"`
	HasMore    bool           `json:"has_more"`
	TotalCount int64          `json:"total_count"`
	Offset     int            `json:"offset"`
}

// Store is the combined cache+durable facade every handler in this module
// talks to. The cache is authoritative for in-flight state; persistence
// calls are queued and applied asynchronously, matching §5's "durable
// store is eventually consistent" policy.
type Store struct {
	cache   *cache
	durable *durable
	persist chan func(context.Context) error
}

func New(pg *sql.DB, rdb *redis.Client) *Store {
	s := &Store{
		cache:   &cache{rdb: rdb},
		durable: &durable{db: pg},
		persist: make(chan func(context.Context) error, 256),
	}
	go s.persistLoop()
	return s
}

// persistLoop is the eventually-consistent durable-write worker: handlers
// enqueue a closure after committing to the cache and return immediately;
// this goroutine drains the queue against Postgres.
func (s *Store) persistLoop() {
	ctx := context.Background()
	for fn := range s.persist {
		if err := fn(ctx); err != nil {
			logger.Printf("durable persistence error: %v", err)
		}
	}
}

func (s *Store) enqueuePersist(fn func(context.Context) error) {
	select {
	case s.persist <- fn:
	default:
		logger.Printf("WARN persistence queue full, applying synchronously")
		if err := fn(context.Background()); err != nil {
			logger.Printf("durable persistence error: %v", err)
		}
	}
}

// CheckChatOwnership consults the cache first, then the durable store.
// Absence of any chat record means "new/local chat" and is permitted —
// the first write binds the owner (§4.6).
func (s *Store) CheckChatOwnership(ctx context.Context, chatID uuid.UUID, hashedUserID string) (owned bool, isNew bool, err error) {
	summary, found, err := s.cache.getSummary(ctx, chatID.String())
	if err != nil {
		return false, false, err
	}
	if found {
		owner, ok := summary["hashed_user_id"]
		if !ok {
			return false, false, nil
		}
		return owner == hashedUserID, false, nil
	}

	chat, err := s.durable.getChat(ctx, chatID)
	if err != nil {
		return false, false, err
	}
	if chat == nil {
		return true, true, nil
	}
	return chat.HashedUserID == hashedUserID, false, nil
}

// CreateOrUpdateChat applies a chat write to the cache (commit point) and
// enqueues the durable write.
func (s *Store) CreateOrUpdateChat(ctx context.Context, c models.Chat) error {
	if err := s.cache.setSummaryField(ctx, c.ID.String(), "hashed_user_id", c.HashedUserID); err != nil {
		return err
	}
	if err := s.cache.setSummaryField(ctx, c.ID.String(), "encrypted_title", c.EncryptedTitle); err != nil {
		return err
	}
	if err := s.cache.setSummaryField(ctx, c.ID.String(), "encrypted_category", c.EncryptedCategory); err != nil {
		return err
	}
	if err := s.cache.touchChatOrdering(ctx, c.HashedUserID, c.ID.String(), c.LastMessageTimestamp); err != nil {
		return err
	}
	s.enqueuePersist(func(ctx context.Context) error { return s.durable.upsertChat(ctx, c) })
	return nil
}

// AppendMessage pushes to the AI-inference cache, touches chat ordering and
// the messages_v counter, then enqueues durable persistence — the three
// steps of the §4.2 delivery guarantee (cache, enqueue persist, caller then
// broadcasts).
func (s *Store) AppendMessage(ctx context.Context, m models.Message) (newVersion int64, err error) {
	if err := s.cache.pushMessage(ctx, m.HashedChatID, m); err != nil {
		return 0, err
	}
	v, err := s.cache.incrementVersion(ctx, m.HashedChatID, models.VersionMessages)
	if err != nil {
		return 0, err
	}
	s.enqueuePersist(func(ctx context.Context) error { return s.durable.insertMessage(ctx, m) })
	return v, nil
}

// GetAIMessagesHistory returns encrypted message blobs newest-first; the
// message_received handler reverses them to reconstruct chronological order.
func (s *Store) GetAIMessagesHistory(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	msgs, hit, err := s.cache.getMessages(ctx, chatID.String())
	if err != nil {
		return nil, err
	}
	if hit {
		return msgs, nil
	}
	return s.durable.messagesForChat(ctx, chatID, 200)
}

func (s *Store) RemoveMessageFromCache(ctx context.Context, chatID, messageID uuid.UUID) error {
	if err := s.cache.removeMessage(ctx, chatID.String(), messageID.String()); err != nil {
		return err
	}
	s.enqueuePersist(func(ctx context.Context) error { return s.durable.deleteMessage(ctx, messageID) })
	return nil
}

func (s *Store) RemoveEmbedFromChatCache(ctx context.Context, chatID, embedID uuid.UUID) error {
	return s.cache.removeEmbed(ctx, chatID.String(), embedID.String())
}

func (s *Store) GetChatVersions(ctx context.Context, chatID uuid.UUID) (map[string]int64, error) {
	return s.cache.getVersions(ctx, chatID.String())
}

// IncrementChatComponentVersion is the only mutator of a chat's version
// counters — callers must be the WS Router to preserve the
// single-writer-per-chat_id invariant (§5).
func (s *Store) IncrementChatComponentVersion(ctx context.Context, chatID uuid.UUID, which models.ChatVersionComponent) (int64, error) {
	return s.cache.incrementVersion(ctx, chatID.String(), which)
}

func (s *Store) UpdateChatActiveFocusID(ctx context.Context, chatID uuid.UUID, encryptedFocusID *string) error {
	return s.cache.setActiveFocus(ctx, chatID.String(), encryptedFocusID)
}

// SetActiveAITask marks chatID as having taskID in flight — set when a task
// is submitted, cleared on completion or revoke (§4.3).
func (s *Store) SetActiveAITask(ctx context.Context, chatID, taskID uuid.UUID) error {
	return s.cache.setActiveAITask(ctx, chatID.String(), taskID.String())
}

// ClearActiveAITask removes the marker. RevokeTask calls this synchronously
// so the cache reflects cancellation before the runner goroutine has had a
// chance to observe ctx.Done() (§8 seed test 1: "within 1500ms... cache
// shows active_ai_task unset").
func (s *Store) ClearActiveAITask(ctx context.Context, chatID uuid.UUID) error {
	return s.cache.clearActiveAITask(ctx, chatID.String())
}

func (s *Store) GetActiveAITask(ctx context.Context, chatID uuid.UUID) (string, error) {
	return s.cache.getActiveAITask(ctx, chatID.String())
}

func (s *Store) SetPendingFocusActivation(ctx context.Context, chatID uuid.UUID, rec FocusPendingActivation, ttl time.Duration) error {
	return s.cache.setPendingFocus(ctx, chatID.String(), rec, ttl)
}

// GetAndDeletePendingFocusActivation is ATOMIC (single Redis round-trip) —
// whichever caller (auto-confirm timer or client rejection handler) calls
// this first gets the record; the other gets nil (already consumed).
func (s *Store) GetAndDeletePendingFocusActivation(ctx context.Context, chatID uuid.UUID) (*FocusPendingActivation, error) {
	return s.cache.getAndDeletePendingFocus(ctx, chatID.String())
}

// LoadMoreChats implements the pager: cache (sorted set) first, falling
// back to the durable store with the same (offset, limit) semantics.
func (s *Store) LoadMoreChats(ctx context.Context, hashedUserID string, offset, limit int) (*ChatsPageResult, error) {
	if limit > 50 {
		limit = 50
	}

	ids, total, err := s.cache.chatIDsVersions(ctx, hashedUserID, int64(offset), int64(offset+limit-1))
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 || total > 0 {
		items := make([]ChatListItem, 0, len(ids))
		for _, id := range ids {
			chatID, err := uuid.Parse(id)
			if err != nil {
				continue
			}
			summary, _, err := s.cache.getSummary(ctx, id)
			if err != nil {
				return nil, err
			}
			items = append(items, ChatListItem{
				ChatID:            chatID,
				EncryptedTitle:    summary["encrypted_title"],
				EncryptedCategory: summary["encrypted_category"],
				Pinned:            summary["pinned"] == "true",
			})
		}
		return &ChatsPageResult{
			Chats:      items,
			HasMore:    int64(offset+limit) < total,
			TotalCount: total,
			Offset:     offset,
		}, nil
	}

	chats, dtotal, err := s.durable.chatsPage(ctx, hashedUserID, offset, limit)
	if err != nil {
		return nil, err
	}
	items := make([]ChatListItem, 0, len(chats))
	for _, c := range chats {
		items = append(items, ChatListItem{
			ChatID:               c.ID,
			EncryptedTitle:       c.EncryptedTitle,
			EncryptedCategory:    c.EncryptedCategory,
			LastMessageTimestamp: c.LastMessageTimestamp,
			Pinned:               c.Pinned,
		})
	}
	return &ChatsPageResult{
		Chats:      items,
		HasMore:    int64(offset+limit) < dtotal,
		TotalCount: dtotal,
		Offset:     offset,
	}, nil
}

// UpsertEmbed enqueues the durable write; it writes no cache entry, so
// GetEmbed sees the new state only once the persistence queue has applied
// it. Transitions are validated by the caller via
// models.CanTransitionEmbedStatus before reaching here.
func (s *Store) UpsertEmbed(ctx context.Context, e models.Embed) error {
	s.enqueuePersist(func(ctx context.Context) error { return s.durable.upsertEmbed(ctx, e) })
	return nil
}

func (s *Store) GetEmbed(ctx context.Context, embedID uuid.UUID) (*models.Embed, error) {
	return s.durable.getEmbed(ctx, embedID)
}

func parseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("parsing uuid %q: %w", s, err)
	}
	return u, nil
}
