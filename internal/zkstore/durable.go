package zkstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmates/core/internal/models"
)

type durable struct {
	db *sql.DB
}

func (d *durable) upsertChat(ctx context.Context, c models.Chat) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO chats (id, hashed_user_id, encrypted_title, encrypted_chat_key,
			encrypted_active_focus_id, encrypted_category, encrypted_summary, encrypted_tag_list,
			last_message_timestamp, pinned, is_shared, is_private, messages_v, title_v, focus_v)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			encrypted_title = EXCLUDED.encrypted_title,
			encrypted_chat_key = EXCLUDED.encrypted_chat_key,
			encrypted_active_focus_id = EXCLUDED.encrypted_active_focus_id,
			encrypted_category = EXCLUDED.encrypted_category,
			encrypted_summary = EXCLUDED.encrypted_summary,
			encrypted_tag_list = EXCLUDED.encrypted_tag_list,
			last_message_timestamp = EXCLUDED.last_message_timestamp,
			pinned = EXCLUDED.pinned,
			is_shared = EXCLUDED.is_shared,
			is_private = EXCLUDED.is_private,
			messages_v = EXCLUDED.messages_v,
			title_v = EXCLUDED.title_v,
			focus_v = EXCLUDED.focus_v
	`, c.ID, c.HashedUserID, c.EncryptedTitle, c.EncryptedChatKey, c.EncryptedActiveFocusID,
		c.EncryptedCategory, c.EncryptedSummary, c.EncryptedTagList, c.LastMessageTimestamp,
		c.Pinned, c.IsShared, c.IsPrivate, c.MessagesV, c.TitleV, c.FocusV)
	if err != nil {
		return fmt.Errorf("upserting chat: %w", err)
	}
	return nil
}

func (d *durable) getChat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	var c models.Chat
	err := d.db.QueryRowContext(ctx, `
		SELECT id, hashed_user_id, encrypted_title, encrypted_chat_key,
			encrypted_active_focus_id, encrypted_category, encrypted_summary, encrypted_tag_list,
			last_message_timestamp, pinned, is_shared, is_private, messages_v, title_v, focus_v
		FROM chats WHERE id = $1
	`, chatID).Scan(&c.ID, &c.HashedUserID, &c.EncryptedTitle, &c.EncryptedChatKey,
		&c.EncryptedActiveFocusID, &c.EncryptedCategory, &c.EncryptedSummary, &c.EncryptedTagList,
		&c.LastMessageTimestamp, &c.Pinned, &c.IsShared, &c.IsPrivate, &c.MessagesV, &c.TitleV, &c.FocusV)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading chat: %w", err)
	}
	return &c, nil
}

// chatsPage returns chats for a user ordered by last_message_timestamp
// descending, for durable-store pagination fallback when the cache misses.
func (d *durable) chatsPage(ctx context.Context, hashedUserID string, offset, limit int) ([]models.Chat, int64, error) {
	var total int64
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats WHERE hashed_user_id = $1`, hashedUserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting chats: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, hashed_user_id, encrypted_title, encrypted_chat_key,
			encrypted_active_focus_id, encrypted_category, encrypted_summary, encrypted_tag_list,
			last_message_timestamp, pinned, is_shared, is_private, messages_v, title_v, focus_v
		FROM chats WHERE hashed_user_id = $1
		ORDER BY last_message_timestamp DESC
		OFFSET $2 LIMIT $3
	`, hashedUserID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("paging chats: %w", err)
	}
	defer rows.Close()

	var out []models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.HashedUserID, &c.EncryptedTitle, &c.EncryptedChatKey,
			&c.EncryptedActiveFocusID, &c.EncryptedCategory, &c.EncryptedSummary, &c.EncryptedTagList,
			&c.LastMessageTimestamp, &c.Pinned, &c.IsShared, &c.IsPrivate, &c.MessagesV, &c.TitleV, &c.FocusV); err != nil {
			return nil, 0, fmt.Errorf("scanning chat: %w", err)
		}
		out = append(out, c)
	}
	return out, total, nil
}

func (d *durable) insertMessage(ctx context.Context, m models.Message) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO messages (id, hashed_message_id, hashed_chat_id, hashed_user_id, chat_id, role, encrypted_content, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.HashedMessageID, m.HashedChatID, m.HashedUserID, m.ID, m.Role, m.EncryptedContent, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (d *durable) deleteMessage(ctx context.Context, messageID uuid.UUID) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

func (d *durable) messagesForChat(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, hashed_message_id, hashed_chat_id, hashed_user_id, role, encrypted_content, created_at
		FROM messages WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading durable messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.HashedMessageID, &m.HashedChatID, &m.HashedUserID, &m.Role, &m.EncryptedContent, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *durable) upsertEmbed(ctx context.Context, e models.Embed) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO embeds (id, encryption_mode, encrypted_content, hashed_user_id, hashed_chat_id,
			hashed_message_id, share_mode, parent_embed_id, version_number, content_hash, status,
			text_length_chars, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			encrypted_content = EXCLUDED.encrypted_content,
			share_mode = EXCLUDED.share_mode,
			version_number = EXCLUDED.version_number,
			content_hash = EXCLUDED.content_hash,
			status = EXCLUDED.status,
			text_length_chars = EXCLUDED.text_length_chars,
			updated_at = EXCLUDED.updated_at
	`, e.ID, e.EncryptionMode, e.EncryptedContent, e.HashedUserID, e.HashedChatID, e.HashedMessageID,
		e.ShareMode, e.ParentEmbedID, e.VersionNumber, e.ContentHash, e.Status, e.TextLengthChars,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting embed: %w", err)
	}
	return nil
}

func (d *durable) getEmbed(ctx context.Context, embedID uuid.UUID) (*models.Embed, error) {
	var e models.Embed
	err := d.db.QueryRowContext(ctx, `
		SELECT id, encryption_mode, encrypted_content, hashed_user_id, hashed_chat_id, hashed_message_id,
			share_mode, parent_embed_id, version_number, content_hash, status, text_length_chars, created_at, updated_at
		FROM embeds WHERE id = $1
	`, embedID).Scan(&e.ID, &e.EncryptionMode, &e.EncryptedContent, &e.HashedUserID, &e.HashedChatID,
		&e.HashedMessageID, &e.ShareMode, &e.ParentEmbedID, &e.VersionNumber, &e.ContentHash, &e.Status,
		&e.TextLengthChars, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading embed: %w", err)
	}
	return &e, nil
}
