// Package keystore implements the Embed Key Wrapping Store (§4.7): embed
// keys are stored separately from embed bodies, as an append-only set of
// wrappers linking one embed to one access path. Grounded on
// internal/models/models.go's E2EE field shapes; the store itself follows
// zkstore's durable-Postgres pattern since wrappers are never read through
// the cache tier (low read volume, no version counters involved).
package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openmates/core/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// StoreWrappers writes each wrapper independently: an invalid wrapper
// (unrecognised key_type, missing hashed_chat_id on a chat-scoped wrapper)
// is rejected on its own without failing the rest of the batch, per §4.7.
// Duplicates are not checked — clients are responsible for deduplicating
// before sending store_embed_keys.
func (s *Store) StoreWrappers(ctx context.Context, wrappers []models.EmbedKeyWrapper) (accepted int, rejected []error) {
	for _, w := range wrappers {
		if err := w.Validate(); err != nil {
			rejected = append(rejected, err)
			continue
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = time.Now()
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO embed_keys (hashed_embed_id, key_type, hashed_chat_id, encrypted_embed_key, hashed_user_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, w.HashedEmbedID, w.KeyType, w.HashedChatID, w.EncryptedEmbedKey, w.HashedUserID, w.CreatedAt); err != nil {
			rejected = append(rejected, fmt.Errorf("storing wrapper for %s: %w", w.HashedEmbedID, err))
			continue
		}
		accepted++
	}
	return accepted, rejected
}

// WrappersForEmbed returns every wrapper registered for an embed, across
// both access paths (master and any chat shares).
func (s *Store) WrappersForEmbed(ctx context.Context, hashedEmbedID string) ([]models.EmbedKeyWrapper, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hashed_embed_id, key_type, hashed_chat_id, encrypted_embed_key, hashed_user_id, created_at
		FROM embed_keys WHERE hashed_embed_id = $1
	`, hashedEmbedID)
	if err != nil {
		return nil, fmt.Errorf("querying wrappers: %w", err)
	}
	defer rows.Close()

	var out []models.EmbedKeyWrapper
	for rows.Next() {
		var w models.EmbedKeyWrapper
		if err := rows.Scan(&w.HashedEmbedID, &w.KeyType, &w.HashedChatID, &w.EncryptedEmbedKey, &w.HashedUserID, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning wrapper: %w", err)
		}
		out = append(out, w)
	}
	return out, nil
}

// MasterWrapperFor returns the owner's cross-chat wrapper for an embed, the
// one the file-download path resolves to decrypt a vault-mode embed.
func (s *Store) MasterWrapperFor(ctx context.Context, hashedEmbedID, hashedUserID string) (*models.EmbedKeyWrapper, error) {
	var w models.EmbedKeyWrapper
	err := s.db.QueryRowContext(ctx, `
		SELECT hashed_embed_id, key_type, hashed_chat_id, encrypted_embed_key, hashed_user_id, created_at
		FROM embed_keys WHERE hashed_embed_id = $1 AND hashed_user_id = $2 AND key_type = $3
		ORDER BY created_at DESC LIMIT 1
	`, hashedEmbedID, hashedUserID, models.KeyTypeMaster).Scan(
		&w.HashedEmbedID, &w.KeyType, &w.HashedChatID, &w.EncryptedEmbedKey, &w.HashedUserID, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying master wrapper: %w", err)
	}
	return &w, nil
}
