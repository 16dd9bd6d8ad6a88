// Package settings persists small per-user preference blobs that need
// server-side readability (e.g. deciding whether to send an email
// notification), so they are Transit-wrapped rather than left in the
// client-only E2EE hierarchy. Grounded on internal/vaultclient's wrap/
// unwrap contract and the keystore package's single-table store shape.
package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openmates/core/internal/vaultclient"
)

type Store struct {
	db    *sql.DB
	vault *vaultclient.Client
	keyName string
}

func New(db *sql.DB, vault *vaultclient.Client, keyName string) *Store {
	return &Store{db: db, vault: vault, keyName: keyName}
}

// EmailNotificationSettings is the one preference blob this store
// currently manages; more settings keys would follow the same
// wrap-before-store shape.
type EmailNotificationSettings struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"` // "instant", "daily_digest", "off"
}

func (s *Store) SetEmailNotificationSettings(ctx context.Context, hashedUserID string, prefs EmailNotificationSettings) error {
	raw := fmt.Sprintf(`{"enabled":%t,"frequency":%q}`, prefs.Enabled, prefs.Frequency)
	wrapped, err := s.vault.Wrap(ctx, s.keyName, []byte(raw))
	if err != nil {
		return fmt.Errorf("wrapping settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (hashed_user_id, wrapped_email_notifications)
		VALUES ($1, $2)
		ON CONFLICT (hashed_user_id) DO UPDATE SET wrapped_email_notifications = EXCLUDED.wrapped_email_notifications
	`, hashedUserID, wrapped)
	if err != nil {
		return fmt.Errorf("storing settings: %w", err)
	}
	return nil
}
