package billing

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/openmates/core/internal/models"
	"github.com/openmates/core/internal/storage"
	"github.com/openmates/core/internal/vaultclient"
)

// Archiver moves usage entries older than the cutoff out of the hot
// Postgres table and into gzip+Transit-encrypted S3 objects, following
// original_source's monthly archival ordering exactly: fetch -> JSON ->
// gzip -> Transit-encrypt -> S3 upload -> flag rows -> delete hot rows.
// Flagging happens before deletion so a crash between the two leaves
// retrievable (archived, not-yet-deleted) rows instead of silently losing
// data.
type Archiver struct {
	ledger *Ledger
	vault  *vaultclient.Client
	store  *storage.Service
	vaultKeyName string
}

func NewArchiver(ledger *Ledger, vault *vaultclient.Client, store *storage.Service, vaultKeyName string) *Archiver {
	return &Archiver{ledger: ledger, vault: vault, store: store, vaultKeyName: vaultKeyName}
}

// ArchiveMonth archives every unarchived usage entry for the given
// user-hash and calendar month older than the 3-month cutoff.
func (a *Archiver) ArchiveMonth(ctx context.Context, userIDHash string, month time.Time) error {
	monthStart := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Now().AddDate(0, -3, 0)
	if monthStart.After(cutoff) {
		return fmt.Errorf("month %s is inside the 3-month hot window, not archiving", monthStart.Format("2006-01"))
	}
	monthEnd := monthStart.AddDate(0, 1, 0)

	entries, err := a.ledger.entriesForMonth(ctx, userIDHash, monthStart, monthEnd)
	if err != nil {
		return fmt.Errorf("fetching month's entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling entries: %w", err)
	}

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("gzipping archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	wrapped, err := a.vault.Wrap(ctx, a.vaultKeyName, gz.Bytes())
	if err != nil {
		return fmt.Errorf("transit-encrypting archive: %w", err)
	}

	key := fmt.Sprintf("usage-archives/%s/%s/usage.json.gz", userIDHash, monthStart.Format("2006-01"))
	wrappedBytes := []byte(wrapped)
	if err := a.store.Put(ctx, key, bytes.NewReader(wrappedBytes), int64(len(wrappedBytes)), "application/octet-stream"); err != nil {
		return fmt.Errorf("uploading archive: %w", err)
	}

	ids := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if err := a.ledger.markArchived(ctx, ids, key); err != nil {
		return fmt.Errorf("flagging archived rows: %w", err)
	}
	for _, table := range []string{"usage_monthly_chat_summaries", "usage_monthly_app_summaries", "usage_monthly_api_key_summaries"} {
		if _, err := a.ledger.db.ExecContext(ctx,
			`UPDATE `+table+` SET is_archived = TRUE, archive_s3_key = $1 WHERE user_id_hash = $2 AND year_month = $3`,
			key, userIDHash, monthStart.Format("2006-01")); err != nil {
			return fmt.Errorf("flagging %s: %w", table, err)
		}
	}
	if err := a.ledger.deleteArchived(ctx, ids); err != nil {
		logger.Printf("archived rows flagged but hot-row delete failed, will retry next run: %v", err)
		return nil
	}
	return nil
}

// RetrieveArchived fetches and decrypts one user's archived month,
// filtered back down to plain UsageEntry records.
func (a *Archiver) RetrieveArchived(ctx context.Context, userIDHash string, month time.Time) ([]models.UsageEntry, error) {
	key := fmt.Sprintf("usage-archives/%s/%s/usage.json.gz", userIDHash, month.Format("2006-01"))
	obj, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching archive: %w", err)
	}
	defer obj.Close()
	wrapped, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	raw, err := a.vault.Unwrap(ctx, a.vaultKeyName, string(wrapped))
	if err != nil {
		return nil, fmt.Errorf("decrypting archive: %w", err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("opening gzip archive: %w", err)
	}
	defer gzr.Close()

	var entries []models.UsageEntry
	if err := json.NewDecoder(gzr).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding archive: %w", err)
	}
	return entries, nil
}
