// Package billing implements credit charging and monthly usage archival
// (§4.9). Grounded on original_source's usage_archive_service.py /
// usage_archive_tasks.py for the archive pipeline's exact step ordering,
// and on internal/zkstore's cache/durable split for the hot-row storage
// this package writes into.
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openmates/core/internal/apperr"
	"github.com/openmates/core/internal/models"
)

var logger = log.New(os.Stdout, "[billing] ", log.LstdFlags)

// Ledger writes and queries usage entries. It is deliberately not the
// zkstore.Store cache/durable split — usage entries are append-only and
// never live in the hot-path Redis cache, so a direct Postgres handle is
// enough.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// idempotencyTable backs ChargeUserCredits's dedup: a charge with a key
// already present is a no-op, so a crash-and-retry of the same task never
// double-bills.
const idempotencyTable = `
CREATE TABLE IF NOT EXISTS billing_idempotency (
	idempotency_key TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// ChargeUserCredits records a usage entry for one idempotency key and
// debits the plaintext running balance by costCredits. The balance itself
// is not sensitive the way a skill-by-skill cost breakdown is, so it is
// tracked in cleartext (user_credit_balances) alongside the per-entry
// encrypted_credits_costs_total the client supplies for its own display;
// the server only ever needs the scalar amount to decide admission. A
// non-positive cost is a no-op — callers are not required to check before
// calling, matching original_source's "zero-cost skills never touch the
// ledger" behavior. A duplicate idempotency key is also a no-op. Returns
// an apperr.InsufficientCredits error when the user's balance can't cover
// costCredits; nothing is charged or recorded in that case.
func (l *Ledger) ChargeUserCredits(ctx context.Context, idempotencyKey string, entry models.UsageEntry, costCredits float64) error {
	if costCredits <= 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting charge transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO billing_idempotency (idempotency_key) VALUES ($1) ON CONFLICT DO NOTHING`,
		idempotencyKey)
	if err != nil {
		return fmt.Errorf("recording idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking idempotency insert: %w", err)
	}
	if n == 0 {
		logger.Printf("charge %s already applied, skipping", idempotencyKey)
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_credit_balances (user_id_hash, balance_credits) VALUES ($1, 0)
		 ON CONFLICT (user_id_hash) DO NOTHING`, entry.UserIDHash); err != nil {
		return fmt.Errorf("ensuring balance row: %w", err)
	}

	debitRes, err := tx.ExecContext(ctx,
		`UPDATE user_credit_balances SET balance_credits = balance_credits - $1, updated_at = now()
		 WHERE user_id_hash = $2 AND balance_credits >= $1`, costCredits, entry.UserIDHash)
	if err != nil {
		return fmt.Errorf("debiting balance: %w", err)
	}
	debited, err := debitRes.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking debit: %w", err)
	}
	if debited == 0 {
		return apperr.New(apperr.InsufficientCredits, fmt.Sprintf("user %s has insufficient credits for a %.2f charge", entry.UserIDHash, costCredits))
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_entries (id, user_id_hash, app_id, skill_id, encrypted_credits_costs_total,
			encrypted_model_used, encrypted_input_tokens, encrypted_output_tokens, created_at,
			chat_id, message_id, api_key_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.UserIDHash, entry.AppID, entry.SkillID, entry.EncryptedCreditsCosts,
		entry.EncryptedModelUsed, entry.EncryptedInputTokens, entry.EncryptedOutputTokens, entry.CreatedAt,
		entry.ChatID, entry.MessageID, entry.APIKeyHash)
	if err != nil {
		return fmt.Errorf("inserting usage entry: %w", err)
	}
	return tx.Commit()
}

// entriesForMonth fetches every not-yet-archived usage entry for a user
// within [from, to).
func (l *Ledger) entriesForMonth(ctx context.Context, userIDHash string, from, to time.Time) ([]models.UsageEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id_hash, app_id, skill_id, encrypted_credits_costs_total,
			encrypted_model_used, encrypted_input_tokens, encrypted_output_tokens, created_at,
			chat_id, message_id, api_key_hash
		FROM usage_entries
		WHERE user_id_hash = $1 AND created_at >= $2 AND created_at < $3 AND is_archived = FALSE
	`, userIDHash, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying entries for month: %w", err)
	}
	defer rows.Close()

	var out []models.UsageEntry
	for rows.Next() {
		var e models.UsageEntry
		if err := rows.Scan(&e.ID, &e.UserIDHash, &e.AppID, &e.SkillID, &e.EncryptedCreditsCosts,
			&e.EncryptedModelUsed, &e.EncryptedInputTokens, &e.EncryptedOutputTokens, &e.CreatedAt,
			&e.ChatID, &e.MessageID, &e.APIKeyHash); err != nil {
			return nil, fmt.Errorf("scanning usage entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// markArchived flags rows as archived and records the S3 key before any
// deletion happens, so a crash between flagging and deletion leaves
// recoverable rows rather than a silent gap.
func (l *Ledger) markArchived(ctx context.Context, ids []interface{}, s3Key string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE usage_entries SET is_archived = TRUE, archive_s3_key = $1 WHERE id = ANY($2)`,
		s3Key, pq.Array(toUUIDStrings(ids)))
	if err != nil {
		return fmt.Errorf("marking entries archived: %w", err)
	}
	return nil
}

func (l *Ledger) deleteArchived(ctx context.Context, ids []interface{}) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM usage_entries WHERE id = ANY($1) AND is_archived = TRUE`,
		pq.Array(toUUIDStrings(ids)))
	if err != nil {
		return fmt.Errorf("deleting archived entries: %w", err)
	}
	return nil
}

// toUUIDStrings renders a Go slice of uuid.UUID as strings lib/pq's driver
// can bind via pq.Array for an ANY($n) clause.
func toUUIDStrings(ids []interface{}) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if id, ok := v.(uuid.UUID); ok {
			out = append(out, id.String())
		}
	}
	return out
}
