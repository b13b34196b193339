// internal/infra/database/notification_ledger.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"renewal_notifier/internal/domain/notification"
)

// Dialect selects placeholder syntax for the shared ledger statements.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

const schema = `
CREATE TABLE IF NOT EXISTS renewal_notifications (
	subscription_id TEXT NOT NULL,
	renewal_at BIGINT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('reserved', 'sending', 'sent', 'failed')),
	attempts INTEGER NOT NULL DEFAULT 0,
	reserved_at BIGINT,
	sent_at BIGINT,
	last_error TEXT,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (subscription_id, renewal_at)
);
CREATE INDEX IF NOT EXISTS idx_renewal_notifications_status ON renewal_notifications (status);
`

// A conflicting row is only taken over when it failed or its reservation is older than
// the lease cutoff (last placeholder). Otherwise no row is returned.
const reserveQuery = `
INSERT INTO renewal_notifications
	(subscription_id, renewal_at, status, attempts, reserved_at, created_at, updated_at)
VALUES (?, ?, 'reserved', 1, ?, ?, ?)
ON CONFLICT (subscription_id, renewal_at) DO UPDATE
SET status = 'reserved',
	attempts = renewal_notifications.attempts + 1,
	reserved_at = excluded.reserved_at,
	last_error = NULL,
	updated_at = excluded.updated_at
WHERE renewal_notifications.status = 'failed'
	OR (renewal_notifications.status = 'reserved' AND renewal_notifications.reserved_at < ?)
RETURNING status, attempts, reserved_at, sent_at, last_error, created_at, updated_at`

const recordQuery = `
INSERT INTO renewal_notifications
	(subscription_id, renewal_at, status, attempts, sent_at, last_error, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?, ?, ?)
ON CONFLICT (subscription_id, renewal_at) DO UPDATE
SET status = excluded.status,
	sent_at = excluded.sent_at,
	last_error = excluded.last_error,
	updated_at = excluded.updated_at
WHERE renewal_notifications.status <> 'sent'`

const statusQuery = `SELECT status FROM renewal_notifications WHERE subscription_id = ? AND renewal_at = ?`

const historyQuery = `
SELECT subscription_id, renewal_at, status, attempts, reserved_at, sent_at, last_error, created_at, updated_at
FROM renewal_notifications
WHERE subscription_id = ?
ORDER BY renewal_at`

var _ notification.Ledger = (*NotificationLedger)(nil)

// NotificationLedger stores renewal cycles in a SQL table. The primary key on
// (subscription_id, renewal_at) plus a conditional upsert gives atomic reservation.
type NotificationLedger struct {
	db      *sql.DB
	dialect Dialect
	lease   time.Duration
}

func NewPostgresLedger(db *sql.DB, lease time.Duration) *NotificationLedger {
	return newLedger(db, DialectPostgres, lease)
}

func NewSQLiteLedger(db *sql.DB, lease time.Duration) *NotificationLedger {
	return newLedger(db, DialectSQLite, lease)
}

func newLedger(db *sql.DB, dialect Dialect, lease time.Duration) *NotificationLedger {
	if lease <= 0 {
		lease = notification.DefaultLease
	}
	return &NotificationLedger{db: db, dialect: dialect, lease: lease}
}

// EnsureSchema creates the ledger table if it does not exist.
func (r *NotificationLedger) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error creating renewal_notifications schema: %w", err)
	}
	return nil
}

func (r *NotificationLedger) HasNotified(ctx context.Context, key notification.CycleKey) (bool, error) {
	var status notification.DeliveryStatus
	err := r.db.QueryRowContext(ctx, r.bind(statusQuery), key.SubscriptionID, key.RenewalTimestamp).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error checking renewal cycle %s: %w", key, err)
	}
	return status == notification.StatusSent, nil
}

func (r *NotificationLedger) Reserve(ctx context.Context, key notification.CycleKey, now time.Time) (*notification.Record, error) {
	at := now.Unix()
	cutoff := now.Add(-r.lease).Unix()

	rec := notification.Record{Key: key}
	var reservedAt, sentAt sql.NullInt64
	var lastError sql.NullString
	var createdAt, updatedAt int64
	err := r.db.QueryRowContext(ctx, r.bind(reserveQuery),
		key.SubscriptionID, key.RenewalTimestamp, at, at, at, cutoff,
	).Scan(&rec.Status, &rec.Attempts, &reservedAt, &sentAt, &lastError, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.reserveConflict(ctx, key)
		}
		return nil, fmt.Errorf("error reserving renewal cycle %s: %w", key, err)
	}
	fillRecord(&rec, reservedAt, sentAt, lastError, createdAt, updatedAt)
	return &rec, nil
}

// reserveConflict tells an in-doubt cycle apart from a sent or held one.
func (r *NotificationLedger) reserveConflict(ctx context.Context, key notification.CycleKey) error {
	var status notification.DeliveryStatus
	err := r.db.QueryRowContext(ctx, r.bind(statusQuery), key.SubscriptionID, key.RenewalTimestamp).Scan(&status)
	if err != nil {
		return fmt.Errorf("error reading conflicting renewal cycle %s: %w", key, err)
	}
	if status == notification.StatusSending {
		return notification.ErrDeliveryInDoubt
	}
	return notification.ErrAlreadyReserved
}

func (r *NotificationLedger) Record(ctx context.Context, key notification.CycleKey, outcome notification.Outcome, at time.Time) error {
	ts := at.Unix()
	var sentAt sql.NullInt64
	var lastError sql.NullString
	if outcome.Status == notification.StatusSent {
		sentAt = sql.NullInt64{Int64: ts, Valid: true}
	} else if outcome.Error != "" {
		lastError = sql.NullString{String: outcome.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.bind(recordQuery),
		key.SubscriptionID, key.RenewalTimestamp, outcome.Status, sentAt, lastError, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("error recording outcome %s for renewal cycle %s: %w", outcome.Status, key, err)
	}
	return nil
}

func (r *NotificationLedger) History(ctx context.Context, subscriptionID string) ([]notification.Record, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(historyQuery), subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("error querying renewal history: %w", err)
	}
	defer rows.Close()

	history := make([]notification.Record, 0)
	for rows.Next() {
		var rec notification.Record
		var reservedAt, sentAt sql.NullInt64
		var lastError sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&rec.Key.SubscriptionID, &rec.Key.RenewalTimestamp, &rec.Status, &rec.Attempts,
			&reservedAt, &sentAt, &lastError, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning renewal history row: %w", err)
		}
		fillRecord(&rec, reservedAt, sentAt, lastError, createdAt, updatedAt)
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating renewal history rows: %w", err)
	}
	return history, nil
}

func fillRecord(rec *notification.Record, reservedAt, sentAt sql.NullInt64, lastError sql.NullString, createdAt, updatedAt int64) {
	if reservedAt.Valid {
		rec.ReservedAt = time.Unix(reservedAt.Int64, 0).UTC()
	}
	if sentAt.Valid {
		rec.SentAt = time.Unix(sentAt.Int64, 0).UTC()
	}
	rec.LastError = lastError.String
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
}

func (r *NotificationLedger) bind(query string) string {
	if r.dialect == DialectPostgres {
		return rebindDollar(query)
	}
	return query
}

// rebindDollar rewrites '?' placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
