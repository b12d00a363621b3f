package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the booking record, the append-only idempotency ledger for
// processed reconciliation events, and the audit log. The ledger carries the
// same consistency as the booking row: both are written in one transaction.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id                   TEXT PRIMARY KEY,
		property_id          TEXT NOT NULL,
		guest_id             TEXT NOT NULL,
		host_id              TEXT NOT NULL,
		check_in             TIMESTAMPTZ NOT NULL,
		check_out            TIMESTAMPTZ NOT NULL,
		guest_count          INT NOT NULL,
		currency             TEXT NOT NULL,
		price_per_night      BIGINT NOT NULL,
		total_price          BIGINT NOT NULL,
		amount_paid          BIGINT NOT NULL DEFAULT 0,
		policy_tier          TEXT NOT NULL,
		policy_window_secs   BIGINT NOT NULL,
		policy_floor_pct     INT NOT NULL,
		status               TEXT NOT NULL,
		payment_status       TEXT NOT NULL,
		payment_order_id     TEXT NOT NULL DEFAULT '',
		checkout_url         TEXT NOT NULL DEFAULT '',
		last_transaction_id  TEXT NOT NULL DEFAULT '',
		refund_amount        BIGINT NOT NULL DEFAULT 0,
		refund_pct           INT NOT NULL DEFAULT 0,
		late_settlement      BOOLEAN NOT NULL DEFAULT FALSE,
		late_txn_id          TEXT NOT NULL DEFAULT '',
		late_amount          BIGINT NOT NULL DEFAULT 0,
		reject_reason        TEXT NOT NULL DEFAULT '',
		cancel_reason        TEXT NOT NULL DEFAULT '',
		cancelled_by         TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL,
		confirmed_at         TIMESTAMPTZ,
		hold_expires_at      TIMESTAMPTZ,
		cancelled_at         TIMESTAMPTZ,
		refunded_at          TIMESTAMPTZ,
		completed_at         TIMESTAMPTZ,
		version              BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_guest ON bookings (guest_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_host ON bookings (host_id, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_order ON bookings (payment_order_id) WHERE payment_order_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_hold ON bookings (hold_expires_at) WHERE status = 'AWAITING_PAYMENT'`,
	`CREATE TABLE IF NOT EXISTS reconciliation_events (
		booking_id       TEXT NOT NULL REFERENCES bookings (id) ON DELETE CASCADE,
		source_event_id  TEXT NOT NULL,
		transaction_id   TEXT NOT NULL DEFAULT '',
		gateway_status   TEXT NOT NULL,
		amount           BIGINT NOT NULL DEFAULT 0,
		currency         TEXT NOT NULL DEFAULT '',
		trigger_source   TEXT NOT NULL DEFAULT '',
		outcome          TEXT NOT NULL,
		processed_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (booking_id, source_event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recon_txn ON reconciliation_events (booking_id, transaction_id)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id          TEXT PRIMARY KEY,
		booking_id  TEXT NOT NULL,
		actor       TEXT NOT NULL DEFAULT '',
		action      TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_booking ON audit_log (booking_id, created_at)`,
}

// EnsureSchema creates the tables the engine needs if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
