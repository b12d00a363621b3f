package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stayhaven/booking-engine/internal/model"
)

// Mutate runs fn against the booking identified by id while holding an
// exclusive row lock, then persists the mutated aggregate. All concurrent
// writers for the same booking (reconciliation, cancellation, sweep expiry,
// approve/reject) serialize on this lock; different bookings never block
// each other.
//
// The lock is the same pessimistic SELECT ... FOR UPDATE that prevents a
// lost update between a webhook and a poll racing to read-then-write the
// same row.
func (r *BookingRepository) Mutate(ctx context.Context, id string, fn func(b *model.Booking) error) (*model.Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := r.lockBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(b); err != nil {
		return nil, err
	}
	if err := update(ctx, tx, b); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return b, nil
}

// ReconcileEvent applies one settlement observation atomically with the
// idempotency ledger check. Inside a single transaction it:
//
//  1. locks the booking row,
//  2. returns the cached outcome if this source event was already processed,
//  3. returns the cached outcome if this transaction was already applied
//     (two COMPLETED deliveries for one transaction apply money once),
//  4. otherwise runs fn, persists the booking, and appends the ledger row.
//
// The ledger row commits with the booking update or not at all, so a replay
// after a crash re-runs cleanly.
func (r *BookingRepository) ReconcileEvent(ctx context.Context, bookingID string, ev model.ReconciliationEvent, fn func(b *model.Booking) (model.ReconcileOutcome, error)) (model.ReconcileResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.ReconcileResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := r.lockBooking(ctx, tx, bookingID)
	if err != nil {
		return model.ReconcileResult{}, err
	}

	// Dedup by source event ID (webhook delivery ID / poll fingerprint).
	cached, found, err := r.ledgerOutcome(ctx, tx,
		`SELECT outcome FROM reconciliation_events WHERE booking_id = $1 AND source_event_id = $2`,
		bookingID, ev.SourceEventID)
	if err != nil {
		return model.ReconcileResult{}, err
	}
	if found {
		return model.ReconcileResult{Outcome: cached, Replayed: true, Booking: b}, nil
	}

	// Dedup by (booking, transaction) for settled money: a poll and a webhook
	// carrying the same transaction must apply the amount at most once.
	if ev.Status == model.SettlementCompleted && ev.TransactionID != "" {
		cached, found, err = r.ledgerOutcome(ctx, tx,
			`SELECT outcome FROM reconciliation_events
			 WHERE booking_id = $1 AND transaction_id = $2 AND gateway_status = $3`,
			bookingID, ev.TransactionID, string(model.SettlementCompleted))
		if err != nil {
			return model.ReconcileResult{}, err
		}
		if found {
			// Record this event id too so future replays hit the fast path.
			if err := r.appendLedger(ctx, tx, ev, cached); err != nil {
				return model.ReconcileResult{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return model.ReconcileResult{}, fmt.Errorf("commit transaction: %w", err)
			}
			return model.ReconcileResult{Outcome: cached, Replayed: true, Booking: b}, nil
		}
	}

	outcome, err := fn(b)
	if err != nil {
		return model.ReconcileResult{}, err
	}
	if err := update(ctx, tx, b); err != nil {
		return model.ReconcileResult{}, err
	}
	if err := r.appendLedger(ctx, tx, ev, outcome); err != nil {
		return model.ReconcileResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.ReconcileResult{}, fmt.Errorf("commit transaction: %w", err)
	}
	return model.ReconcileResult{Outcome: outcome, Replayed: false, Booking: b}, nil
}

// ListExpiredHolds returns bookings whose payment hold has lapsed. The
// sweeper expires each one individually under the row lock, so this read
// needs no locking of its own.
func (r *BookingRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM bookings
		 WHERE status = $1 AND hold_expires_at IS NOT NULL AND hold_expires_at <= $2
		 ORDER BY hold_expires_at ASC
		 LIMIT $3`,
		string(model.StatusAwaitingPayment), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired hold: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *BookingRepository) lockBooking(ctx context.Context, tx pgx.Tx, id string) (*model.Booking, error) {
	b, err := scanBooking(tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock booking row: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) ledgerOutcome(ctx context.Context, tx pgx.Tx, sql string, args ...any) (model.ReconcileOutcome, bool, error) {
	var raw string
	err := tx.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger lookup: %w", err)
	}
	outcome, err := model.ParseReconcileOutcome(raw)
	if err != nil {
		return "", false, err
	}
	return outcome, true, nil
}

func (r *BookingRepository) appendLedger(ctx context.Context, tx pgx.Tx, ev model.ReconciliationEvent, outcome model.ReconcileOutcome) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO reconciliation_events
			(booking_id, source_event_id, transaction_id, gateway_status,
			 amount, currency, trigger_source, outcome, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.BookingID, ev.SourceEventID, ev.TransactionID, string(ev.Status),
		ev.Amount.AmountMinor, ev.Amount.Currency, ev.Trigger, string(outcome),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}
