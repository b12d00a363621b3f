// Package repository implements all database queries for the booking engine.
// It uses pgx directly (no ORM) for transparency and performance. Status
// strings are validated on every scan: a row carrying an unknown enum value
// is surfaced as data corruption, never passed through.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/stayhaven/booking-engine/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// BookingRepository handles persistence for bookings, the reconciliation
// ledger, and the audit log.
type BookingRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewBookingRepository constructs a BookingRepository.
func NewBookingRepository(db *pgxpool.Pool, log *logrus.Logger) *BookingRepository {
	return &BookingRepository{db: db, log: log}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const bookingColumns = `id, property_id, guest_id, host_id, check_in, check_out,
	guest_count, currency, price_per_night, total_price, amount_paid,
	policy_tier, policy_window_secs, policy_floor_pct, status, payment_status,
	payment_order_id, checkout_url, last_transaction_id, refund_amount,
	refund_pct, late_settlement, late_txn_id, late_amount, reject_reason,
	cancel_reason, cancelled_by, created_at, confirmed_at, hold_expires_at,
	cancelled_at, refunded_at, completed_at, version`

// Create inserts a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
		         $18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34)`,
		bookingArgs(b)...,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetByID returns a single booking or ErrNotFound.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	return r.get(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByOrderID resolves a booking by its gateway order correlation.
func (r *BookingRepository) GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error) {
	return r.get(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE payment_order_id = $1`, orderID)
}

func (r *BookingRepository) get(ctx context.Context, q querier, sql, arg string) (*model.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// ListByGuest returns a guest's bookings, newest first.
func (r *BookingRepository) ListByGuest(ctx context.Context, guestID string) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE guest_id = $1 ORDER BY created_at DESC`, guestID)
}

// ListByHost returns a host's bookings, newest first.
func (r *BookingRepository) ListByHost(ctx context.Context, hostID string) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE host_id = $1 ORDER BY created_at DESC`, hostID)
}

func (r *BookingRepository) list(ctx context.Context, sql, arg string) ([]model.Booking, error) {
	rows, err := r.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Delete removes a booking and, via cascade, its ledger rows. The terminal
// state guard lives in the command service.
func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAudit appends one audit entry. Best effort by design: callers log
// failures and move on, an audit miss must not roll back a transition.
func (r *BookingRepository) AppendAudit(ctx context.Context, bookingID, actor, action, detail string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (id, booking_id, actor, action, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), bookingID, actor, action, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func bookingArgs(b *model.Booking) []any {
	return []any{
		b.ID, b.PropertyID, b.GuestID, b.HostID, b.DateRange.Start, b.DateRange.End,
		b.GuestCount, b.TotalPrice.Currency, b.PricePerNight.AmountMinor,
		b.TotalPrice.AmountMinor, b.AmountPaid.AmountMinor,
		string(b.Policy.Tier), int64(b.Policy.FreeCancelWindow / time.Second), b.Policy.FloorPercent,
		string(b.Status), string(b.PaymentStatus),
		b.PaymentOrderID, b.CheckoutURL, b.LastTransactionID, b.RefundAmount.AmountMinor,
		b.RefundPercent, b.LateSettlement, b.LateSettlementTxnID, b.LateSettlementAmount.AmountMinor,
		b.RejectReason, b.CancelReason, string(b.CancelledBy),
		b.CreatedAt, b.ConfirmedAt, b.HoldExpiresAt, b.CancelledAt, b.RefundedAt, b.CompletedAt,
		b.Version,
	}
}

// update persists every mutable field of the booking inside the caller's
// transaction, bumping the version counter.
func update(ctx context.Context, q querier, b *model.Booking) error {
	b.Version++
	_, err := q.Exec(ctx,
		`UPDATE bookings SET
			amount_paid = $2, status = $3, payment_status = $4,
			payment_order_id = $5, checkout_url = $6, last_transaction_id = $7,
			refund_amount = $8, refund_pct = $9,
			late_settlement = $10, late_txn_id = $11, late_amount = $12,
			reject_reason = $13, cancel_reason = $14, cancelled_by = $15,
			confirmed_at = $16, hold_expires_at = $17, cancelled_at = $18,
			refunded_at = $19, completed_at = $20, version = $21
		 WHERE id = $1`,
		b.ID, b.AmountPaid.AmountMinor, string(b.Status), string(b.PaymentStatus),
		b.PaymentOrderID, b.CheckoutURL, b.LastTransactionID,
		b.RefundAmount.AmountMinor, b.RefundPercent,
		b.LateSettlement, b.LateSettlementTxnID, b.LateSettlementAmount.AmountMinor,
		b.RejectReason, b.CancelReason, string(b.CancelledBy),
		b.ConfirmedAt, b.HoldExpiresAt, b.CancelledAt, b.RefundedAt, b.CompletedAt,
		b.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

// scanBooking maps one row onto the aggregate, validating both status axes
// at the persistence boundary.
func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b                                            model.Booking
		currency, tier, status, payStatus, cancelled string
		windowSecs                                   int64
		floorPct                                     int
		perNight, total, paid, refund, lateAmount    int64
	)
	err := row.Scan(
		&b.ID, &b.PropertyID, &b.GuestID, &b.HostID, &b.DateRange.Start, &b.DateRange.End,
		&b.GuestCount, &currency, &perNight, &total, &paid,
		&tier, &windowSecs, &floorPct, &status, &payStatus,
		&b.PaymentOrderID, &b.CheckoutURL, &b.LastTransactionID, &refund,
		&b.RefundPercent, &b.LateSettlement, &b.LateSettlementTxnID, &lateAmount,
		&b.RejectReason, &b.CancelReason, &cancelled,
		&b.CreatedAt, &b.ConfirmedAt, &b.HoldExpiresAt,
		&b.CancelledAt, &b.RefundedAt, &b.CompletedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	if b.Status, err = model.ParseBookingStatus(status); err != nil {
		return nil, err
	}
	if b.PaymentStatus, err = model.ParsePaymentStatus(payStatus); err != nil {
		return nil, err
	}
	policyTier, err := model.ParsePolicyTier(tier)
	if err != nil {
		return nil, err
	}
	b.Policy = model.CancellationPolicy{
		Tier:             policyTier,
		FreeCancelWindow: time.Duration(windowSecs) * time.Second,
		FloorPercent:     floorPct,
	}
	b.PricePerNight = model.Money{AmountMinor: perNight, Currency: currency}
	b.TotalPrice = model.Money{AmountMinor: total, Currency: currency}
	b.AmountPaid = model.Money{AmountMinor: paid, Currency: currency}
	b.RefundAmount = model.Money{AmountMinor: refund, Currency: currency}
	b.LateSettlementAmount = model.Money{AmountMinor: lateAmount, Currency: currency}
	b.CancelledBy = model.Actor(cancelled)
	return &b, nil
}
