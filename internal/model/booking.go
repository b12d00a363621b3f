package model

import (
	"fmt"
	"time"
)

// BookingStatus is the booking-workflow axis of the state machine.
type BookingStatus string

const (
	StatusRequested       BookingStatus = "REQUESTED"
	StatusApproved        BookingStatus = "APPROVED"
	StatusAwaitingPayment BookingStatus = "AWAITING_PAYMENT"
	StatusConfirmed       BookingStatus = "CONFIRMED"
	StatusRejected        BookingStatus = "REJECTED"
	StatusCancelled       BookingStatus = "CANCELLED"
	StatusExpired         BookingStatus = "EXPIRED"
	StatusCompleted       BookingStatus = "COMPLETED"
)

// ParseBookingStatus validates a persisted status string.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case StatusRequested, StatusApproved, StatusAwaitingPayment, StatusConfirmed,
		StatusRejected, StatusCancelled, StatusExpired, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown booking status %q", ErrDataCorruption, s)
}

// Terminal reports whether the status permits no further workflow transitions.
func (s BookingStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// PaymentStatus is the settlement-workflow axis, orthogonal to BookingStatus.
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "UNPAID"
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPartiallyPaid     PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
)

// ParsePaymentStatus validates a persisted payment status string.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case PaymentUnpaid, PaymentPending, PaymentPartiallyPaid, PaymentPaid,
		PaymentFailed, PaymentPartiallyRefunded, PaymentRefunded:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrDataCorruption, s)
}

// Actor identifies who triggered a booking command.
type Actor string

const (
	ActorGuest Actor = "guest"
	ActorHost  Actor = "host"
)

// Booking is the central aggregate: one reservation of a property by a guest,
// tracked across the booking workflow and the settlement workflow. It is
// mutated only through the transition methods below, which never read the
// wall clock themselves; callers supply `now`.
type Booking struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	GuestID    string `json:"guest_id"`
	HostID     string `json:"host_id"`

	DateRange  DateRange `json:"date_range"`
	GuestCount int       `json:"guest_count"`

	PricePerNight Money              `json:"price_per_night"`
	TotalPrice    Money              `json:"total_price"`
	AmountPaid    Money              `json:"amount_paid"`
	Policy        CancellationPolicy `json:"cancellation_policy"`

	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	// PaymentOrderID correlates the booking with the gateway order. Set once.
	PaymentOrderID string `json:"payment_order_id,omitempty"`
	// CheckoutURL is where the guest completes payment, returned by the gateway.
	CheckoutURL string `json:"checkout_url,omitempty"`
	// LastTransactionID is overwritten on each successful settlement event.
	LastTransactionID string `json:"last_transaction_id,omitempty"`

	RefundAmount  Money `json:"refund_amount"`
	RefundPercent int   `json:"refund_percent"`

	// LateSettlement flags a COMPLETED settlement that arrived after the hold
	// expired. Operators resolve these with a forced refund; the engine never
	// silently re-confirms a lapsed hold.
	LateSettlement       bool   `json:"late_settlement"`
	LateSettlementTxnID  string `json:"late_settlement_txn_id,omitempty"`
	LateSettlementAmount Money  `json:"late_settlement_amount"`

	RejectReason string `json:"reject_reason,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
	CancelledBy  Actor  `json:"cancelled_by,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	// Version counts persisted mutations. Serialization is provided by the
	// per-booking row lock; the version exists for observability and audits.
	Version int64 `json:"version"`
}

// NewBooking creates a REQUESTED booking. TotalPrice is derived once, here.
func NewBooking(id, propertyID, guestID, hostID string, stay DateRange, guestCount int, pricePerNight Money, policy CancellationPolicy, now time.Time) (*Booking, error) {
	if id == "" || propertyID == "" || guestID == "" || hostID == "" {
		return nil, fmt.Errorf("booking ids must not be empty")
	}
	if guestCount < 1 {
		return nil, ErrInvalidGuestCount
	}
	return &Booking{
		ID:                   id,
		PropertyID:           propertyID,
		GuestID:              guestID,
		HostID:               hostID,
		DateRange:            stay,
		GuestCount:           guestCount,
		PricePerNight:        pricePerNight,
		TotalPrice:           pricePerNight.MulNights(stay.Nights()),
		AmountPaid:           pricePerNight.Zero(),
		Policy:               policy,
		Status:               StatusRequested,
		PaymentStatus:        PaymentUnpaid,
		RefundAmount:         pricePerNight.Zero(),
		LateSettlementAmount: pricePerNight.Zero(),
		CreatedAt:            now.UTC(),
	}, nil
}

// Approve moves REQUESTED -> APPROVED.
func (b *Booking) Approve() error {
	if b.Status != StatusRequested {
		return fmt.Errorf("%w: approve from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = StatusApproved
	return nil
}

// Reject moves REQUESTED/APPROVED -> REJECTED with a mandatory reason.
func (b *Booking) Reject(reason string) error {
	if reason == "" {
		return ErrEmptyReason
	}
	if b.Status != StatusRequested && b.Status != StatusApproved {
		return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = StatusRejected
	b.RejectReason = reason
	return nil
}

// StartPaymentHold moves the booking into AWAITING_PAYMENT and starts the
// hold timer. Calling it again while already awaiting payment is a no-op so
// a failed gateway order creation can be retried without a state reset.
func (b *Booking) StartPaymentHold(now time.Time, ttl time.Duration) error {
	if b.Status == StatusAwaitingPayment {
		return nil
	}
	// REQUESTED is permitted for instant-book properties.
	if b.Status != StatusApproved && b.Status != StatusRequested {
		return fmt.Errorf("%w: start payment hold from %s", ErrInvalidTransition, b.Status)
	}
	expires := now.UTC().Add(ttl)
	b.Status = StatusAwaitingPayment
	b.PaymentStatus = PaymentPending
	b.HoldExpiresAt = &expires
	return nil
}

// AttachPaymentOrder records the gateway order correlation. The order ID is
// immutable after first assignment; re-attaching the same ID is a no-op.
func (b *Booking) AttachPaymentOrder(orderID, checkoutURL string) error {
	if orderID == "" {
		return fmt.Errorf("order id must not be empty")
	}
	if b.PaymentOrderID != "" {
		if b.PaymentOrderID == orderID {
			return nil
		}
		return fmt.Errorf("%w: payment order already attached", ErrInvalidTransition)
	}
	b.PaymentOrderID = orderID
	b.CheckoutURL = checkoutURL
	return nil
}

// HoldLapsed reports whether the payment hold has passed at the given instant.
func (b *Booking) HoldLapsed(now time.Time) bool {
	return b.HoldExpiresAt != nil && !now.Before(*b.HoldExpiresAt)
}

// Expire moves AWAITING_PAYMENT -> EXPIRED once the hold lapses.
func (b *Booking) Expire() error {
	if b.Status != StatusAwaitingPayment {
		return fmt.Errorf("%w: expire from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = StatusExpired
	return nil
}

// ApplyPayment records a settled amount against the booking. The running
// total may never exceed TotalPrice; a call that would exceed it fails with
// ErrOverpaymentRejected and leaves the booking untouched.
func (b *Booking) ApplyPayment(amount Money, transactionID string) error {
	next, err := b.AmountPaid.Add(amount)
	if err != nil {
		return err
	}
	if b.TotalPrice.LessThan(next) {
		return fmt.Errorf("%w: paid %s + %s against total %s",
			ErrOverpaymentRejected, b.AmountPaid, amount, b.TotalPrice)
	}
	b.AmountPaid = next
	b.LastTransactionID = transactionID
	if b.AmountPaid.Equal(b.TotalPrice) {
		b.PaymentStatus = PaymentPaid
	} else {
		b.PaymentStatus = PaymentPartiallyPaid
	}
	return nil
}

// Confirm moves the booking to CONFIRMED. Idempotent: confirming an
// already-confirmed booking succeeds without change, which makes duplicate
// reconciliation triggers harmless. Requires a settled payment status.
func (b *Booking) Confirm(now time.Time) error {
	if b.Status == StatusConfirmed {
		return nil
	}
	switch b.Status {
	case StatusAwaitingPayment, StatusRequested, StatusApproved:
	default:
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, b.Status)
	}
	if b.PaymentStatus != PaymentPaid && b.PaymentStatus != PaymentPartiallyPaid {
		return fmt.Errorf("%w: confirm with payment status %s", ErrInvalidTransition, b.PaymentStatus)
	}
	ts := now.UTC()
	b.Status = StatusConfirmed
	b.ConfirmedAt = &ts
	return nil
}

// MarkPaymentFailed records a failed settlement attempt. A confirmed or
// fully settled booking cannot regress to FAILED.
func (b *Booking) MarkPaymentFailed() error {
	if b.Status == StatusConfirmed || b.PaymentStatus == PaymentPaid {
		return fmt.Errorf("%w: mark failed from %s/%s", ErrInvalidTransition, b.Status, b.PaymentStatus)
	}
	b.PaymentStatus = PaymentFailed
	return nil
}

// Cancel moves any non-terminal booking to CANCELLED and records the refund
// owed per the cancellation policy. Executing the refund against the gateway
// is the caller's responsibility; the aggregate only computes and records it.
func (b *Booking) Cancel(now time.Time, by Actor, reason string) error {
	if reason == "" {
		return ErrEmptyReason
	}
	if by != ActorGuest && by != ActorHost {
		return fmt.Errorf("cancel: unknown actor %q", by)
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, b.Status)
	}
	refund, pct := b.Policy.RefundFor(now, b.DateRange.Start, b.TotalPrice)
	// The refund can never exceed what was actually paid.
	if b.AmountPaid.LessThan(refund) {
		refund = b.AmountPaid
	}
	ts := now.UTC()
	b.Status = StatusCancelled
	b.CancelledBy = by
	b.CancelReason = reason
	b.CancelledAt = &ts
	b.RefundAmount = refund
	b.RefundPercent = pct
	if !refund.IsZero() {
		if refund.Equal(b.AmountPaid) {
			b.PaymentStatus = PaymentRefunded
		} else {
			b.PaymentStatus = PaymentPartiallyRefunded
		}
		b.RefundedAt = &ts
	}
	return nil
}

// Complete moves CONFIRMED -> COMPLETED. The check-out-date precondition is
// checked by the command service so the aggregate stays clock-free.
func (b *Booking) Complete(now time.Time) error {
	if b.Status != StatusConfirmed {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, b.Status)
	}
	ts := now.UTC()
	b.Status = StatusCompleted
	b.CompletedAt = &ts
	return nil
}

// FlagLateSettlement records a COMPLETED settlement that arrived after the
// hold expired. The booking stays EXPIRED; operators action a forced refund.
func (b *Booking) FlagLateSettlement(transactionID string, amount Money) {
	b.LateSettlement = true
	b.LateSettlementTxnID = transactionID
	b.LateSettlementAmount = amount
}

// Deletable reports whether the data-retention guard permits physical
// deletion: only CANCELLED and REJECTED bookings may be removed.
func (b *Booking) Deletable() bool {
	return b.Status == StatusCancelled || b.Status == StatusRejected
}
