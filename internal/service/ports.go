// Package service implements the booking engine's business logic: the
// reconciliation engine that turns gateway signals into exactly-once booking
// transitions, the hold-expiry sweeper, and the command service that
// orchestrates the booking aggregate for the HTTP layer.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/stayhaven/booking-engine/internal/gateway"
	"github.com/stayhaven/booking-engine/internal/model"
)

// Service-boundary errors.
var (
	// ErrUnauthorized is returned when the acting user neither owns the
	// booking nor hosts the property.
	ErrUnauthorized = errors.New("actor is not permitted to act on this booking")

	// ErrPaymentNotInitiated is returned when payment status is polled
	// before a gateway order exists.
	ErrPaymentNotInitiated = errors.New("payment has not been initiated for this booking")

	// ErrStayInProgress is returned when completion is attempted before the
	// check-out date has passed.
	ErrStayInProgress = errors.New("stay has not ended yet")

	// ErrValidation wraps synchronous input validation failures rejected at
	// the command boundary.
	ErrValidation = errors.New("invalid request")
)

// Store is the persistence port. The pgx repository implements it with
// row-level locks; tests implement it in memory with per-booking mutexes.
// Mutate and ReconcileEvent must serialize all writers of one booking while
// leaving other bookings unblocked, and ReconcileEvent must update booking
// and ledger atomically.
type Store interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error)
	ListByGuest(ctx context.Context, guestID string) ([]model.Booking, error)
	ListByHost(ctx context.Context, hostID string) ([]model.Booking, error)
	Mutate(ctx context.Context, id string, fn func(b *model.Booking) error) (*model.Booking, error)
	ReconcileEvent(ctx context.Context, bookingID string, ev model.ReconciliationEvent, fn func(b *model.Booking) (model.ReconcileOutcome, error)) (model.ReconcileResult, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error)
	Delete(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, bookingID, actor, action, detail string) error
}

// Publisher dispatches side-effect events (notifications) to the task
// queue. Failures are logged, never propagated: a missed notification must
// not roll back a booking transition.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// Property is the listing snapshot the engine needs from the external
// listing service.
type Property struct {
	ID          string
	HostID      string
	NightlyRate model.Money
	MaxGuests   int
	Policy      model.CancellationPolicy
	InstantBook bool
}

// PropertyDirectory is the read-only port to the listing service.
type PropertyDirectory interface {
	Lookup(ctx context.Context, propertyID string) (Property, error)
}

// IdentityDirectory resolves a user ID to the payer identity forwarded to
// the payment gateway. Authentication itself happens upstream.
type IdentityDirectory interface {
	Lookup(ctx context.Context, userID string) (gateway.Customer, error)
}
