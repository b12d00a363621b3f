package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stayhaven/booking-engine/internal/model"
)

// BookingConfig tunes the command service.
type BookingConfig struct {
	// HostTakeRate is the fraction of the booking total the host earns.
	// A pricing-policy input, never hard-coded at use sites.
	HostTakeRate float64
}

// BookingService is the thin orchestration layer over the booking aggregate,
// the reconciliation engine, and the external collaborators. Every command
// validates its input and the acting user before touching the aggregate.
type BookingService struct {
	store  Store
	props  PropertyDirectory
	ids    IdentityDirectory
	engine *ReconciliationEngine
	pub    Publisher
	log    *logrus.Logger
	cfg    BookingConfig
	now    func() time.Time
}

// NewBookingService constructs a BookingService with its dependencies.
func NewBookingService(store Store, props PropertyDirectory, ids IdentityDirectory, engine *ReconciliationEngine, pub Publisher, log *logrus.Logger, cfg BookingConfig) *BookingService {
	if cfg.HostTakeRate <= 0 || cfg.HostTakeRate > 1 {
		cfg.HostTakeRate = 0.85
	}
	return &BookingService{
		store: store, props: props, ids: ids, engine: engine,
		pub: pub, log: log, cfg: cfg, now: time.Now,
	}
}

// CreateBooking validates the reservation request and creates a REQUESTED
// booking priced from the property's nightly rate.
func (s *BookingService) CreateBooking(ctx context.Context, req model.CreateBookingRequest) (*model.Booking, error) {
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.GuestID = strings.TrimSpace(req.GuestID)
	if req.PropertyID == "" {
		return nil, fmt.Errorf("%w: property_id is required", ErrValidation)
	}
	if req.GuestID == "" {
		return nil, fmt.Errorf("%w: guest_id is required", ErrValidation)
	}
	if req.GuestCount < 1 {
		return nil, fmt.Errorf("%w: guest_count must be at least 1", ErrValidation)
	}

	stay, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}
	if !stay.Start.After(s.now().UTC()) {
		return nil, fmt.Errorf("%w: check-in must be in the future", ErrValidation)
	}

	prop, err := s.props.Lookup(ctx, req.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("lookup property: %w", err)
	}
	if prop.MaxGuests > 0 && req.GuestCount > prop.MaxGuests {
		return nil, fmt.Errorf("%w: property sleeps at most %d guests", ErrValidation, prop.MaxGuests)
	}
	if prop.HostID == req.GuestID {
		return nil, fmt.Errorf("%w: hosts cannot book their own property", ErrValidation)
	}

	b, err := model.NewBooking(uuid.New().String(), prop.ID, req.GuestID, prop.HostID,
		stay, req.GuestCount, prop.NightlyRate, prop.Policy, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	s.audit(ctx, b.ID, req.GuestID, "requested", "")
	return b, nil
}

// ApproveBooking lets the property's host approve a reservation request.
func (s *BookingService) ApproveBooking(ctx context.Context, bookingID, hostID string) (*model.Booking, error) {
	b, err := s.store.Mutate(ctx, bookingID, func(b *model.Booking) error {
		if b.HostID != hostID {
			return ErrUnauthorized
		}
		return b.Approve()
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, bookingID, hostID, "approved", "")
	return b, nil
}

// RejectBooking lets the host reject a pending request with a reason.
func (s *BookingService) RejectBooking(ctx context.Context, bookingID, hostID, reason string) (*model.Booking, error) {
	b, err := s.store.Mutate(ctx, bookingID, func(b *model.Booking) error {
		if b.HostID != hostID {
			return ErrUnauthorized
		}
		return b.Reject(strings.TrimSpace(reason))
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, bookingID, hostID, "rejected", reason)
	return b, nil
}

// InitiatePayment starts the payment hold and creates the gateway order.
// Instant-book properties may pay straight from REQUESTED; otherwise the
// host must have approved first (the aggregate enforces it).
func (s *BookingService) InitiatePayment(ctx context.Context, bookingID, guestID string) (*model.Booking, error) {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.GuestID != guestID {
		return nil, ErrUnauthorized
	}
	if b.Status == model.StatusRequested {
		prop, err := s.props.Lookup(ctx, b.PropertyID)
		if err != nil {
			return nil, fmt.Errorf("lookup property: %w", err)
		}
		if !prop.InstantBook {
			return nil, fmt.Errorf("%w: booking has not been approved", model.ErrInvalidTransition)
		}
	}

	customer, err := s.ids.Lookup(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("lookup guest identity: %w", err)
	}
	return s.engine.InitiatePayment(ctx, bookingID, customer)
}

// PollPayment verifies settlement state with the gateway on behalf of the
// guest and reconciles the result.
func (s *BookingService) PollPayment(ctx context.Context, bookingID, guestID string) (model.ReconcileResult, error) {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return model.ReconcileResult{}, err
	}
	if b.GuestID != guestID {
		return model.ReconcileResult{}, ErrUnauthorized
	}
	return s.engine.PollPayment(ctx, bookingID)
}

// CancelBooking cancels on behalf of the booking's guest or host and records
// the refund owed. Executing the refund against the gateway is an operator
// workflow outside this service.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, actorID, reason string) (*model.Booking, error) {
	var by model.Actor
	b, err := s.store.Mutate(ctx, bookingID, func(b *model.Booking) error {
		switch actorID {
		case b.GuestID:
			by = model.ActorGuest
		case b.HostID:
			by = model.ActorHost
		default:
			return ErrUnauthorized
		}
		return b.Cancel(s.now(), by, strings.TrimSpace(reason))
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, TopicBookingCancelled, map[string]any{
		"booking_id":     b.ID,
		"guest_id":       b.GuestID,
		"host_id":        b.HostID,
		"cancelled_by":   by,
		"refund_amount":  b.RefundAmount,
		"refund_percent": b.RefundPercent,
	})
	s.audit(ctx, bookingID, actorID, "cancelled",
		fmt.Sprintf("refund %s (%d%%)", b.RefundAmount, b.RefundPercent))
	return b, nil
}

// CompleteBooking marks a confirmed stay as completed once check-out has
// passed. The wall-clock precondition lives here, not in the aggregate.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID, hostID string) (*model.Booking, error) {
	b, err := s.store.Mutate(ctx, bookingID, func(b *model.Booking) error {
		if b.HostID != hostID {
			return ErrUnauthorized
		}
		if !b.DateRange.Ended(s.now()) {
			return ErrStayInProgress
		}
		return b.Complete(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, bookingID, hostID, "completed", "")
	return b, nil
}

// DeleteBooking physically removes a booking. The data-retention guard only
// permits deletion from the CANCELLED and REJECTED terminal states.
func (s *BookingService) DeleteBooking(ctx context.Context, bookingID, actorID string) error {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if actorID != b.GuestID && actorID != b.HostID {
		return ErrUnauthorized
	}
	if !b.Deletable() {
		return fmt.Errorf("%w: delete from %s", model.ErrInvalidTransition, b.Status)
	}
	if err := s.store.Delete(ctx, bookingID); err != nil {
		return err
	}
	s.audit(ctx, bookingID, actorID, "deleted", "")
	return nil
}

// GetBooking returns the actor's view of a booking, lazily expiring a lapsed
// hold first so reads never show a stale AWAITING_PAYMENT.
func (s *BookingService) GetBooking(ctx context.Context, bookingID, actorID string) (*BookingView, error) {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == model.StatusAwaitingPayment && b.HoldLapsed(s.now()) {
		if _, err := s.engine.ExpireHold(ctx, bookingID); err != nil {
			return nil, err
		}
		if b, err = s.store.GetByID(ctx, bookingID); err != nil {
			return nil, err
		}
	}

	switch actorID {
	case b.GuestID:
		return s.view(b, false), nil
	case b.HostID:
		return s.view(b, true), nil
	}
	return nil, ErrUnauthorized
}

// ListBookingsByGuest returns a guest's bookings for their dashboard.
func (s *BookingService) ListBookingsByGuest(ctx context.Context, guestID string) ([]BookingView, error) {
	bs, err := s.store.ListByGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}
	return s.views(bs, false), nil
}

// ListBookingsByHost returns a host's bookings including anomaly flags.
func (s *BookingService) ListBookingsByHost(ctx context.Context, hostID string) ([]BookingView, error) {
	bs, err := s.store.ListByHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	return s.views(bs, true), nil
}

func (s *BookingService) publish(ctx context.Context, key string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(ctx, key, v); err != nil {
		s.log.WithError(err).WithField("topic", key).Error("side-effect publish failed")
	}
}

func (s *BookingService) audit(ctx context.Context, bookingID, actor, action, detail string) {
	if err := s.store.AppendAudit(ctx, bookingID, actor, action, detail); err != nil {
		s.log.WithError(err).WithField("booking_id", bookingID).Error("audit append failed")
	}
}

func parseStay(checkIn, checkOut string) (model.DateRange, error) {
	start, err := time.Parse("2006-01-02", checkIn)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("%w: check_in must be YYYY-MM-DD", ErrValidation)
	}
	end, err := time.Parse("2006-01-02", checkOut)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("%w: check_out must be YYYY-MM-DD", ErrValidation)
	}
	stay, err := model.NewDateRange(start, end)
	if err != nil {
		return model.DateRange{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return stay, nil
}
