package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stayhaven/booking-engine/internal/gateway"
	"github.com/stayhaven/booking-engine/internal/model"
)

// Routing keys for side-effect events published after a transition commits.
const (
	TopicBookingConfirmed = "booking.confirmed"
	TopicBookingExpired   = "booking.expired"
	TopicPaymentFailed    = "payment.failed"
	TopicLateSettlement   = "booking.late_settlement"
	TopicBookingCancelled = "booking.cancelled"
)

// EngineConfig tunes reconciliation behavior.
type EngineConfig struct {
	// HoldTTL is how long an AWAITING_PAYMENT booking holds its slot.
	HoldTTL time.Duration
	// ConfirmOnPartialPayment confirms bookings as soon as any amount
	// settles instead of waiting for the full total.
	ConfirmOnPartialPayment bool
	// TrustUnverifiedWebhooks applies webhook payloads without a verified
	// signature directly. Off by default: unverified deliveries only trigger
	// a poll of gateway ground truth.
	TrustUnverifiedWebhooks bool
}

// ReconciliationEngine funnels every settlement trigger (client poll,
// scheduled poll, webhook) through one idempotent procedure. Regardless of
// arrival order or duplication, a given settlement transitions the booking
// exactly once and dispatches its side effects exactly once.
type ReconciliationEngine struct {
	store Store
	gw    gateway.PaymentGateway
	pub   Publisher
	log   *logrus.Logger
	cfg   EngineConfig
	now   func() time.Time
}

// NewReconciliationEngine wires the engine's dependencies.
func NewReconciliationEngine(store Store, gw gateway.PaymentGateway, pub Publisher, log *logrus.Logger, cfg EngineConfig) *ReconciliationEngine {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 15 * time.Minute
	}
	return &ReconciliationEngine{store: store, gw: gw, pub: pub, log: log, cfg: cfg, now: time.Now}
}

// InitiatePayment moves the booking into AWAITING_PAYMENT and creates the
// payable order at the gateway. The gateway call happens outside any lock;
// only the short state mutations hold the booking row. If order creation
// fails the hold stands and the call is safe to retry.
func (e *ReconciliationEngine) InitiatePayment(ctx context.Context, bookingID string, customer gateway.Customer) (*model.Booking, error) {
	b, err := e.store.Mutate(ctx, bookingID, func(b *model.Booking) error {
		return b.StartPaymentHold(e.now(), e.cfg.HoldTTL)
	})
	if err != nil {
		return nil, err
	}
	if b.PaymentOrderID != "" {
		// Order already created; return the stored checkout reference.
		return b, nil
	}

	order, err := e.gw.CreateOrder(ctx, b.ID, b.TotalPrice, customer)
	if err != nil {
		gatewayErrorsTotal.WithLabelValues("create_order").Inc()
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	b, err = e.store.Mutate(ctx, bookingID, func(b *model.Booking) error {
		return b.AttachPaymentOrder(order.OrderID, order.CheckoutURL)
	})
	if err != nil {
		return nil, err
	}
	e.audit(ctx, b.ID, string(model.ActorGuest), "payment_initiated", "order "+order.OrderID)
	return b, nil
}

// PollPayment reads gateway ground truth for the booking's order and feeds
// it into the reconciliation procedure. The gateway read happens outside the
// lock; only the check-and-apply step is serialized.
func (e *ReconciliationEngine) PollPayment(ctx context.Context, bookingID string) (model.ReconcileResult, error) {
	b, err := e.store.GetByID(ctx, bookingID)
	if err != nil {
		return model.ReconcileResult{}, err
	}

	// Lazy sweep: a lapsed hold is expired before any settlement applies,
	// whether or not the interval sweeper has come around yet.
	if b.Status == model.StatusAwaitingPayment && b.HoldLapsed(e.now()) {
		if _, err := e.ExpireHold(ctx, bookingID); err != nil {
			return model.ReconcileResult{}, err
		}
	}

	if b.PaymentOrderID == "" {
		return model.ReconcileResult{}, ErrPaymentNotInitiated
	}

	settlement, err := e.gw.PollStatus(ctx, b.PaymentOrderID)
	if err != nil {
		gatewayErrorsTotal.WithLabelValues("poll_status").Inc()
		return model.ReconcileResult{}, fmt.Errorf("poll gateway: %w", err)
	}

	ev := model.ReconciliationEvent{
		// A poll has no delivery ID; fingerprint the observation so an
		// identical observation replays instead of reapplying.
		SourceEventID: "poll:" + b.PaymentOrderID + ":" + settlement.TransactionID + ":" + string(settlement.Status),
		BookingID:     b.ID,
		Status:        settlement.Status,
		Amount:        settlement.Amount,
		TransactionID: settlement.TransactionID,
		OccurredAt:    e.now(),
		Trigger:       "poll",
	}
	return e.Reconcile(ctx, ev)
}

// HandleWebhook validates and applies one gateway webhook delivery. Payloads
// without a verifiable signature are informational only: they trigger a
// poll of gateway ground truth instead of mutating state directly, unless
// explicitly trusted by configuration.
func (e *ReconciliationEngine) HandleWebhook(ctx context.Context, rawPayload []byte, signatureHeader string) (model.ReconcileResult, error) {
	delivery, err := gateway.ParseWebhookDelivery(rawPayload)
	if err != nil {
		return model.ReconcileResult{}, err
	}

	bookingID := delivery.BookingID
	if bookingID == "" {
		b, err := e.store.GetByOrderID(ctx, delivery.OrderID)
		if err != nil {
			return model.ReconcileResult{}, err
		}
		bookingID = b.ID
	}

	if !e.gw.VerifyWebhookSignature(rawPayload, signatureHeader) && !e.cfg.TrustUnverifiedWebhooks {
		e.log.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"event_id":   delivery.EventID,
		}).Warn("webhook signature unverified, falling back to gateway poll")
		return e.PollPayment(ctx, bookingID)
	}

	amount, err := model.NewMoney(delivery.AmountMinor, delivery.Currency)
	if err != nil {
		return model.ReconcileResult{}, fmt.Errorf("%w: %v", gateway.ErrInvalidRequest, err)
	}
	ev := model.ReconciliationEvent{
		SourceEventID: delivery.EventID,
		BookingID:     bookingID,
		Status:        delivery.SettlementStatus(),
		Amount:        amount,
		TransactionID: delivery.TransactionID,
		OccurredAt:    e.now(),
		Trigger:       "webhook",
	}
	return e.Reconcile(ctx, ev)
}

// Reconcile applies one settlement observation to the booking. It is safe
// under concurrent invocation from any number of triggers: the store
// serializes writers per booking and the ledger makes replays free of side
// effects. Duplicate and state-conflicting events are recorded as no-ops,
// never propagated as failures, so gateway retries cannot cascade.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, ev model.ReconciliationEvent) (model.ReconcileResult, error) {
	res, err := e.store.ReconcileEvent(ctx, ev.BookingID, ev, func(b *model.Booking) (model.ReconcileOutcome, error) {
		return e.apply(b, ev)
	})
	if err != nil {
		return res, err
	}

	reconciliationsTotal.WithLabelValues(ev.Trigger, string(res.Outcome), strconv.FormatBool(res.Replayed)).Inc()
	if !res.Replayed {
		e.dispatchSideEffects(ctx, res, ev)
	}
	return res, nil
}

// apply is the decision core of the engine, run under the per-booking lock.
// It mutates the aggregate and names the outcome; it performs no I/O.
func (e *ReconciliationEngine) apply(b *model.Booking, ev model.ReconciliationEvent) (model.ReconcileOutcome, error) {
	now := e.now()

	if b.Status == model.StatusConfirmed && b.PaymentStatus == model.PaymentPaid {
		return model.OutcomeAlreadyConfirmed, nil
	}

	// Re-check hold expiry inside the critical section: a settlement landing
	// after the hold lapsed must not resurrect the booking, even if the
	// sweeper has not run yet.
	if b.Status == model.StatusAwaitingPayment && b.HoldLapsed(now) {
		if err := b.Expire(); err != nil {
			return "", err
		}
		if ev.Status == model.SettlementCompleted {
			b.FlagLateSettlement(ev.TransactionID, ev.Amount)
			return model.OutcomeLateSettlement, nil
		}
		return model.OutcomeExpired, nil
	}

	if b.Status == model.StatusExpired {
		if ev.Status == model.SettlementCompleted && !b.LateSettlement {
			b.FlagLateSettlement(ev.TransactionID, ev.Amount)
			return model.OutcomeLateSettlement, nil
		}
		return model.OutcomeIgnored, nil
	}

	switch ev.Status {
	case model.SettlementPending:
		return model.OutcomePending, nil

	case model.SettlementFailed:
		if err := b.MarkPaymentFailed(); err != nil {
			e.logConflict(b, ev, err)
			return model.OutcomeIgnored, nil
		}
		return model.OutcomeFailed, nil

	case model.SettlementCompleted:
		if b.Status.Terminal() {
			e.logConflict(b, ev, model.ErrInvalidTransition)
			return model.OutcomeIgnored, nil
		}
		if err := b.ApplyPayment(ev.Amount, ev.TransactionID); err != nil {
			// Overpayment and currency conflicts are recorded as no-ops so
			// gateway retries of a bad event cannot error forever.
			e.logConflict(b, ev, err)
			return model.OutcomeIgnored, nil
		}
		confirmable := b.PaymentStatus == model.PaymentPaid ||
			(b.PaymentStatus == model.PaymentPartiallyPaid && e.cfg.ConfirmOnPartialPayment)
		if !confirmable {
			return model.OutcomePartiallyPaid, nil
		}
		if err := b.Confirm(now); err != nil {
			e.logConflict(b, ev, err)
			return model.OutcomeIgnored, nil
		}
		return model.OutcomeConfirmed, nil
	}

	e.logConflict(b, ev, fmt.Errorf("unknown settlement status %q", ev.Status))
	return model.OutcomeIgnored, nil
}

// ExpireHold transitions a lapsed AWAITING_PAYMENT booking to EXPIRED under
// the per-booking lock. Returns false without error when another writer got
// there first or the hold has not lapsed.
func (e *ReconciliationEngine) ExpireHold(ctx context.Context, bookingID string) (bool, error) {
	swept := false
	b, err := e.store.Mutate(ctx, bookingID, func(b *model.Booking) error {
		if b.Status != model.StatusAwaitingPayment || !b.HoldLapsed(e.now()) {
			return nil
		}
		if err := b.Expire(); err != nil {
			return err
		}
		swept = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if swept {
		holdsExpiredTotal.Inc()
		e.publish(ctx, TopicBookingExpired, map[string]any{
			"booking_id": b.ID,
			"guest_id":   b.GuestID,
		})
		e.audit(ctx, b.ID, "system", "hold_expired", "")
	}
	return swept, nil
}

// dispatchSideEffects publishes notification events after the transition
// has committed. Fire-and-forget: a publish failure is logged and the
// transition stands.
func (e *ReconciliationEngine) dispatchSideEffects(ctx context.Context, res model.ReconcileResult, ev model.ReconciliationEvent) {
	b := res.Booking
	switch res.Outcome {
	case model.OutcomeConfirmed:
		e.publish(ctx, TopicBookingConfirmed, map[string]any{
			"booking_id":     b.ID,
			"guest_id":       b.GuestID,
			"host_id":        b.HostID,
			"amount_paid":    b.AmountPaid,
			"transaction_id": ev.TransactionID,
		})
		e.audit(ctx, b.ID, "gateway", "confirmed", "txn "+ev.TransactionID)

	case model.OutcomeFailed:
		e.publish(ctx, TopicPaymentFailed, map[string]any{
			"booking_id": b.ID,
			"guest_id":   b.GuestID,
		})
		e.audit(ctx, b.ID, "gateway", "payment_failed", "")

	case model.OutcomeLateSettlement:
		lateSettlementsTotal.Inc()
		e.publish(ctx, TopicLateSettlement, map[string]any{
			"booking_id":     b.ID,
			"host_id":        b.HostID,
			"transaction_id": ev.TransactionID,
			"amount":         ev.Amount,
		})
		e.audit(ctx, b.ID, "gateway", "late_settlement", "txn "+ev.TransactionID+" requires forced refund")

	case model.OutcomeExpired:
		holdsExpiredTotal.Inc()
		e.publish(ctx, TopicBookingExpired, map[string]any{
			"booking_id": b.ID,
			"guest_id":   b.GuestID,
		})
		e.audit(ctx, b.ID, "system", "hold_expired", "")
	}
}

func (e *ReconciliationEngine) publish(ctx context.Context, key string, v any) {
	if e.pub == nil {
		return
	}
	if err := e.pub.PublishJSON(ctx, key, v); err != nil {
		e.log.WithError(err).WithField("topic", key).Error("side-effect publish failed")
	}
}

func (e *ReconciliationEngine) audit(ctx context.Context, bookingID, actor, action, detail string) {
	if err := e.store.AppendAudit(ctx, bookingID, actor, action, detail); err != nil {
		e.log.WithError(err).WithField("booking_id", bookingID).Error("audit append failed")
	}
}

func (e *ReconciliationEngine) logConflict(b *model.Booking, ev model.ReconciliationEvent, err error) {
	e.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"event_id":   ev.SourceEventID,
		"trigger":    ev.Trigger,
		"status":     b.Status,
	}).WithError(err).Warn("settlement event recorded as no-op")
}
