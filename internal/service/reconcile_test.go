package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stayhaven/booking-engine/internal/gateway"
	"github.com/stayhaven/booking-engine/internal/model"
)

var baseTime = time.Date(2026, 9, 20, 12, 0, 0, 0, time.UTC)

// clock is a settable time source shared with the engine under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(store Store, gw gateway.PaymentGateway, pub Publisher, cfg EngineConfig) (*ReconciliationEngine, *clock) {
	c := &clock{t: baseTime}
	e := NewReconciliationEngine(store, gw, pub, testLogger(), cfg)
	e.now = c.Now
	return e, c
}

// seedAwaiting stores a booking in AWAITING_PAYMENT with a gateway order
// attached and a hold placed at baseTime. Total price is USD 30000.
func seedAwaiting(t *testing.T, store *fakeStore) *model.Booking {
	t.Helper()
	stay, err := model.NewDateRange(
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	b, err := model.NewBooking("bk-1", "prop-1", "guest-1", "host-1", stay, 2,
		model.MustMoney(10000, "USD"), model.NewModeratePolicy(5, 50), baseTime)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Approve(); err != nil {
		t.Fatal(err)
	}
	if err := b.StartPaymentHold(baseTime, 15*time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := b.AttachPaymentOrder("ord-1", "https://pay.example/ord-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	return b
}

func completedEvent(eventID, txnID string, amountMinor int64) model.ReconciliationEvent {
	return model.ReconciliationEvent{
		SourceEventID: eventID,
		BookingID:     "bk-1",
		Status:        model.SettlementCompleted,
		Amount:        model.MustMoney(amountMinor, "USD"),
		TransactionID: txnID,
		OccurredAt:    baseTime,
		Trigger:       "webhook",
	}
}

func TestReconcileConfirmsFullSettlement(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{})
	seedAwaiting(t, store)

	res, err := engine.Reconcile(context.Background(), completedEvent("evt-1", "txn-1", 30000))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Outcome != model.OutcomeConfirmed || res.Replayed {
		t.Fatalf("result = %+v, want CONFIRMED fresh", res)
	}

	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.Status != model.StatusConfirmed || b.PaymentStatus != model.PaymentPaid {
		t.Errorf("booking state = %s/%s", b.Status, b.PaymentStatus)
	}
	if pub.count(TopicBookingConfirmed) != 1 {
		t.Errorf("booking.confirmed published %d times, want 1", pub.count(TopicBookingConfirmed))
	}
}

// A duplicated delivery (same gateway event ID) must replay the recorded
// outcome without applying money or re-publishing side effects.
func TestReconcileDuplicateEventReplays(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{})
	seedAwaiting(t, store)

	ev := completedEvent("evt-1", "txn-1", 30000)
	if _, err := engine.Reconcile(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	res, err := engine.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if !res.Replayed || res.Outcome != model.OutcomeConfirmed {
		t.Fatalf("result = %+v, want replayed CONFIRMED", res)
	}

	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.AmountPaid.AmountMinor != 30000 {
		t.Errorf("AmountPaid = %d, money applied twice", b.AmountPaid.AmountMinor)
	}
	if pub.count(TopicBookingConfirmed) != 1 {
		t.Errorf("booking.confirmed published %d times, want 1", pub.count(TopicBookingConfirmed))
	}
}

// A webhook and a poll observing the same transaction carry different event
// IDs; the (booking, transaction) dedup still applies the money only once.
func TestReconcileSameTransactionDifferentTriggers(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{})
	seedAwaiting(t, store)

	webhook := completedEvent("evt-webhook", "txn-1", 30000)
	poll := completedEvent("poll:ord-1:txn-1:COMPLETED", "txn-1", 30000)
	poll.Trigger = "poll"

	if _, err := engine.Reconcile(context.Background(), webhook); err != nil {
		t.Fatal(err)
	}
	res, err := engine.Reconcile(context.Background(), poll)
	if err != nil {
		t.Fatalf("poll Reconcile() error = %v", err)
	}
	if !res.Replayed || res.Outcome != model.OutcomeConfirmed {
		t.Fatalf("poll result = %+v, want replayed CONFIRMED", res)
	}

	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.AmountPaid.AmountMinor != 30000 {
		t.Errorf("AmountPaid = %d, want 30000", b.AmountPaid.AmountMinor)
	}
	if pub.count(TopicBookingConfirmed) != 1 {
		t.Errorf("booking.confirmed published %d times, want 1", pub.count(TopicBookingConfirmed))
	}
}

// The final state must not depend on arrival order: poll first, webhook
// second converges to the same confirmed booking.
func TestReconcileTriggerOrderCommutes(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, &fakeGateway{}, &recordPub{}, EngineConfig{})
	seedAwaiting(t, store)

	poll := completedEvent("poll:ord-1:txn-1:COMPLETED", "txn-1", 30000)
	poll.Trigger = "poll"
	webhook := completedEvent("evt-webhook", "txn-1", 30000)

	if _, err := engine.Reconcile(context.Background(), poll); err != nil {
		t.Fatal(err)
	}
	res, err := engine.Reconcile(context.Background(), webhook)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Replayed {
		t.Errorf("webhook after poll must replay, got %+v", res)
	}

	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.Status != model.StatusConfirmed || b.AmountPaid.AmountMinor != 30000 {
		t.Errorf("booking state = %s paid=%d", b.Status, b.AmountPaid.AmountMinor)
	}
}

func TestReconcilePendingThenCompleted(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, &fakeGateway{}, &recordPub{}, EngineConfig{})
	seedAwaiting(t, store)

	pending := completedEvent("evt-1", "", 0)
	pending.Status = model.SettlementPending
	pending.Amount = model.MustMoney(0, "USD")

	res, err := engine.Reconcile(context.Background(), pending)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomePending {
		t.Fatalf("pending outcome = %s", res.Outcome)
	}
	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.Status != model.StatusAwaitingPayment {
		t.Errorf("pending must not move status, got %s", b.Status)
	}

	res, err = engine.Reconcile(context.Background(), completedEvent("evt-2", "txn-1", 30000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomeConfirmed {
		t.Errorf("completed outcome = %s", res.Outcome)
	}
}

func TestReconcileFailedThenRetry(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{})
	seedAwaiting(t, store)

	failed := completedEvent("evt-1", "txn-1", 0)
	failed.Status = model.SettlementFailed
	failed.Amount = model.MustMoney(0, "USD")

	res, err := engine.Reconcile(context.Background(), failed)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomeFailed {
		t.Fatalf("failed outcome = %s", res.Outcome)
	}
	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.PaymentStatus != model.PaymentFailed || b.Status != model.StatusAwaitingPayment {
		t.Errorf("state = %s/%s", b.Status, b.PaymentStatus)
	}
	if pub.count(TopicPaymentFailed) != 1 {
		t.Errorf("payment.failed published %d times, want 1", pub.count(TopicPaymentFailed))
	}

	// The guest may retry within the hold; a later settlement still confirms.
	res, err = engine.Reconcile(context.Background(), completedEvent("evt-2", "txn-2", 30000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomeConfirmed {
		t.Errorf("retry outcome = %s", res.Outcome)
	}
}

// A settlement landing after the hold lapsed must never resurrect the
// booking: it expires, the payment is flagged for a forced refund, and the
// anomaly event fires exactly once.
func TestReconcileLateSettlement(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, clk := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{HoldTTL: 15 * time.Minute})
	seedAwaiting(t, store)

	clk.Advance(16 * time.Minute)

	res, err := engine.Reconcile(context.Background(), completedEvent("evt-late", "txn-late", 30000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomeLateSettlement {
		t.Fatalf("outcome = %s, want LATE_SETTLEMENT", res.Outcome)
	}

	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.Status != model.StatusExpired {
		t.Errorf("Status = %s, want EXPIRED", b.Status)
	}
	if !b.LateSettlement || b.LateSettlementTxnID != "txn-late" {
		t.Errorf("anomaly not recorded: %v %s", b.LateSettlement, b.LateSettlementTxnID)
	}
	if b.AmountPaid.AmountMinor != 0 {
		t.Errorf("late settlement must not apply money, paid = %d", b.AmountPaid.AmountMinor)
	}
	if pub.count(TopicLateSettlement) != 1 {
		t.Errorf("late_settlement published %d times, want 1", pub.count(TopicLateSettlement))
	}

	// A second late completion for another transaction is ignored, not
	// flagged twice.
	res, err = engine.Reconcile(context.Background(), completedEvent("evt-late-2", "txn-late-2", 30000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomeIgnored {
		t.Errorf("second late outcome = %s, want IGNORED", res.Outcome)
	}
	if pub.count(TopicLateSettlement) != 1 {
		t.Errorf("late_settlement published %d times after duplicate, want 1", pub.count(TopicLateSettlement))
	}
}

func TestReconcileNonCompletedAfterLapseExpires(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, clk := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{HoldTTL: 15 * time.Minute})
	seedAwaiting(t, store)

	clk.Advance(16 * time.Minute)

	pending := completedEvent("evt-1", "", 0)
	pending.Status = model.SettlementPending
	pending.Amount = model.MustMoney(0, "USD")

	res, err := engine.Reconcile(context.Background(), pending)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomeExpired {
		t.Fatalf("outcome = %s, want EXPIRED", res.Outcome)
	}
	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.Status != model.StatusExpired || b.LateSettlement {
		t.Errorf("state = %s late=%v", b.Status, b.LateSettlement)
	}
	if pub.count(TopicBookingExpired) != 1 {
		t.Errorf("booking.expired published %d times, want 1", pub.count(TopicBookingExpired))
	}
}

func TestReconcilePartialPayments(t *testing.T) {
	t.Run("partials accumulate, confirm on full total", func(t *testing.T) {
		store := newFakeStore()
		pub := &recordPub{}
		engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{})
		seedAwaiting(t, store)

		res, err := engine.Reconcile(context.Background(), completedEvent("evt-1", "txn-1", 10000))
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != model.OutcomePartiallyPaid {
			t.Fatalf("first outcome = %s, want PARTIALLY_PAID", res.Outcome)
		}
		if pub.count(TopicBookingConfirmed) != 0 {
			t.Error("partial payment must not confirm")
		}

		res, err = engine.Reconcile(context.Background(), completedEvent("evt-2", "txn-2", 20000))
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != model.OutcomeConfirmed {
			t.Fatalf("second outcome = %s, want CONFIRMED", res.Outcome)
		}
		b, _ := store.GetByID(context.Background(), "bk-1")
		if b.AmountPaid.AmountMinor != 30000 || b.PaymentStatus != model.PaymentPaid {
			t.Errorf("paid = %d status = %s", b.AmountPaid.AmountMinor, b.PaymentStatus)
		}
	})

	t.Run("confirm on partial when configured", func(t *testing.T) {
		store := newFakeStore()
		engine, _ := newTestEngine(store, &fakeGateway{}, &recordPub{}, EngineConfig{ConfirmOnPartialPayment: true})
		seedAwaiting(t, store)

		res, err := engine.Reconcile(context.Background(), completedEvent("evt-1", "txn-1", 10000))
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != model.OutcomeConfirmed {
			t.Fatalf("outcome = %s, want CONFIRMED", res.Outcome)
		}
		b, _ := store.GetByID(context.Background(), "bk-1")
		if b.Status != model.StatusConfirmed || b.PaymentStatus != model.PaymentPartiallyPaid {
			t.Errorf("state = %s/%s", b.Status, b.PaymentStatus)
		}
	})

	t.Run("overpayment recorded as no-op", func(t *testing.T) {
		store := newFakeStore()
		engine, _ := newTestEngine(store, &fakeGateway{}, &recordPub{}, EngineConfig{})
		seedAwaiting(t, store)

		if _, err := engine.Reconcile(context.Background(), completedEvent("evt-1", "txn-1", 20000)); err != nil {
			t.Fatal(err)
		}
		res, err := engine.Reconcile(context.Background(), completedEvent("evt-2", "txn-2", 20000))
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != model.OutcomeIgnored {
			t.Fatalf("overpay outcome = %s, want IGNORED", res.Outcome)
		}
		b, _ := store.GetByID(context.Background(), "bk-1")
		if b.AmountPaid.AmountMinor != 20000 {
			t.Errorf("paid = %d, overpayment applied", b.AmountPaid.AmountMinor)
		}
	})
}

// A FAILED event landing after a partial-payment confirmation must be a
// no-op: CONFIRMED always implies a settled payment status.
func TestReconcileFailedAfterPartialConfirm(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{ConfirmOnPartialPayment: true})
	seedAwaiting(t, store)

	if _, err := engine.Reconcile(context.Background(), completedEvent("evt-1", "txn-1", 10000)); err != nil {
		t.Fatal(err)
	}

	failed := completedEvent("evt-2", "txn-2", 0)
	failed.Status = model.SettlementFailed
	res, err := engine.Reconcile(context.Background(), failed)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Outcome != model.OutcomeIgnored {
		t.Fatalf("outcome = %s, want IGNORED", res.Outcome)
	}

	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.Status != model.StatusConfirmed || b.PaymentStatus != model.PaymentPartiallyPaid {
		t.Errorf("state = %s/%s, want CONFIRMED/PARTIALLY_PAID", b.Status, b.PaymentStatus)
	}
	if pub.count(TopicPaymentFailed) != 0 {
		t.Errorf("payment.failed published %d times, want 0", pub.count(TopicPaymentFailed))
	}
}

func TestReconcileAlreadyConfirmed(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{})
	seedAwaiting(t, store)

	if _, err := engine.Reconcile(context.Background(), completedEvent("evt-1", "txn-1", 30000)); err != nil {
		t.Fatal(err)
	}
	res, err := engine.Reconcile(context.Background(), completedEvent("evt-2", "txn-2", 30000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.OutcomeAlreadyConfirmed {
		t.Fatalf("outcome = %s, want ALREADY_CONFIRMED", res.Outcome)
	}
	if pub.count(TopicBookingConfirmed) != 1 {
		t.Errorf("booking.confirmed published %d times, want 1", pub.count(TopicBookingConfirmed))
	}
}

// Many concurrent deliveries of the same settlement must produce exactly one
// applied transition; all others replay.
func TestReconcileConcurrentDuplicates(t *testing.T) {
	store := newFakeStore()
	pub := &recordPub{}
	engine, _ := newTestEngine(store, &fakeGateway{}, pub, EngineConfig{})
	seedAwaiting(t, store)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Reconcile(context.Background(), completedEvent("evt-1", "txn-1", 30000))
			if err != nil {
				t.Errorf("Reconcile() error = %v", err)
				return
			}
			if !res.Replayed {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied %d times, want exactly 1", applied)
	}
	b, _ := store.GetByID(context.Background(), "bk-1")
	if b.AmountPaid.AmountMinor != 30000 {
		t.Errorf("AmountPaid = %d, want 30000", b.AmountPaid.AmountMinor)
	}
	if pub.count(TopicBookingConfirmed) != 1 {
		t.Errorf("booking.confirmed published %d times, want 1", pub.count(TopicBookingConfirmed))
	}
}

func TestInitiatePayment(t *testing.T) {
	t.Run("creates order and attaches it", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{order: gateway.Order{OrderID: "ord-new", CheckoutURL: "https://pay/new"}}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{HoldTTL: 15 * time.Minute})
		b := seedAwaiting(t, store)

		// Reset the seeded order so initiation starts clean.
		b.PaymentOrderID = ""
		b.CheckoutURL = ""
		b.Status = model.StatusApproved
		b.PaymentStatus = model.PaymentUnpaid
		b.HoldExpiresAt = nil
		if err := store.Create(context.Background(), b); err != nil {
			t.Fatal(err)
		}

		got, err := engine.InitiatePayment(context.Background(), "bk-1", gateway.Customer{ID: "guest-1"})
		if err != nil {
			t.Fatalf("InitiatePayment() error = %v", err)
		}
		if got.Status != model.StatusAwaitingPayment || got.PaymentOrderID != "ord-new" {
			t.Errorf("state = %s order = %s", got.Status, got.PaymentOrderID)
		}
		if got.HoldExpiresAt == nil || !got.HoldExpiresAt.Equal(baseTime.Add(15*time.Minute)) {
			t.Errorf("HoldExpiresAt = %v", got.HoldExpiresAt)
		}
	})

	t.Run("idempotent once order exists", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{order: gateway.Order{OrderID: "ord-other"}}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{})
		seedAwaiting(t, store)

		got, err := engine.InitiatePayment(context.Background(), "bk-1", gateway.Customer{})
		if err != nil {
			t.Fatalf("InitiatePayment() error = %v", err)
		}
		if got.PaymentOrderID != "ord-1" {
			t.Errorf("order = %s, want existing ord-1", got.PaymentOrderID)
		}
		if gw.createCalls != 0 {
			t.Errorf("gateway called %d times for an existing order", gw.createCalls)
		}
	})

	t.Run("gateway failure leaves hold standing for retry", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{createErr: gateway.ErrUnavailable}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{HoldTTL: 15 * time.Minute})
		b := seedAwaiting(t, store)
		b.PaymentOrderID = ""
		b.CheckoutURL = ""
		if err := store.Create(context.Background(), b); err != nil {
			t.Fatal(err)
		}

		if _, err := engine.InitiatePayment(context.Background(), "bk-1", gateway.Customer{}); !errors.Is(err, gateway.ErrUnavailable) {
			t.Fatalf("error = %v, want ErrUnavailable", err)
		}
		stored, _ := store.GetByID(context.Background(), "bk-1")
		if stored.Status != model.StatusAwaitingPayment {
			t.Errorf("hold dropped on gateway failure: %s", stored.Status)
		}

		gw.mu.Lock()
		gw.createErr = nil
		gw.order = gateway.Order{OrderID: "ord-retry", CheckoutURL: "https://pay/r"}
		gw.mu.Unlock()

		got, err := engine.InitiatePayment(context.Background(), "bk-1", gateway.Customer{})
		if err != nil {
			t.Fatalf("retry error = %v", err)
		}
		if got.PaymentOrderID != "ord-retry" {
			t.Errorf("order = %s after retry", got.PaymentOrderID)
		}
	})
}

func TestPollPayment(t *testing.T) {
	t.Run("confirms on completed settlement and replays", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{settlement: gateway.Settlement{
			Status:        model.SettlementCompleted,
			Amount:        model.MustMoney(30000, "USD"),
			TransactionID: "txn-1",
		}}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{HoldTTL: 15 * time.Minute})
		seedAwaiting(t, store)

		res, err := engine.PollPayment(context.Background(), "bk-1")
		if err != nil {
			t.Fatalf("PollPayment() error = %v", err)
		}
		if res.Outcome != model.OutcomeConfirmed || res.Replayed {
			t.Fatalf("result = %+v", res)
		}

		// Identical observation again: replay, no second application.
		res, err = engine.PollPayment(context.Background(), "bk-1")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Replayed {
			t.Errorf("identical poll observation not replayed: %+v", res)
		}
	})

	t.Run("rejects before initiation", func(t *testing.T) {
		store := newFakeStore()
		engine, _ := newTestEngine(store, &fakeGateway{}, &recordPub{}, EngineConfig{})
		b := seedAwaiting(t, store)
		b.PaymentOrderID = ""
		if err := store.Create(context.Background(), b); err != nil {
			t.Fatal(err)
		}

		if _, err := engine.PollPayment(context.Background(), "bk-1"); !errors.Is(err, ErrPaymentNotInitiated) {
			t.Errorf("error = %v, want ErrPaymentNotInitiated", err)
		}
	})

	t.Run("expires lapsed hold before reconciling", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{settlement: gateway.Settlement{
			Status: model.SettlementPending,
			Amount: model.MustMoney(0, "USD"),
		}}
		pub := &recordPub{}
		engine, clk := newTestEngine(store, gw, pub, EngineConfig{HoldTTL: 15 * time.Minute})
		seedAwaiting(t, store)

		clk.Advance(20 * time.Minute)

		if _, err := engine.PollPayment(context.Background(), "bk-1"); err != nil {
			t.Fatalf("PollPayment() error = %v", err)
		}
		b, _ := store.GetByID(context.Background(), "bk-1")
		if b.Status != model.StatusExpired {
			t.Errorf("Status = %s, want EXPIRED", b.Status)
		}
		if pub.count(TopicBookingExpired) != 1 {
			t.Errorf("booking.expired published %d times, want 1", pub.count(TopicBookingExpired))
		}
	})
}

func TestHandleWebhook(t *testing.T) {
	payload := []byte(`{
		"id": "evnt_1",
		"key": "charge.complete",
		"data": {
			"object": "charge",
			"id": "ord-1",
			"status": "successful",
			"amount": 30000,
			"currency": "usd",
			"transaction": "txn-1",
			"metadata": {"booking_id": "bk-1"}
		}
	}`)

	t.Run("verified payload applies directly", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{verify: true}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{})
		seedAwaiting(t, store)

		res, err := engine.HandleWebhook(context.Background(), payload, "sig")
		if err != nil {
			t.Fatalf("HandleWebhook() error = %v", err)
		}
		if res.Outcome != model.OutcomeConfirmed {
			t.Fatalf("outcome = %s", res.Outcome)
		}
		if gw.pollCalls != 0 {
			t.Errorf("verified webhook polled the gateway %d times", gw.pollCalls)
		}
	})

	t.Run("unverified payload falls back to poll", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{
			verify: false,
			settlement: gateway.Settlement{
				Status:        model.SettlementCompleted,
				Amount:        model.MustMoney(30000, "USD"),
				TransactionID: "txn-1",
			},
		}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{})
		seedAwaiting(t, store)

		res, err := engine.HandleWebhook(context.Background(), payload, "bad-sig")
		if err != nil {
			t.Fatalf("HandleWebhook() error = %v", err)
		}
		if gw.pollCalls != 1 {
			t.Errorf("gateway polled %d times, want 1", gw.pollCalls)
		}
		if res.Outcome != model.OutcomeConfirmed {
			t.Errorf("outcome = %s", res.Outcome)
		}
	})

	t.Run("unverified payload trusted when configured", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{verify: false}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{TrustUnverifiedWebhooks: true})
		seedAwaiting(t, store)

		res, err := engine.HandleWebhook(context.Background(), payload, "")
		if err != nil {
			t.Fatalf("HandleWebhook() error = %v", err)
		}
		if res.Outcome != model.OutcomeConfirmed || gw.pollCalls != 0 {
			t.Errorf("outcome = %s polls = %d", res.Outcome, gw.pollCalls)
		}
	})

	t.Run("resolves booking via order id when metadata missing", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{verify: true}
		engine, _ := newTestEngine(store, gw, &recordPub{}, EngineConfig{})
		seedAwaiting(t, store)

		noMeta := []byte(`{
			"id": "evnt_2",
			"key": "charge.complete",
			"data": {
				"object": "charge",
				"id": "ord-1",
				"status": "successful",
				"amount": 30000,
				"currency": "usd",
				"transaction": "txn-1",
				"metadata": {}
			}
		}`)
		res, err := engine.HandleWebhook(context.Background(), noMeta, "sig")
		if err != nil {
			t.Fatalf("HandleWebhook() error = %v", err)
		}
		if res.Outcome != model.OutcomeConfirmed {
			t.Errorf("outcome = %s", res.Outcome)
		}
	})

	t.Run("malformed payload rejected", func(t *testing.T) {
		store := newFakeStore()
		engine, _ := newTestEngine(store, &fakeGateway{verify: true}, &recordPub{}, EngineConfig{})

		if _, err := engine.HandleWebhook(context.Background(), []byte(`{`), ""); !errors.Is(err, gateway.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})
}
