package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stayhaven/booking-engine/internal/gateway"
	"github.com/stayhaven/booking-engine/internal/model"
	"github.com/stayhaven/booking-engine/internal/repository"
)

// fakeStore is an in-memory Store. It mirrors the repository's concurrency
// contract: writers of one booking serialize on a per-booking mutex, and the
// booking update and ledger append happen under the same lock.
type fakeStore struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	locks    map[string]*sync.Mutex
	ledger   map[ledgerKey]ledgerEntry
	audits   []string
}

type ledgerKey struct {
	bookingID string
	eventID   string
}

type ledgerEntry struct {
	outcome       model.ReconcileOutcome
	transactionID string
	status        model.SettlementStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bookings: make(map[string]*model.Booking),
		locks:    make(map[string]*sync.Mutex),
		ledger:   make(map[ledgerKey]ledgerEntry),
	}
}

func (s *fakeStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[id] == nil {
		s.locks[id] = &sync.Mutex{}
	}
	return s.locks[id]
}

func clone(b *model.Booking) *model.Booking {
	c := *b
	for _, ts := range []**time.Time{&c.ConfirmedAt, &c.HoldExpiresAt, &c.CancelledAt, &c.RefundedAt, &c.CompletedAt} {
		if *ts != nil {
			v := **ts
			*ts = &v
		}
	}
	return &c
}

func (s *fakeStore) Create(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = clone(b)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(b), nil
}

func (s *fakeStore) GetByOrderID(_ context.Context, orderID string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.PaymentOrderID == orderID && orderID != "" {
			return clone(b), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) ListByGuest(_ context.Context, guestID string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.GuestID == guestID {
			out = append(out, *clone(b))
		}
	}
	return out, nil
}

func (s *fakeStore) ListByHost(_ context.Context, hostID string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.HostID == hostID {
			out = append(out, *clone(b))
		}
	}
	return out, nil
}

func (s *fakeStore) Mutate(ctx context.Context, id string, fn func(b *model.Booking) error) (*model.Booking, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	b, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(b); err != nil {
		return nil, err
	}
	b.Version++
	s.mu.Lock()
	s.bookings[id] = clone(b)
	s.mu.Unlock()
	return b, nil
}

func (s *fakeStore) ReconcileEvent(ctx context.Context, bookingID string, ev model.ReconciliationEvent, fn func(b *model.Booking) (model.ReconcileOutcome, error)) (model.ReconcileResult, error) {
	lock := s.lockFor(bookingID)
	lock.Lock()
	defer lock.Unlock()

	b, err := s.GetByID(ctx, bookingID)
	if err != nil {
		return model.ReconcileResult{}, err
	}

	s.mu.Lock()
	if entry, ok := s.ledger[ledgerKey{bookingID, ev.SourceEventID}]; ok {
		s.mu.Unlock()
		return model.ReconcileResult{Outcome: entry.outcome, Replayed: true, Booking: b}, nil
	}
	if ev.Status == model.SettlementCompleted && ev.TransactionID != "" {
		for k, entry := range s.ledger {
			if k.bookingID == bookingID && entry.transactionID == ev.TransactionID && entry.status == model.SettlementCompleted {
				s.ledger[ledgerKey{bookingID, ev.SourceEventID}] = entry
				s.mu.Unlock()
				return model.ReconcileResult{Outcome: entry.outcome, Replayed: true, Booking: b}, nil
			}
		}
	}
	s.mu.Unlock()

	outcome, err := fn(b)
	if err != nil {
		return model.ReconcileResult{}, err
	}
	b.Version++
	s.mu.Lock()
	s.bookings[bookingID] = clone(b)
	s.ledger[ledgerKey{bookingID, ev.SourceEventID}] = ledgerEntry{
		outcome:       outcome,
		transactionID: ev.TransactionID,
		status:        ev.Status,
	}
	s.mu.Unlock()
	return model.ReconcileResult{Outcome: outcome, Replayed: false, Booking: b}, nil
}

func (s *fakeStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, b := range s.bookings {
		if b.Status == model.StatusAwaitingPayment && b.HoldLapsed(now) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.bookings, id)
	return nil
}

func (s *fakeStore) AppendAudit(_ context.Context, bookingID, actor, action, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, bookingID+"/"+actor+"/"+action)
	return nil
}

// fakeGateway returns scripted responses and counts calls.
type fakeGateway struct {
	mu          sync.Mutex
	order       gateway.Order
	createErr   error
	settlement  gateway.Settlement
	pollErr     error
	verify      bool
	createCalls int
	pollCalls   int
}

func (g *fakeGateway) CreateOrder(_ context.Context, bookingID string, amount model.Money, customer gateway.Customer) (gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return gateway.Order{}, g.createErr
	}
	return g.order, nil
}

func (g *fakeGateway) PollStatus(_ context.Context, orderID string) (gateway.Settlement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pollCalls++
	if g.pollErr != nil {
		return gateway.Settlement{}, g.pollErr
	}
	return g.settlement, nil
}

func (g *fakeGateway) VerifyWebhookSignature([]byte, string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verify
}

// recordPub collects published routing keys.
type recordPub struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordPub) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, key)
	return nil
}

func (p *recordPub) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// fakeProps serves one scripted property.
type fakeProps struct {
	prop Property
	err  error
}

func (f *fakeProps) Lookup(context.Context, string) (Property, error) {
	if f.err != nil {
		return Property{}, f.err
	}
	return f.prop, nil
}

// fakeIDs serves one scripted payer identity.
type fakeIDs struct {
	customer gateway.Customer
	err      error
}

func (f *fakeIDs) Lookup(context.Context, string) (gateway.Customer, error) {
	if f.err != nil {
		return gateway.Customer{}, f.err
	}
	return f.customer, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
