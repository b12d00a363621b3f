package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically expires stale payment holds. It shares the engine's
// per-booking lock path, so a sweep can never race a concurrent
// reconciliation for the same booking. Sweeping is best-effort: one
// booking's failure never halts the rest of the batch.
type Sweeper struct {
	engine   *ReconciliationEngine
	store    Store
	log      *logrus.Logger
	interval time.Duration
	batch    int
}

// NewSweeper constructs a Sweeper.
func NewSweeper(engine *ReconciliationEngine, store Store, log *logrus.Logger, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{engine: engine, store: store, log: log, interval: interval, batch: batch}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("hold-expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("hold-expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires every currently lapsed hold and returns how many
// bookings it transitioned.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	ids, err := s.store.ListExpiredHolds(ctx, time.Now().UTC(), s.batch)
	if err != nil {
		s.log.WithError(err).Error("sweep: listing expired holds failed")
		return 0
	}

	swept := 0
	for _, id := range ids {
		ok, err := s.engine.ExpireHold(ctx, id)
		if err != nil {
			sweepErrorsTotal.Inc()
			s.log.WithError(err).WithField("booking_id", id).Error("sweep: expiring hold failed")
			continue
		}
		if ok {
			swept++
		}
	}
	if swept > 0 {
		s.log.WithField("count", swept).Info("sweep: expired stale holds")
	}
	return swept
}
