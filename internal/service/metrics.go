package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_reconciliations_total",
		Help: "Reconciliation events processed, by trigger and outcome",
	}, []string{"trigger", "outcome", "replayed"})

	holdsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_holds_expired_total",
		Help: "Payment holds transitioned to EXPIRED",
	})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_sweep_errors_total",
		Help: "Per-booking failures during hold-expiry sweeps",
	})

	gatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_gateway_errors_total",
		Help: "Payment gateway call failures, by operation",
	}, []string{"op"})

	lateSettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_late_settlements_total",
		Help: "COMPLETED settlements that arrived after hold expiry (manual refund queue)",
	})
)
