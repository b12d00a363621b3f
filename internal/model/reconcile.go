package model

import (
	"fmt"
	"time"
)

// SettlementStatus is the gateway's view of an order.
type SettlementStatus string

const (
	SettlementCompleted SettlementStatus = "COMPLETED"
	SettlementPending   SettlementStatus = "PENDING"
	SettlementFailed    SettlementStatus = "FAILED"
)

// ParseSettlementStatus validates a persisted settlement status string.
func ParseSettlementStatus(s string) (SettlementStatus, error) {
	switch st := SettlementStatus(s); st {
	case SettlementCompleted, SettlementPending, SettlementFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown settlement status %q", ErrDataCorruption, s)
}

// ReconciliationEvent is one observation of gateway ground truth, regardless
// of whether it arrived via webhook, client poll, or scheduled poll. Two
// events with the same SourceEventID, or carrying the same (booking,
// transaction) pair, produce at most one state transition.
type ReconciliationEvent struct {
	SourceEventID string           `json:"source_event_id"`
	BookingID     string           `json:"booking_id"`
	Status        SettlementStatus `json:"status"`
	Amount        Money            `json:"amount"`
	TransactionID string           `json:"transaction_id"`
	OccurredAt    time.Time        `json:"occurred_at"`
	// Trigger records which path delivered the event: "webhook", "poll".
	Trigger string `json:"trigger"`
}

// ReconcileOutcome is what the engine decided for one event.
type ReconcileOutcome string

const (
	OutcomeAlreadyConfirmed ReconcileOutcome = "ALREADY_CONFIRMED"
	OutcomePending          ReconcileOutcome = "PENDING"
	OutcomeFailed           ReconcileOutcome = "FAILED"
	OutcomeConfirmed        ReconcileOutcome = "CONFIRMED"
	OutcomePartiallyPaid    ReconcileOutcome = "PARTIALLY_PAID"
	OutcomeExpired          ReconcileOutcome = "EXPIRED"
	OutcomeLateSettlement   ReconcileOutcome = "LATE_SETTLEMENT"
	OutcomeIgnored          ReconcileOutcome = "IGNORED"
)

// ParseReconcileOutcome validates a persisted outcome string.
func ParseReconcileOutcome(s string) (ReconcileOutcome, error) {
	switch o := ReconcileOutcome(s); o {
	case OutcomeAlreadyConfirmed, OutcomePending, OutcomeFailed, OutcomeConfirmed,
		OutcomePartiallyPaid, OutcomeExpired, OutcomeLateSettlement, OutcomeIgnored:
		return o, nil
	}
	return "", fmt.Errorf("%w: unknown reconcile outcome %q", ErrDataCorruption, s)
}

// ReconcileResult is returned to every reconciliation trigger. Replayed is
// true when the event had already been processed and the cached outcome was
// returned without side effects.
type ReconcileResult struct {
	Outcome  ReconcileOutcome `json:"outcome"`
	Replayed bool             `json:"replayed"`
	Booking  *Booking         `json:"booking,omitempty"`
}
