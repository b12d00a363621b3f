package model

import "errors"

// Domain errors shared across the booking aggregate and its callers.
var (
	// ErrInvalidTransition is returned when a booking is asked to move to a
	// state its current status does not permit.
	ErrInvalidTransition = errors.New("invalid booking state transition")

	// ErrOverpaymentRejected is returned when applying a settlement would push
	// the amount paid past the booking total. State is left unchanged.
	ErrOverpaymentRejected = errors.New("payment would exceed booking total")

	// ErrEmptyReason is returned for reject/cancel calls without a reason.
	ErrEmptyReason = errors.New("a reason is required")

	// ErrInvalidGuestCount is returned when guest count is below one.
	ErrInvalidGuestCount = errors.New("guest count must be at least 1")

	// ErrDataCorruption is returned when a persisted status string does not
	// map to a known enum value. Unknown values never pass through.
	ErrDataCorruption = errors.New("persisted data failed validation")
)
