package model

import (
	"fmt"
	"time"
)

// PolicyTier identifies a cancellation policy family.
type PolicyTier string

const (
	PolicyFlexible PolicyTier = "FLEXIBLE"
	PolicyModerate PolicyTier = "MODERATE"
	PolicyFixed    PolicyTier = "FIXED"
)

// ParsePolicyTier validates a persisted tier string.
func ParsePolicyTier(s string) (PolicyTier, error) {
	switch t := PolicyTier(s); t {
	case PolicyFlexible, PolicyModerate, PolicyFixed:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown policy tier %q", ErrDataCorruption, s)
}

// CancellationPolicy maps time-to-check-in to a refund percentage.
// It is pure configuration: no mutable state, no I/O.
type CancellationPolicy struct {
	Tier PolicyTier `json:"tier"`
	// FreeCancelWindow is how far ahead of check-in a cancellation still
	// refunds 100%. Hours for FLEXIBLE, whole days for MODERATE/FIXED.
	FreeCancelWindow time.Duration `json:"free_cancel_window"`
	// FloorPercent is the refund percentage once the free window has closed.
	FloorPercent int `json:"floor_percent"`
}

// NewFlexiblePolicy builds a FLEXIBLE policy with an hour-based free window.
func NewFlexiblePolicy(freeCancelHours, floorPercent int) CancellationPolicy {
	return CancellationPolicy{
		Tier:             PolicyFlexible,
		FreeCancelWindow: time.Duration(freeCancelHours) * time.Hour,
		FloorPercent:     clampPercent(floorPercent),
	}
}

// NewModeratePolicy builds a MODERATE policy with a day-based free window.
func NewModeratePolicy(freeCancelDays, floorPercent int) CancellationPolicy {
	return CancellationPolicy{
		Tier:             PolicyModerate,
		FreeCancelWindow: time.Duration(freeCancelDays) * 24 * time.Hour,
		FloorPercent:     clampPercent(floorPercent),
	}
}

// NewFixedPolicy builds a FIXED policy with a day-based free window.
func NewFixedPolicy(freeCancelDays, floorPercent int) CancellationPolicy {
	return CancellationPolicy{
		Tier:             PolicyFixed,
		FreeCancelWindow: time.Duration(freeCancelDays) * 24 * time.Hour,
		FloorPercent:     clampPercent(floorPercent),
	}
}

// RefundFor returns the refund owed for cancelling at the given instant.
// Deterministic for identical inputs; refund amounts must be auditable.
func (p CancellationPolicy) RefundFor(now, checkIn time.Time, total Money) (Money, int) {
	deadline := checkIn.Add(-p.FreeCancelWindow)
	if !now.After(deadline) {
		return total, 100
	}
	return total.Percent(p.FloorPercent), p.FloorPercent
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
