package model

import (
	"errors"
	"time"
)

// ErrInvalidDateRange is returned when check-out does not fall after check-in.
var ErrInvalidDateRange = errors.New("check-out must be after check-in")

// DateRange is an immutable check-in/check-out pair.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange validates and constructs a DateRange. Both ends are
// truncated to their UTC calendar date; a stay is booked per night, not
// per clock instant.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s := startOfDay(start)
	e := startOfDay(end)
	if !e.After(s) {
		return DateRange{}, ErrInvalidDateRange
	}
	return DateRange{Start: s, End: e}, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Nights returns the stay length in whole nights, rounding partial days up.
func (d DateRange) Nights() int {
	span := d.End.Sub(d.Start)
	nights := int(span / (24 * time.Hour))
	if span%(24*time.Hour) != 0 {
		nights++
	}
	return nights
}

// Ended reports whether the stay is over at the given instant.
func (d DateRange) Ended(now time.Time) bool {
	return now.After(d.End)
}
