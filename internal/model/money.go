package model

import (
	"errors"
	"fmt"
)

// Money-related errors.
var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrInvalidCurrency  = errors.New("currency must be a 3-letter ISO 4217 code")
)

// Money is an immutable amount expressed in the currency's minor unit
// (cents, satang, ...). Integer arithmetic avoids the floating-point rounding
// problems that matter when reconciling against a payment gateway.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// NewMoney validates and constructs a Money value.
func NewMoney(amountMinor int64, currency string) (Money, error) {
	if amountMinor < 0 {
		return Money{}, ErrNegativeAmount
	}
	if !validCurrency(currency) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return Money{AmountMinor: amountMinor, Currency: currency}, nil
}

// MustMoney constructs a Money value and panics on invalid input.
// Intended for package-level fixtures and tests.
func MustMoney(amountMinor int64, currency string) Money {
	m, err := NewMoney(amountMinor, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Zero returns a zero-amount Money in the same currency.
func (m Money) Zero() Money {
	return Money{AmountMinor: 0, Currency: m.Currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// Add returns m + o. Both operands must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + o.AmountMinor, Currency: m.Currency}, nil
}

// Sub returns m - o. Fails if the currencies differ or the result would be
// negative.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	if o.AmountMinor > m.AmountMinor {
		return Money{}, ErrNegativeAmount
	}
	return Money{AmountMinor: m.AmountMinor - o.AmountMinor, Currency: m.Currency}, nil
}

// MulNights returns the amount multiplied by a night count.
func (m Money) MulNights(nights int) Money {
	return Money{AmountMinor: m.AmountMinor * int64(nights), Currency: m.Currency}
}

// Percent returns pct% of the amount, truncated toward zero.
func (m Money) Percent(pct int) Money {
	return Money{AmountMinor: m.AmountMinor * int64(pct) / 100, Currency: m.Currency}
}

// Scale returns the amount multiplied by a fractional rate (e.g. a platform
// take rate of 0.85), truncated toward zero.
func (m Money) Scale(rate float64) Money {
	return Money{AmountMinor: int64(float64(m.AmountMinor) * rate), Currency: m.Currency}
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(o Money) bool {
	return m.AmountMinor == o.AmountMinor && m.Currency == o.Currency
}

// LessThan reports m < o. Panics are avoided: mismatched currencies compare false.
func (m Money) LessThan(o Money) bool {
	return m.Currency == o.Currency && m.AmountMinor < o.AmountMinor
}

// String renders the amount in minor units, e.g. "USD 30000".
func (m Money) String() string {
	return fmt.Sprintf("%s %d", m.Currency, m.AmountMinor)
}
