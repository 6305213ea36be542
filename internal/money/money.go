package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// minorScale is the number of decimal places between major and minor units.
const minorScale = 2

var (
	// ErrPrecision occurs when a decimal amount carries more precision than a
	// minor unit can represent.
	ErrPrecision = errors.New("amount has sub-minor-unit precision")

	// ErrNotPositive occurs when an operation requires a strictly positive amount.
	ErrNotPositive = errors.New("amount must be positive")
)

// Money is a currency amount in integer minor units (e.g. cents). All
// arithmetic stays in minor units; conversion to major units happens only at
// presentation boundaries via Decimal or String.
type Money int64

// FromDecimal converts a major-unit decimal amount into minor units. It
// rejects values that would lose precision when scaled.
func FromDecimal(d decimal.Decimal) (Money, error) {
	scaled := d.Shift(minorScale)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	return Money(scaled.IntPart()), nil
}

// FromMinorUnits wraps a raw minor-unit integer.
func FromMinorUnits(v int64) Money {
	return Money(v)
}

// Decimal renders the amount in major units for display.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -minorScale)
}

// MinorUnits returns the raw integer value.
func (m Money) MinorUnits() int64 {
	return int64(m)
}

func (m Money) Add(other Money) Money { return m + other }

func (m Money) Sub(other Money) Money { return m - other }

// Neg returns the additive inverse, used when recording debits.
func (m Money) Neg() Money { return -m }

func (m Money) IsPositive() bool { return m > 0 }

func (m Money) IsNegative() bool { return m < 0 }

// Split divides the amount into n parts whose sum equals m exactly. The first
// remainder parts carry one extra minor unit.
func (m Money) Split(n int) ([]Money, error) {
	if n <= 0 {
		return nil, fmt.Errorf("split count must be positive, got %d", n)
	}
	if m < 0 {
		return nil, fmt.Errorf("cannot split negative amount %d", m)
	}
	base := int64(m) / int64(n)
	remainder := int64(m) - base*int64(n)
	parts := make([]Money, n)
	for i := range parts {
		parts[i] = Money(base)
		if int64(i) < remainder {
			parts[i]++
		}
	}
	return parts, nil
}

// String formats the amount in major units, e.g. "1234.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(minorScale)
}
