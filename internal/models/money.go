package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places a money amount may carry
const MoneyScale = 2

// MaxAmount is the exclusive upper bound on the magnitude of any money amount
var MaxAmount = decimal.New(1, 15)

// A decimal's exponent and coefficient are bounded before any arithmetic so that
// comparing or adding an amount never rescales to an arbitrarily large big.Int.
const (
	maxCoefficientBits = 128
	minExponent        = -18
	maxExponent        = 15
)

// ErrAmountOutOfRange reports a money value that is too large or too precise.
// It is wrapped together with the caller's invalid-amount sentinel.
var ErrAmountOutOfRange = errors.New("amount out of range")

// ValidateAmount checks that |d| < MaxAmount and that d has at most MoneyScale
// decimal places. The sign is not checked.
func ValidateAmount(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp < minExponent || exp > maxExponent || d.Coefficient().BitLen() > maxCoefficientBits {
		return fmt.Errorf("%w: %d-bit coefficient, exponent %d", ErrAmountOutOfRange, d.Coefficient().BitLen(), exp)
	}
	if d.Abs().GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: %s is not below %s", ErrAmountOutOfRange, d, MaxAmount)
	}
	if !d.Equal(d.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrAmountOutOfRange, d, MoneyScale)
	}
	return nil
}
