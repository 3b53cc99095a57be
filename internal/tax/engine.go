package tax

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRate is returned for rates outside [0,100], or a zero rate
	// passed to the inverse computation.
	ErrInvalidRate = errors.New("tax: invalid rate")
	// ErrNegativeBase is returned when a taxable base is below zero.
	ErrNegativeBase = errors.New("tax: negative taxable base")
	// ErrUnknownCategory is returned for category values outside the closed set.
	ErrUnknownCategory = errors.New("tax: unknown category")
)

var hundred = decimal.NewFromInt(100)

// RateScale is the number of decimal places a stored rate may carry.
const RateScale = 2

// ValidateRate checks that a percentage rate lies within [0,100].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return ErrInvalidRate
	}
	return nil
}

// ValidateStoredRate is ValidateRate plus the RateScale limit that applies to
// rates kept on products, line items and settings.
func ValidateStoredRate(rate decimal.Decimal) error {
	if err := ValidateRate(rate); err != nil {
		return err
	}
	if !HasScale(rate, RateScale) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidRate, RateScale)
	}
	return nil
}

// HasScale reports whether d has at most places decimal digits.
func HasScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// TaxAmount computes base × rate / 100 at full precision.
func TaxAmount(base, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateRate(ratePercent); err != nil {
		return decimal.Zero, err
	}
	if base.IsNegative() {
		return decimal.Zero, ErrNegativeBase
	}
	return base.Mul(ratePercent).Div(hundred), nil
}

// TaxableBaseFromTax recovers the pre-tax base that produces taxAmount at
// ratePercent. The result is exact only when every contributing line used
// ratePercent; with mixed effective rates inside one category it is an
// approximation.
func TaxableBaseFromTax(taxAmount, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	if !ratePercent.IsPositive() || ratePercent.GreaterThan(hundred) {
		return decimal.Zero, ErrInvalidRate
	}
	return taxAmount.Div(ratePercent.Div(hundred)), nil
}

// Round rounds an amount to two decimal places for display and reporting.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
