package tax

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// DefaultVATRate is the statutory VAT rate in percent.
	DefaultVATRate = decimal.RequireFromString("14.00")
	// DefaultWithholdingRate is the statutory withholding rate in percent.
	DefaultWithholdingRate = decimal.RequireFromString("5.00")
)

// Rates is an immutable snapshot of the category default rates, in percent.
// Callers build it once per operation and pass it down explicitly.
type Rates struct {
	VAT         decimal.Decimal `json:"vat"`
	Withholding decimal.Decimal `json:"withholding"`
}

// DefaultRates returns the statutory defaults (14% / 5%).
func DefaultRates() Rates {
	return Rates{VAT: DefaultVATRate, Withholding: DefaultWithholdingRate}
}

// For returns the default rate configured for the category.
func (r Rates) For(c Category) (decimal.Decimal, error) {
	switch c {
	case CategoryVAT:
		return r.VAT, nil
	case CategoryWithholding:
		return r.Withholding, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
}

// Validate checks both rates lie within [0,100] with at most two decimals.
func (r Rates) Validate() error {
	if err := ValidateStoredRate(r.VAT); err != nil {
		return fmt.Errorf("vat rate: %w", err)
	}
	if err := ValidateStoredRate(r.Withholding); err != nil {
		return fmt.Errorf("withholding rate: %w", err)
	}
	return nil
}
