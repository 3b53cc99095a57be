package settings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/tax"
)

// ErrInvalidSettings reports a settings update that failed validation.
var ErrInvalidSettings = errors.New("settings: invalid value")

// Stored keys in system_settings.
const (
	KeyVATRate            = "default_vat_rate"
	KeyWithholdingRate    = "default_withholding_rate"
	KeyInvoicePrefix      = "invoice_prefix"
	KeyInvoiceStartNumber = "invoice_start_number"
	KeyCompanyName        = "company_name"
	KeyCompanyAddress     = "company_address"
	KeyCompanyTaxID       = "company_tax_id"
)

// Company identifies the issuing business on invoices and exports.
type Company struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	TaxID   string `json:"tax_id"`
}

// Settings is an immutable snapshot of the runtime configuration.
type Settings struct {
	Company            Company   `json:"company"`
	Rates              tax.Rates `json:"rates"`
	InvoicePrefix      string    `json:"invoice_prefix"`
	InvoiceStartNumber int64     `json:"invoice_start_number"`
}

// Validate checks the snapshot can drive numbering and reporting. Default
// rates must be positive since reports invert them.
func (s Settings) Validate() error {
	if err := s.Rates.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if !s.Rates.VAT.IsPositive() || !s.Rates.Withholding.IsPositive() {
		return fmt.Errorf("%w: default rates must be greater than zero", ErrInvalidSettings)
	}
	if strings.TrimSpace(s.InvoicePrefix) == "" {
		return fmt.Errorf("%w: invoice prefix required", ErrInvalidSettings)
	}
	if strings.ContainsAny(s.InvoicePrefix, " /") {
		return fmt.Errorf("%w: invoice prefix %q contains spaces or slashes", ErrInvalidSettings, s.InvoicePrefix)
	}
	if s.InvoiceStartNumber < 1 {
		return fmt.Errorf("%w: invoice start number must be at least 1", ErrInvalidSettings)
	}
	return nil
}

func (s Settings) values() map[string]string {
	return map[string]string{
		KeyVATRate:            s.Rates.VAT.StringFixed(2),
		KeyWithholdingRate:    s.Rates.Withholding.StringFixed(2),
		KeyInvoicePrefix:      s.InvoicePrefix,
		KeyInvoiceStartNumber: fmt.Sprint(s.InvoiceStartNumber),
		KeyCompanyName:        s.Company.Name,
		KeyCompanyAddress:     s.Company.Address,
		KeyCompanyTaxID:       s.Company.TaxID,
	}
}

// parseRate is lenient with stored values written by hand.
func parseRate(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%")))
}
