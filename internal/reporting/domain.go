package reporting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/tax"
)

var (
	// ErrInvalidRange is returned when a period ends before it starts.
	ErrInvalidRange = errors.New("reporting: period end before start")
	// ErrNotFound is returned when a stored report does not exist.
	ErrNotFound = errors.New("reporting: report not found")
	// ErrInvalidReportType rejects unknown report kinds.
	ErrInvalidReportType = errors.New("reporting: invalid report type")
	// ErrInvalidPreset rejects unknown dashboard period presets.
	ErrInvalidPreset = errors.New("reporting: invalid period preset")
	// ErrReportExists is returned when the monthly snapshot for a period is
	// already stored.
	ErrReportExists = errors.New("reporting: report already exists")
)

const dateLayout = "2006-01-02"

// Range is an inclusive span of calendar dates.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewRange truncates both bounds to dates and rejects end < start.
func NewRange(start, end time.Time) (Range, error) {
	s, e := dateOf(start), dateOf(end)
	if e.Before(s) {
		return Range{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, s.Format(dateLayout), e.Format(dateLayout))
	}
	return Range{Start: s, End: e}, nil
}

// Contains reports whether t falls on a date within the range.
func (r Range) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r Range) String() string {
	return r.Start.Format(dateLayout) + "_" + r.End.Format(dateLayout)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Totals aggregates invoices of a period.
type Totals struct {
	InvoiceCount            int             `json:"invoice_count"`
	TotalSales              decimal.Decimal `json:"total_sales"`
	TotalVAT                decimal.Decimal `json:"total_vat"`
	TotalWithholding        decimal.Decimal `json:"total_withholding"`
	TotalAmount             decimal.Decimal `json:"total_amount"`
	VATTaxableBase          decimal.Decimal `json:"vat_taxable_base"`
	WithholdingTaxableBase  decimal.Decimal `json:"withholding_taxable_base"`
	VATInvoiceCount         int             `json:"vat_invoice_count"`
	WithholdingInvoiceCount int             `json:"withholding_invoice_count"`
}

func zeroTotals() Totals {
	return Totals{
		TotalSales:             decimal.Zero,
		TotalVAT:               decimal.Zero,
		TotalWithholding:       decimal.Zero,
		TotalAmount:            decimal.Zero,
		VATTaxableBase:         decimal.Zero,
		WithholdingTaxableBase: decimal.Zero,
	}
}

// TotalTaxes is VAT plus withholding.
func (t Totals) TotalTaxes() decimal.Decimal {
	return t.TotalVAT.Add(t.TotalWithholding)
}

// Rounded returns the totals rounded to two places for output.
func (t Totals) Rounded() Totals {
	t.TotalSales = tax.Round(t.TotalSales)
	t.TotalVAT = tax.Round(t.TotalVAT)
	t.TotalWithholding = tax.Round(t.TotalWithholding)
	t.TotalAmount = tax.Round(t.TotalAmount)
	t.VATTaxableBase = tax.Round(t.VATTaxableBase)
	t.WithholdingTaxableBase = tax.Round(t.WithholdingTaxableBase)
	return t
}

// ProductLine is one row of the per-product breakdown.
type ProductLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Category  tax.Category    `json:"tax_category"`
	Quantity  decimal.Decimal `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

// MonthRow holds the totals of one calendar month.
type MonthRow struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Label  string `json:"label"`
	Totals Totals `json:"totals"`
}

// CustomerRow ranks customers by billed amount.
type CustomerRow struct {
	Name         string          `json:"name"`
	InvoiceCount int             `json:"invoice_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// DailyRow is one day of the recent activity series.
type DailyRow struct {
	Date         string          `json:"date"`
	InvoiceCount int             `json:"invoice_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	TotalVAT     decimal.Decimal `json:"total_vat"`
}

// InvoiceLine is the per-invoice row shown in reports.
type InvoiceLine struct {
	ID                int64           `json:"id"`
	Number            string          `json:"number"`
	CustomerName      string          `json:"customer_name"`
	InvoiceDate       string          `json:"invoice_date"`
	Cancelled         bool            `json:"cancelled"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	VATAmount         decimal.Decimal `json:"vat_amount"`
	WithholdingAmount decimal.Decimal `json:"withholding_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	TaxableBase       decimal.Decimal `json:"taxable_base"`
}

// PeriodReport is the computed report of a date range.
type PeriodReport struct {
	Range            Range         `json:"range"`
	IncludeCancelled bool          `json:"include_cancelled"`
	Rates            tax.Rates     `json:"rates"`
	Totals           Totals        `json:"totals"`
	Products         []ProductLine `json:"products"`
	Invoices         []InvoiceLine `json:"invoices"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// ReportType classifies a persisted tax report.
type ReportType string

const (
	ReportMonthly   ReportType = "monthly"
	ReportQuarterly ReportType = "quarterly"
	ReportYearly    ReportType = "yearly"
	ReportCustom    ReportType = "custom"
)

// ParseReportType validates a report type name.
func ParseReportType(raw string) (ReportType, error) {
	switch t := ReportType(raw); t {
	case ReportMonthly, ReportQuarterly, ReportYearly, ReportCustom:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReportType, raw)
}

// TaxReport is a persisted snapshot of a period report summary.
type TaxReport struct {
	ID               int64      `json:"id"`
	Type             ReportType `json:"report_type"`
	Range            Range      `json:"range"`
	IncludeCancelled bool       `json:"include_cancelled"`
	Totals           Totals     `json:"totals"`
	GeneratedBy      int64      `json:"generated_by"`
	GeneratedAt      time.Time  `json:"generated_at"`
}

// ReportView pairs a stored report with a recomputation over current data.
type ReportView struct {
	Report  TaxReport    `json:"report"`
	Current PeriodReport `json:"current"`
}

// CategoryReport lists invoices carrying tax of one category.
type CategoryReport struct {
	Category         tax.Category    `json:"tax_category"`
	Range            *Range          `json:"range,omitempty"`
	DefaultRate      decimal.Decimal `json:"default_rate"`
	TotalTax         decimal.Decimal `json:"total_tax"`
	TotalTaxableBase decimal.Decimal `json:"total_taxable_base"`
	Invoices         []InvoiceLine   `json:"invoices"`
}

// Declaration is the yearly tax declaration with its monthly breakdown.
type Declaration struct {
	Year   int        `json:"year"`
	Rates  tax.Rates  `json:"rates"`
	Totals Totals     `json:"totals"`
	Months []MonthRow `json:"months"`
}

// YearlySummary is the annual overview.
type YearlySummary struct {
	Year      int        `json:"year"`
	Totals    Totals     `json:"totals"`
	Months    []MonthRow `json:"months"`
	TopMonths []MonthRow `json:"top_months"`
}

// MonthlySummary is the overview of one month.
type MonthlySummary struct {
	Year         int           `json:"year"`
	Month        int           `json:"month"`
	Label        string        `json:"label"`
	Totals       Totals        `json:"totals"`
	TopCustomers []CustomerRow `json:"top_customers"`
	Invoices     []InvoiceLine `json:"invoices"`
}

// Preset names a dashboard period.
type Preset string

const (
	PresetCurrentMonth   Preset = "current_month"
	PresetLastMonth      Preset = "last_month"
	PresetCurrentQuarter Preset = "current_quarter"
	PresetCurrentYear    Preset = "current_year"
	PresetCustom         Preset = "custom"
)

// Dashboard is the landing overview.
type Dashboard struct {
	Preset        Preset        `json:"preset"`
	Range         Range         `json:"range"`
	Period        Totals        `json:"period"`
	CurrentMonth  Totals        `json:"current_month"`
	CurrentYear   Totals        `json:"current_year"`
	Trailing      []MonthRow    `json:"trailing_months"`
	TopProducts   []ProductLine `json:"top_products"`
	RecentDays    []DailyRow    `json:"recent_days"`
	ProductsCount int           `json:"products_count"`
}
