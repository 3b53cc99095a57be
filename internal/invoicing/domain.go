// Package invoicing owns products, invoices and their line items, and keeps
// invoice totals consistent with the items they contain.
package invoicing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/tax"
)

// Product is a sellable item tagged with exactly one tax category.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	TaxCategory tax.Category    `json:"tax_category"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Customer is the billed party as printed on the invoice.
type Customer struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id,omitempty"`
	Address string `json:"address,omitempty"`
}

// Header groups the editable, non-monetary invoice fields.
type Header struct {
	Customer    Customer   `json:"customer"`
	InvoiceDate time.Time  `json:"invoice_date"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Totals are the four invoice rollups derived from line items.
type Totals struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	VATAmount         decimal.Decimal `json:"vat_amount"`
	WithholdingAmount decimal.Decimal `json:"withholding_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
}

// Invoice is a numbered customer invoice. Totals always reflect Items unless
// the invoice has been cancelled, after which both are frozen.
type Invoice struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	Header      Header     `json:"header"`
	Items       []LineItem `json:"items"`
	Totals      Totals     `json:"totals"`
	Cancelled   bool       `json:"cancelled"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy *int64     `json:"cancelled_by,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProductInput carries the fields accepted when creating or updating a product.
// A nil TaxRate takes the configured default for the category.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	TaxCategory tax.Category
	TaxRate     *decimal.Decimal
	Active      bool
}

// ItemInput describes a line item to add to an invoice. A nil UnitPrice takes
// the product's current price.
type ItemInput struct {
	ProductID       int64
	Quantity        decimal.Decimal
	UnitPrice       *decimal.Decimal
	DiscountPercent decimal.Decimal
}

// CreateInvoiceInput carries the header and optional initial items of a new invoice.
type CreateInvoiceInput struct {
	Header         Header
	Items          []ItemInput
	IdempotencyKey string
}

// ListProductsFilter narrows product listings.
type ListProductsFilter struct {
	Search      string
	TaxCategory tax.Category
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// ListInvoicesFilter narrows invoice listings. Zero dates are open bounds.
type ListInvoicesFilter struct {
	Search           string
	From             time.Time
	To               time.Time
	IncludeCancelled bool
	Limit            int
	Offset           int
}
