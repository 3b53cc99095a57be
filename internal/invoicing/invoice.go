package invoicing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/tax"
)

// Locked reports whether the invoice rejects further mutation.
func (inv *Invoice) Locked() bool {
	return inv.Cancelled
}

// AddItem appends the item and recomputes totals. On failure the invoice is left untouched.
func (inv *Invoice) AddItem(item LineItem) error {
	if inv.Locked() {
		return fmt.Errorf("invoice %s: %w", inv.Number, ErrInvoiceLocked)
	}
	item.InvoiceID = inv.ID
	inv.Items = append(inv.Items, item)
	if err := inv.Recompute(); err != nil {
		inv.Items = inv.Items[:len(inv.Items)-1]
		return err
	}
	return nil
}

// RemoveItem drops the item with itemID and recomputes totals.
func (inv *Invoice) RemoveItem(itemID int64) error {
	if inv.Locked() {
		return fmt.Errorf("invoice %s: %w", inv.Number, ErrInvoiceLocked)
	}
	idx := inv.itemIndex(itemID)
	if idx < 0 {
		return fmt.Errorf("item %d on invoice %s: %w", itemID, inv.Number, ErrItemNotFound)
	}
	previous := inv.Items
	items := make([]LineItem, 0, len(inv.Items)-1)
	items = append(items, inv.Items[:idx]...)
	items = append(items, inv.Items[idx+1:]...)
	inv.Items = items
	if err := inv.Recompute(); err != nil {
		inv.Items = previous
		return err
	}
	return nil
}

// UpdateItem changes quantity, price and discount of an existing item and recomputes totals.
func (inv *Invoice) UpdateItem(itemID int64, quantity, unitPrice, discountPercent decimal.Decimal) error {
	if inv.Locked() {
		return fmt.Errorf("invoice %s: %w", inv.Number, ErrInvoiceLocked)
	}
	idx := inv.itemIndex(itemID)
	if idx < 0 {
		return fmt.Errorf("item %d on invoice %s: %w", itemID, inv.Number, ErrItemNotFound)
	}
	previous := inv.Items[idx]
	if err := inv.Items[idx].set(quantity, unitPrice, discountPercent); err != nil {
		return err
	}
	if err := inv.Recompute(); err != nil {
		inv.Items[idx] = previous
		return err
	}
	return nil
}

// Item returns a copy of the item with itemID.
func (inv *Invoice) Item(itemID int64) (LineItem, bool) {
	idx := inv.itemIndex(itemID)
	if idx < 0 {
		return LineItem{}, false
	}
	return inv.Items[idx], true
}

func (inv *Invoice) itemIndex(itemID int64) int {
	for i, item := range inv.Items {
		if item.ID == itemID && item.InvoiceID == inv.ID {
			return i
		}
	}
	return -1
}

// Recompute rebuilds the four rollups from the current items. Totals are only
// replaced when every item computes cleanly.
func (inv *Invoice) Recompute() error {
	if inv.Locked() {
		return fmt.Errorf("invoice %s: %w", inv.Number, ErrInvoiceLocked)
	}
	totals, err := ComputeTotals(inv.Items)
	if err != nil {
		return fmt.Errorf("recompute invoice %s: %w", inv.Number, err)
	}
	inv.Totals = totals
	return nil
}

// ComputeTotals sums line totals and per-category tax across items.
func ComputeTotals(items []LineItem) (Totals, error) {
	totals := Totals{
		Subtotal:          decimal.Zero,
		VATAmount:         decimal.Zero,
		WithholdingAmount: decimal.Zero,
	}
	for _, item := range items {
		category, amount, err := item.TaxContribution()
		if err != nil {
			return Totals{}, err
		}
		totals.Subtotal = totals.Subtotal.Add(item.LineTotal())
		switch category {
		case tax.CategoryVAT:
			totals.VATAmount = totals.VATAmount.Add(amount)
		case tax.CategoryWithholding:
			totals.WithholdingAmount = totals.WithholdingAmount.Add(amount)
		default:
			return Totals{}, fmt.Errorf("item %d category %q: %w", item.ID, category, tax.ErrUnknownCategory)
		}
	}
	totals.TotalAmount = totals.Subtotal.Add(totals.VATAmount).Add(totals.WithholdingAmount)
	return totals, nil
}

// Cancel marks the invoice cancelled by actorID. It returns false without
// changing anything when the invoice was already cancelled.
func (inv *Invoice) Cancel(actorID int64, at time.Time) bool {
	if inv.Cancelled {
		return false
	}
	inv.Cancelled = true
	inv.CancelledAt = &at
	inv.CancelledBy = &actorID
	return true
}

// UpdateHeader replaces customer, dates and notes.
func (inv *Invoice) UpdateHeader(header Header) error {
	if inv.Locked() {
		return fmt.Errorf("invoice %s: %w", inv.Number, ErrInvoiceLocked)
	}
	if err := header.Validate(); err != nil {
		return err
	}
	inv.Header = header
	return nil
}

// Validate checks the mandatory header fields.
func (h Header) Validate() error {
	if strings.TrimSpace(h.Customer.Name) == "" || h.InvoiceDate.IsZero() {
		return ErrInvalidHeader
	}
	if h.DueDate != nil && h.DueDate.Before(h.InvoiceDate) {
		return fmt.Errorf("%w: due date before invoice date", ErrInvalidHeader)
	}
	return nil
}
