package invoicing

import (
	"errors"

	"github.com/taxdesk/taxdesk/internal/tax"
)

var (
	// ErrNotFound indicates the invoice or product does not exist.
	ErrNotFound = errors.New("invoicing: not found")
	// ErrInvalidProduct is returned when a line references an inactive or missing product.
	ErrInvalidProduct = errors.New("invoicing: invalid product")
	// ErrInvoiceLocked is returned for any mutation of a cancelled invoice.
	ErrInvoiceLocked = errors.New("invoicing: invoice is cancelled")
	// ErrItemNotFound is returned when an item is absent or belongs to another invoice.
	ErrItemNotFound = errors.New("invoicing: line item not found")
	// ErrInvalidQuantity rejects non-positive quantities or more than three decimals.
	ErrInvalidQuantity = errors.New("invoicing: quantity must be positive with at most 3 decimals")
	// ErrInvalidPrice rejects negative prices or more than two decimals.
	ErrInvalidPrice = errors.New("invoicing: price must be non-negative with at most 2 decimals")
	// ErrInvalidDiscount rejects discounts outside [0, 100] or finer than 0.01.
	ErrInvalidDiscount = errors.New("invoicing: discount must be between 0 and 100 with at most 2 decimals")
	// ErrInvalidHeader rejects headers without a customer name or invoice date.
	ErrInvalidHeader = errors.New("invoicing: customer name and invoice date are required")
	// ErrProductInUse prevents deleting products referenced by line items.
	ErrProductInUse = errors.New("invoicing: product is referenced by invoice items")
	// ErrDuplicateNumber is returned when the invoice number is already taken.
	ErrDuplicateNumber = errors.New("invoicing: duplicate invoice number")
	// ErrDuplicateRequest is returned when an idempotency key was already used.
	ErrDuplicateRequest = errors.New("invoicing: request already processed")

	// ErrInvalidRate is re-exported so callers can match rate failures without importing tax.
	ErrInvalidRate = tax.ErrInvalidRate
)
