package invoicing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/tax"
)

var hundred = decimal.NewFromInt(100)

const (
	quantityScale = 3
	moneyScale    = 2
	discountScale = 2
)

// LineItem is one product sold on an invoice. Price, category and rate are
// copied from the product when the line is created.
type LineItem struct {
	ID              int64           `json:"id"`
	InvoiceID       int64           `json:"invoice_id"`
	ProductID       int64           `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Category        tax.Category    `json:"tax_category"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// NewLineItem validates the inputs and snapshots the product onto a new line.
func NewLineItem(product Product, quantity, unitPrice, discountPercent decimal.Decimal) (LineItem, error) {
	if product.ID == 0 || !product.Active {
		return LineItem{}, fmt.Errorf("product %d: %w", product.ID, ErrInvalidProduct)
	}
	if !product.TaxCategory.Valid() {
		return LineItem{}, fmt.Errorf("product %d category %q: %w", product.ID, product.TaxCategory, tax.ErrUnknownCategory)
	}
	if err := tax.ValidateStoredRate(product.TaxRate); err != nil {
		return LineItem{}, fmt.Errorf("product %d: %w", product.ID, err)
	}
	item := LineItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Category:    product.TaxCategory,
		TaxRate:     product.TaxRate,
	}
	if err := item.set(quantity, unitPrice, discountPercent); err != nil {
		return LineItem{}, err
	}
	return item, nil
}

func (li *LineItem) set(quantity, unitPrice, discountPercent decimal.Decimal) error {
	if err := validateAmounts(quantity, unitPrice, discountPercent); err != nil {
		return err
	}
	li.Quantity = quantity
	li.UnitPrice = unitPrice
	li.DiscountPercent = discountPercent
	return nil
}

func validateAmounts(quantity, unitPrice, discountPercent decimal.Decimal) error {
	if !quantity.IsPositive() || !tax.HasScale(quantity, quantityScale) {
		return fmt.Errorf("quantity %s: %w", quantity, ErrInvalidQuantity)
	}
	if err := validatePrice(unitPrice); err != nil {
		return fmt.Errorf("unit %w", err)
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) || !tax.HasScale(discountPercent, discountScale) {
		return fmt.Errorf("discount %s: %w", discountPercent, ErrInvalidDiscount)
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() || !tax.HasScale(price, moneyScale) {
		return fmt.Errorf("price %s: %w", price, ErrInvalidPrice)
	}
	return nil
}

// LineTotal is quantity × unit price × (1 − discount/100), unrounded.
func (li LineItem) LineTotal() decimal.Decimal {
	gross := li.Quantity.Mul(li.UnitPrice)
	if li.DiscountPercent.IsZero() {
		return gross
	}
	return gross.Mul(hundred.Sub(li.DiscountPercent)).Div(hundred)
}

// TaxContribution returns the line's category and the tax it adds to that category.
func (li LineItem) TaxContribution() (tax.Category, decimal.Decimal, error) {
	if !li.Category.Valid() {
		return li.Category, decimal.Zero, fmt.Errorf("item %d category %q: %w", li.ID, li.Category, tax.ErrUnknownCategory)
	}
	amount, err := tax.TaxAmount(li.LineTotal(), li.TaxRate)
	if err != nil {
		return li.Category, decimal.Zero, fmt.Errorf("item %d: %w", li.ID, err)
	}
	return li.Category, amount, nil
}
