package invoicing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/tax"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func widget() Product {
	return Product{ID: 1, Name: "Widget", Price: dec("100.00"), TaxCategory: tax.CategoryVAT, TaxRate: dec("14"), Active: true}
}

func consulting() Product {
	return Product{ID: 2, Name: "Service", Price: dec("50.00"), TaxCategory: tax.CategoryWithholding, TaxRate: dec("5"), Active: true}
}

func TestNewLineItemComputesTotals(t *testing.T) {
	item, err := NewLineItem(widget(), dec("2"), dec("100.00"), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, "200.00", item.LineTotal().StringFixed(2))
	category, amount, err := item.TaxContribution()
	require.NoError(t, err)
	assert.Equal(t, tax.CategoryVAT, category)
	assert.Equal(t, "28.00", amount.StringFixed(2))
}

func TestLineTotalAppliesDiscount(t *testing.T) {
	item, err := NewLineItem(widget(), dec("1.5"), dec("80"), dec("12.5"))
	require.NoError(t, err)

	// 1.5 × 80 × 0.875
	assert.True(t, item.LineTotal().Equal(dec("105")), item.LineTotal().String())
	_, amount, err := item.TaxContribution()
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("14.7")), amount.String())
}

func TestLineItemSnapshotsProduct(t *testing.T) {
	p := widget()
	item, err := NewLineItem(p, dec("1"), p.Price, decimal.Zero)
	require.NoError(t, err)

	p.Price = dec("999")
	p.TaxRate = dec("50")
	assert.Equal(t, "100.00", item.UnitPrice.StringFixed(2))
	assert.Equal(t, "14.00", item.TaxRate.StringFixed(2))
	assert.Equal(t, "Widget", item.ProductName)
}

func TestNewLineItemValidation(t *testing.T) {
	inactive := widget()
	inactive.Active = false
	badRate := widget()
	badRate.TaxRate = dec("120")
	preciseRate := widget()
	preciseRate.TaxRate = dec("14.125")
	badCategory := widget()
	badCategory.TaxCategory = tax.Category("excise")

	tests := []struct {
		name     string
		product  Product
		qty      string
		price    string
		discount string
		want     error
	}{
		{name: "inactive product", product: inactive, qty: "1", price: "1", discount: "0", want: ErrInvalidProduct},
		{name: "missing product", product: Product{}, qty: "1", price: "1", discount: "0", want: ErrInvalidProduct},
		{name: "rate out of range", product: badRate, qty: "1", price: "1", discount: "0", want: tax.ErrInvalidRate},
		{name: "unknown category", product: badCategory, qty: "1", price: "1", discount: "0", want: tax.ErrUnknownCategory},
		{name: "zero quantity", product: widget(), qty: "0", price: "1", discount: "0", want: ErrInvalidQuantity},
		{name: "negative quantity", product: widget(), qty: "-1", price: "1", discount: "0", want: ErrInvalidQuantity},
		{name: "too precise quantity", product: widget(), qty: "1.0005", price: "1", discount: "0", want: ErrInvalidQuantity},
		{name: "negative price", product: widget(), qty: "1", price: "-0.01", discount: "0", want: ErrInvalidPrice},
		{name: "too precise price", product: widget(), qty: "1", price: "10.555", discount: "0", want: ErrInvalidPrice},
		{name: "too precise rate", product: preciseRate, qty: "1", price: "1", discount: "0", want: tax.ErrInvalidRate},
		{name: "too precise discount", product: widget(), qty: "1", price: "1", discount: "5.555", want: ErrInvalidDiscount},
		{name: "negative discount", product: widget(), qty: "1", price: "1", discount: "-1", want: ErrInvalidDiscount},
		{name: "discount above 100", product: widget(), qty: "1", price: "1", discount: "100.5", want: ErrInvalidDiscount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLineItem(tt.product, dec(tt.qty), dec(tt.price), dec(tt.discount))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLineItemFullDiscountAndFreeItem(t *testing.T) {
	item, err := NewLineItem(widget(), dec("3"), dec("10"), dec("100"))
	require.NoError(t, err)
	assert.True(t, item.LineTotal().IsZero())

	free, err := NewLineItem(widget(), dec("3"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	_, amount, err := free.TaxContribution()
	require.NoError(t, err)
	assert.True(t, amount.IsZero())
}
