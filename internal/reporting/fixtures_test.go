package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/invoicing"
	"github.com/taxdesk/taxdesk/internal/tax"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func day(v string) time.Time {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	widget     = invoicing.Product{ID: 1, Name: "Widget", Price: dec("100"), TaxCategory: tax.CategoryVAT, TaxRate: dec("14"), Active: true}
	consulting = invoicing.Product{ID: 2, Name: "Consulting", Price: dec("50"), TaxCategory: tax.CategoryWithholding, TaxRate: dec("5"), Active: true}
	reduced    = invoicing.Product{ID: 3, Name: "Books", Price: dec("100"), TaxCategory: tax.CategoryVAT, TaxRate: dec("10"), Active: true}
)

type line struct {
	product invoicing.Product
	qty     string
}

func buildInvoice(t *testing.T, id int64, date, customer string, lines ...line) invoicing.Invoice {
	t.Helper()
	inv := invoicing.Invoice{
		ID:     id,
		Number: invoicing.FormatNumber("INV", id),
		Header: invoicing.Header{Customer: invoicing.Customer{Name: customer}, InvoiceDate: day(date)},
	}
	require.NoError(t, inv.Recompute())
	for i, l := range lines {
		item, err := invoicing.NewLineItem(l.product, dec(l.qty), l.product.Price, decimal.Zero)
		require.NoError(t, err)
		item.ID = id*100 + int64(i)
		require.NoError(t, inv.AddItem(item))
	}
	return inv
}

func cancelled(inv invoicing.Invoice) invoicing.Invoice {
	inv.Cancel(1, time.Now())
	return inv
}
