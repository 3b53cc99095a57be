package invoicing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/platform/db"
	"github.com/taxdesk/taxdesk/internal/tax"
)

func newTestInvoice() *Invoice {
	return &Invoice{
		ID:     10,
		Number: "INV-000010",
		Header: Header{Customer: Customer{Name: "Acme"}, InvoiceDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
}

func mustItem(t *testing.T, id int64, p Product, qty, price, discount string) LineItem {
	t.Helper()
	item, err := NewLineItem(p, dec(qty), dec(price), dec(discount))
	require.NoError(t, err)
	item.ID = id
	return item
}

func assertTotals(t *testing.T, got Totals, subtotal, vat, withholding, total string) {
	t.Helper()
	assert.Equal(t, subtotal, got.Subtotal.StringFixed(2), "subtotal")
	assert.Equal(t, vat, got.VATAmount.StringFixed(2), "vat")
	assert.Equal(t, withholding, got.WithholdingAmount.StringFixed(2), "withholding")
	assert.Equal(t, total, got.TotalAmount.StringFixed(2), "total")
}

func TestInvoiceLifecycleScenario(t *testing.T) {
	inv := newTestInvoice()

	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "2", "100.00", "0")))
	assertTotals(t, inv.Totals, "200.00", "28.00", "0.00", "228.00")

	require.NoError(t, inv.AddItem(mustItem(t, 2, consulting(), "1", "50.00", "0")))
	assertTotals(t, inv.Totals, "250.00", "28.00", "2.50", "280.50")

	assert.True(t, inv.Cancel(7, time.Now()))
	err := inv.RemoveItem(1)
	require.ErrorIs(t, err, ErrInvoiceLocked)
	assertTotals(t, inv.Totals, "250.00", "28.00", "2.50", "280.50")
	assert.Len(t, inv.Items, 2)
}

func TestCancelIsTerminal(t *testing.T) {
	inv := newTestInvoice()
	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "1", "10", "0")))
	before := inv.Totals

	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	require.True(t, inv.Cancel(3, at))
	require.NotNil(t, inv.CancelledAt)
	require.NotNil(t, inv.CancelledBy)
	assert.Equal(t, at, *inv.CancelledAt)
	assert.Equal(t, int64(3), *inv.CancelledBy)

	assert.False(t, inv.Cancel(4, at.Add(time.Hour)), "second cancel must be a no-op")
	assert.Equal(t, int64(3), *inv.CancelledBy)
	assert.Equal(t, at, *inv.CancelledAt)

	require.ErrorIs(t, inv.AddItem(mustItem(t, 2, widget(), "1", "10", "0")), ErrInvoiceLocked)
	require.ErrorIs(t, inv.RemoveItem(1), ErrInvoiceLocked)
	require.ErrorIs(t, inv.UpdateItem(1, dec("5"), dec("1"), decimal.Zero), ErrInvoiceLocked)
	require.ErrorIs(t, inv.UpdateHeader(inv.Header), ErrInvoiceLocked)
	require.ErrorIs(t, inv.Recompute(), ErrInvoiceLocked)
	assert.Equal(t, before, inv.Totals)
}

func TestRemoveItemNotFound(t *testing.T) {
	inv := newTestInvoice()
	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "1", "10", "0")))

	require.ErrorIs(t, inv.RemoveItem(99), ErrItemNotFound)

	foreign := mustItem(t, 5, widget(), "1", "10", "0")
	inv.Items = append(inv.Items, foreign)
	inv.Items[len(inv.Items)-1].InvoiceID = 999
	require.ErrorIs(t, inv.RemoveItem(5), ErrItemNotFound)
}

func TestRemoveItemRecomputes(t *testing.T) {
	inv := newTestInvoice()
	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "2", "100", "0")))
	require.NoError(t, inv.AddItem(mustItem(t, 2, consulting(), "1", "50", "0")))

	require.NoError(t, inv.RemoveItem(1))
	assertTotals(t, inv.Totals, "50.00", "0.00", "2.50", "52.50")

	require.NoError(t, inv.RemoveItem(2))
	assertTotals(t, inv.Totals, "0.00", "0.00", "0.00", "0.00")
	assert.Empty(t, inv.Items)
}

func TestUpdateItemRecomputes(t *testing.T) {
	inv := newTestInvoice()
	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "2", "100", "0")))

	require.NoError(t, inv.UpdateItem(1, dec("3"), dec("100"), dec("10")))
	assertTotals(t, inv.Totals, "270.00", "37.80", "0.00", "307.80")

	err := inv.UpdateItem(1, dec("0"), dec("100"), decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	assertTotals(t, inv.Totals, "270.00", "37.80", "0.00", "307.80")

	require.ErrorIs(t, inv.UpdateItem(42, dec("1"), dec("1"), decimal.Zero), ErrItemNotFound)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	inv := newTestInvoice()
	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "3.333", "19.99", "7.5")))
	require.NoError(t, inv.AddItem(mustItem(t, 2, consulting(), "1.25", "12.34", "0")))

	first := inv.Totals
	require.NoError(t, inv.Recompute())
	require.NoError(t, inv.Recompute())
	assert.True(t, first.Subtotal.Equal(inv.Totals.Subtotal))
	assert.True(t, first.VATAmount.Equal(inv.Totals.VATAmount))
	assert.True(t, first.WithholdingAmount.Equal(inv.Totals.WithholdingAmount))
	assert.True(t, first.TotalAmount.Equal(inv.Totals.TotalAmount))
}

func TestRecomputeIsOrderIndependent(t *testing.T) {
	reduced := widget()
	reduced.ID = 3
	reduced.TaxRate = dec("10")
	items := func() []LineItem {
		return []LineItem{
			mustItem(t, 1, widget(), "2", "100", "0"),
			mustItem(t, 2, consulting(), "1.125", "49.99", "3"),
			mustItem(t, 3, reduced, "0.333", "17.17", "33.3"),
		}
	}

	forward := newTestInvoice()
	for _, item := range items() {
		require.NoError(t, forward.AddItem(item))
	}
	backward := newTestInvoice()
	all := items()
	for i := len(all) - 1; i >= 0; i-- {
		require.NoError(t, backward.AddItem(all[i]))
	}

	assert.True(t, forward.Totals.Subtotal.Equal(backward.Totals.Subtotal))
	assert.True(t, forward.Totals.VATAmount.Equal(backward.Totals.VATAmount))
	assert.True(t, forward.Totals.WithholdingAmount.Equal(backward.Totals.WithholdingAmount))
	assert.True(t, forward.Totals.TotalAmount.Equal(backward.Totals.TotalAmount))
}

func TestTotalsIdentityHoldsAfterEveryMutation(t *testing.T) {
	inv := newTestInvoice()
	check := func() {
		t.Helper()
		sum := inv.Totals.Subtotal.Add(inv.Totals.VATAmount).Add(inv.Totals.WithholdingAmount)
		assert.True(t, sum.Equal(inv.Totals.TotalAmount), "total %s != %s", inv.Totals.TotalAmount, sum)
	}
	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "1.001", "0.07", "1.11")))
	check()
	require.NoError(t, inv.AddItem(mustItem(t, 2, consulting(), "7", "3.33", "66.67")))
	check()
	require.NoError(t, inv.UpdateItem(2, dec("9.999"), dec("0.01"), dec("99.99")))
	check()
	require.NoError(t, inv.RemoveItem(1))
	check()
}

func TestTotalsSurviveNumericRoundTrip(t *testing.T) {
	item, err := NewLineItem(widget(), dec("0.5"), dec("199.99"), decimal.Zero)
	require.NoError(t, err)
	totals, err := ComputeTotals([]LineItem{item})
	require.NoError(t, err)

	assert.True(t, totals.Subtotal.Equal(dec("99.995")), "subtotal %s", totals.Subtotal)
	assert.True(t, totals.VATAmount.Equal(dec("13.9993")), "vat %s", totals.VATAmount)
	assert.True(t, totals.TotalAmount.Equal(dec("113.9943")), "total %s", totals.TotalAmount)

	loaded := Totals{
		Subtotal:          db.Decimal(db.Numeric(totals.Subtotal)),
		VATAmount:         db.Decimal(db.Numeric(totals.VATAmount)),
		WithholdingAmount: db.Decimal(db.Numeric(totals.WithholdingAmount)),
		TotalAmount:       db.Decimal(db.Numeric(totals.TotalAmount)),
	}
	sum := loaded.Subtotal.Add(loaded.VATAmount).Add(loaded.WithholdingAmount)
	assert.True(t, sum.Equal(loaded.TotalAmount), "total %s != %s", loaded.TotalAmount, sum)
	assert.True(t, loaded.TotalAmount.Equal(totals.TotalAmount))
}

func TestRecomputeFailureKeepsTotals(t *testing.T) {
	inv := newTestInvoice()
	require.NoError(t, inv.AddItem(mustItem(t, 1, widget(), "2", "100", "0")))
	before := inv.Totals

	broken := mustItem(t, 2, widget(), "1", "10", "0")
	broken.Category = tax.Category("excise")
	err := inv.AddItem(broken)
	require.ErrorIs(t, err, tax.ErrUnknownCategory)
	assert.Equal(t, before, inv.Totals)
	assert.Len(t, inv.Items, 1)
}

func TestUpdateHeaderValidates(t *testing.T) {
	inv := newTestInvoice()
	require.ErrorIs(t, inv.UpdateHeader(Header{InvoiceDate: time.Now()}), ErrInvalidHeader)

	due := inv.Header.InvoiceDate.AddDate(0, 0, -1)
	require.ErrorIs(t, inv.UpdateHeader(Header{Customer: Customer{Name: "Acme"}, InvoiceDate: inv.Header.InvoiceDate, DueDate: &due}), ErrInvalidHeader)

	due = inv.Header.InvoiceDate.AddDate(0, 0, 30)
	header := Header{Customer: Customer{Name: "Globex", TaxID: "123-456"}, InvoiceDate: inv.Header.InvoiceDate, DueDate: &due, Notes: "net 30"}
	require.NoError(t, inv.UpdateHeader(header))
	assert.Equal(t, "Globex", inv.Header.Customer.Name)
}
