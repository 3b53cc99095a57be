package invoicing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/tax"
)

func testHeader() Header {
	return Header{Customer: Customer{Name: "Acme Trading", TaxID: "300-123-456"}, InvoiceDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
}

func TestCreateProductDefaultsRateFromSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	vat, wht := f.seedProducts(ctx)

	assert.Equal(t, "14.00", vat.TaxRate.StringFixed(2))
	assert.Equal(t, "5.00", wht.TaxRate.StringFixed(2))

	custom := dec("10")
	p, err := f.svc.CreateProduct(ctx, ProductInput{Name: "Reduced", Price: dec("5"), TaxCategory: tax.CategoryVAT, TaxRate: &custom, Active: true})
	require.NoError(t, err)
	assert.Equal(t, "10.00", p.TaxRate.StringFixed(2))
}

func TestCreateProductValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.svc.CreateProduct(ctx, ProductInput{Name: " ", Price: dec("1"), TaxCategory: tax.CategoryVAT})
	require.ErrorIs(t, err, ErrInvalidProduct)

	_, err = f.svc.CreateProduct(ctx, ProductInput{Name: "x", Price: dec("-1"), TaxCategory: tax.CategoryVAT})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = f.svc.CreateProduct(ctx, ProductInput{Name: "x", Price: dec("1"), TaxCategory: "excise"})
	require.ErrorIs(t, err, tax.ErrUnknownCategory)

	bad := dec("100.01")
	_, err = f.svc.CreateProduct(ctx, ProductInput{Name: "x", Price: dec("1"), TaxCategory: tax.CategoryVAT, TaxRate: &bad})
	require.ErrorIs(t, err, tax.ErrInvalidRate)

	_, err = f.svc.CreateProduct(ctx, ProductInput{Name: "x", Price: dec("10.555"), TaxCategory: tax.CategoryVAT})
	require.ErrorIs(t, err, ErrInvalidPrice)

	precise := dec("14.125")
	_, err = f.svc.CreateProduct(ctx, ProductInput{Name: "x", Price: dec("1"), TaxCategory: tax.CategoryVAT, TaxRate: &precise})
	require.ErrorIs(t, err, tax.ErrInvalidRate)
}

func TestCreateInvoiceNumbersSequentially(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	first, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)
	second, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)

	assert.Equal(t, "INV-000001", first.Number)
	assert.Equal(t, "INV-000002", second.Number)
	assert.Equal(t, 2, f.repo.numberLocks)
	assert.True(t, first.Totals.TotalAmount.IsZero())
}

func TestCreateInvoiceUsesConfiguredStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.settings = staticSettings{prefix: "TX", start: 1000, rates: tax.DefaultRates()}

	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)
	assert.Equal(t, "TX-001000", inv.Number)

	next, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)
	assert.Equal(t, "TX-000002", next.Number, "sequence follows the last invoice identity once invoices exist")
}

func TestCreateInvoiceConcurrentNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	const workers = 16
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
			if assert.NoError(t, err) {
				numbers <- inv.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}

func TestCreateInvoiceWithItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	vat, wht := f.seedProducts(ctx)

	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{
		Header: testHeader(),
		Items: []ItemInput{
			{ProductID: vat.ID, Quantity: dec("2")},
			{ProductID: wht.ID, Quantity: dec("1")},
		},
	}, 9)
	require.NoError(t, err)
	assertTotals(t, inv.Totals, "250.00", "28.00", "2.50", "280.50")
	require.Len(t, inv.Items, 2)
	assert.NotZero(t, inv.Items[0].ID)

	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assertTotals(t, stored.Totals, "250.00", "28.00", "2.50", "280.50")
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, []string{"invoice.create"}, f.audit.actions())
	assert.Equal(t, int64(1), f.notifier.bumps.Load())
}

func TestCreateInvoiceRollsBackOnInvalidItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	vat, _ := f.seedProducts(ctx)
	inactive, err := f.svc.CreateProduct(ctx, ProductInput{Name: "Old", Price: dec("1"), TaxCategory: tax.CategoryVAT, Active: false})
	require.NoError(t, err)

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceInput{
		Header: testHeader(),
		Items: []ItemInput{
			{ProductID: vat.ID, Quantity: dec("1")},
			{ProductID: inactive.ID, Quantity: dec("1")},
		},
		IdempotencyKey: "req-1",
	}, 1)
	require.ErrorIs(t, err, ErrInvalidProduct)

	list, total, err := f.svc.ListInvoices(ctx, ListInvoicesFilter{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
	assert.False(t, f.idem.keys["req-1"], "failed request must release its idempotency key")
}

func TestCreateInvoiceIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader(), IdempotencyKey: "abc"}, 1)
	require.NoError(t, err)
	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader(), IdempotencyKey: "abc"}, 1)
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestCreateInvoiceDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.failInsert = ErrDuplicateNumber

	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestCreateInvoiceRequiresHeader(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceInput{}, 1)
	require.ErrorIs(t, err, ErrInvalidHeader)
}

func TestServiceItemLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	vat, wht := f.seedProducts(ctx)

	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)

	inv, err = f.svc.AddItem(ctx, inv.ID, ItemInput{ProductID: vat.ID, Quantity: dec("2")}, 1)
	require.NoError(t, err)
	assertTotals(t, inv.Totals, "200.00", "28.00", "0.00", "228.00")

	inv, err = f.svc.AddItem(ctx, inv.ID, ItemInput{ProductID: wht.ID, Quantity: dec("1")}, 1)
	require.NoError(t, err)
	assertTotals(t, inv.Totals, "250.00", "28.00", "2.50", "280.50")

	// Later price changes do not touch existing lines.
	_, err = f.svc.UpdateProduct(ctx, vat.ID, ProductInput{Name: "Widget", Price: dec("150"), TaxCategory: tax.CategoryVAT, Active: true})
	require.NoError(t, err)
	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assertTotals(t, stored.Totals, "250.00", "28.00", "2.50", "280.50")
	assert.Equal(t, "100.00", stored.Items[0].UnitPrice.StringFixed(2))

	vatItem := stored.Items[0].ID
	inv, err = f.svc.UpdateItem(ctx, inv.ID, vatItem, dec("1"), dec("100"), dec("50"), 1)
	require.NoError(t, err)
	assertTotals(t, inv.Totals, "100.00", "7.00", "2.50", "109.50")

	inv, err = f.svc.RemoveItem(ctx, inv.ID, vatItem, 1)
	require.NoError(t, err)
	assertTotals(t, inv.Totals, "50.00", "0.00", "2.50", "52.50")

	_, err = f.svc.RemoveItem(ctx, inv.ID, vatItem, 1)
	require.ErrorIs(t, err, ErrItemNotFound)

	assert.Equal(t, []string{"invoice.create", "invoice.item_add", "invoice.item_add", "invoice.item_update", "invoice.item_remove"}, f.audit.actions())
}

func TestServiceAddItemUsesExplicitPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	vat, _ := f.seedProducts(ctx)
	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)

	price := dec("80")
	inv, err = f.svc.AddItem(ctx, inv.ID, ItemInput{ProductID: vat.ID, Quantity: dec("1"), UnitPrice: &price, DiscountPercent: dec("10")}, 1)
	require.NoError(t, err)
	assertTotals(t, inv.Totals, "72.00", "10.08", "0.00", "82.08")
}

func TestServiceAddItemRejectsUnknownProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, inv.ID, ItemInput{ProductID: 404, Quantity: dec("1")}, 1)
	require.ErrorIs(t, err, ErrInvalidProduct)

	_, err = f.svc.AddItem(ctx, 404, ItemInput{ProductID: 1, Quantity: dec("1")}, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceCancelFreezesInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	vat, wht := f.seedProducts(ctx)
	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{
		Header: testHeader(),
		Items:  []ItemInput{{ProductID: vat.ID, Quantity: dec("2")}, {ProductID: wht.ID, Quantity: dec("1")}},
	}, 1)
	require.NoError(t, err)

	cancelled, changed, err := f.svc.CancelInvoice(ctx, inv.ID, 42)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, cancelled.Cancelled)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, int64(42), *cancelled.CancelledBy)

	again, changed, err := f.svc.CancelInvoice(ctx, inv.ID, 43)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(42), *again.CancelledBy)

	_, err = f.svc.RemoveItem(ctx, inv.ID, inv.Items[0].ID, 1)
	require.ErrorIs(t, err, ErrInvoiceLocked)
	_, err = f.svc.AddItem(ctx, inv.ID, ItemInput{ProductID: vat.ID, Quantity: dec("1")}, 1)
	require.ErrorIs(t, err, ErrInvoiceLocked)
	_, err = f.svc.UpdateHeader(ctx, inv.ID, testHeader(), 1)
	require.ErrorIs(t, err, ErrInvoiceLocked)

	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assertTotals(t, stored.Totals, "250.00", "28.00", "2.50", "280.50")
	assert.Len(t, stored.Items, 2)

	visible, _, err := f.svc.ListInvoices(ctx, ListInvoicesFilter{})
	require.NoError(t, err)
	assert.Empty(t, visible)
	all, _, err := f.svc.ListInvoices(ctx, ListInvoicesFilter{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteProductInUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	vat, wht := f.seedProducts(ctx)
	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader(), Items: []ItemInput{{ProductID: vat.ID, Quantity: dec("1")}}}, 1)
	require.NoError(t, err)

	err = f.svc.DeleteProduct(ctx, vat.ID)
	require.ErrorIs(t, err, ErrProductInUse)

	require.NoError(t, f.svc.DeleteProduct(ctx, wht.ID))
	_, err = f.svc.GetProduct(ctx, wht.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListInvoicesRejectsInvertedRange(t *testing.T) {
	f := newFixture()
	_, _, err := f.svc.ListInvoices(context.Background(), ListInvoicesFilter{
		From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

type failingNotifier struct{}

func (failingNotifier) Bump(context.Context) error { return errors.New("redis down") }

func TestNotifierFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.notifier = failingNotifier{}

	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{Header: testHeader()}, 1)
	require.NoError(t, err)
}
