package invoicing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

type memoryState struct {
	products      map[int64]Product
	invoices      map[int64]Invoice
	items         map[int64]LineItem
	nextProductID int64
	nextInvoiceID int64
	nextItemID    int64
}

func (s memoryState) clone() memoryState {
	out := s
	out.products = make(map[int64]Product, len(s.products))
	for k, v := range s.products {
		out.products[k] = v
	}
	out.invoices = make(map[int64]Invoice, len(s.invoices))
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	out.items = make(map[int64]LineItem, len(s.items))
	for k, v := range s.items {
		out.items[k] = v
	}
	return out
}

// memoryRepo is an in-memory Repository. WithTx works on a copy of the state
// and only publishes it when the callback succeeds.
type memoryRepo struct {
	mu          *sync.Mutex
	state       *memoryState
	inTx        bool
	failInsert  error
	numberLocks int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		mu: &sync.Mutex{},
		state: &memoryState{
			products: make(map[int64]Product),
			invoices: make(map[int64]Invoice),
			items:    make(map[int64]LineItem),
		},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	tx := &memoryRepo{mu: &sync.Mutex{}, state: &working, inTx: true, failInsert: r.failInsert}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.numberLocks += tx.numberLocks
	*r.state = working
	return nil
}

func (r *memoryRepo) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, ok := r.state.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context, filter ListProductsFilter) ([]Product, int, error) {
	out := make([]Product, 0)
	for _, p := range r.state.products {
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.TaxCategory != "" && p.TaxCategory != filter.TaxCategory {
			continue
		}
		if filter.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, filter.Limit, filter.Offset), len(out), nil
}

func (r *memoryRepo) InsertProduct(ctx context.Context, p Product) (Product, error) {
	r.state.nextProductID++
	p.ID = r.state.nextProductID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.state.products[p.ID] = p
	return p, nil
}

func (r *memoryRepo) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	if _, ok := r.state.products[p.ID]; !ok {
		return Product{}, fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	p.UpdatedAt = time.Now()
	r.state.products[p.ID] = p
	return p, nil
}

func (r *memoryRepo) DeleteProduct(ctx context.Context, id int64) error {
	if _, ok := r.state.products[id]; !ok {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	delete(r.state.products, id)
	return nil
}

func (r *memoryRepo) ProductInUse(ctx context.Context, id int64) (bool, error) {
	for _, item := range r.state.items {
		if item.ProductID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) LockNumbering(ctx context.Context) error {
	if !r.inTx {
		return fmt.Errorf("numbering lock outside transaction")
	}
	r.numberLocks++
	return nil
}

func (r *memoryRepo) LastInvoiceID(ctx context.Context) (*int64, error) {
	if r.state.nextInvoiceID == 0 {
		return nil, nil
	}
	last := r.state.nextInvoiceID
	return &last, nil
}

func (r *memoryRepo) InsertInvoice(ctx context.Context, inv *Invoice) error {
	if r.failInsert != nil {
		return r.failInsert
	}
	for _, existing := range r.state.invoices {
		if existing.Number == inv.Number {
			return fmt.Errorf("invoice %s: %w", inv.Number, ErrDuplicateNumber)
		}
	}
	r.state.nextInvoiceID++
	inv.ID = r.state.nextInvoiceID
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	stored := *inv
	stored.Items = nil
	r.state.invoices[inv.ID] = stored
	return nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.state.invoices[id]
	if !ok {
		return Invoice{}, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	inv.Items = r.itemsOf(id)
	return inv, nil
}

func (r *memoryRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	if !r.inTx {
		return Invoice{}, fmt.Errorf("row lock outside transaction")
	}
	return r.GetInvoice(ctx, id)
}

func (r *memoryRepo) itemsOf(invoiceID int64) []LineItem {
	items := make([]LineItem, 0)
	for _, item := range r.state.items {
		if item.InvoiceID == invoiceID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (r *memoryRepo) ListInvoices(ctx context.Context, filter ListInvoicesFilter) ([]Invoice, int, error) {
	out := make([]Invoice, 0)
	for _, inv := range r.state.invoices {
		if !filter.IncludeCancelled && inv.Cancelled {
			continue
		}
		if !filter.From.IsZero() && inv.Header.InvoiceDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && inv.Header.InvoiceDate.After(filter.To) {
			continue
		}
		if filter.Search != "" && !strings.Contains(inv.Number, filter.Search) && !strings.Contains(inv.Header.Customer.Name, filter.Search) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, filter.Limit, filter.Offset), len(out), nil
}

func (r *memoryRepo) InvoicesBetween(ctx context.Context, from, to time.Time, includeCancelled bool) ([]Invoice, error) {
	out := make([]Invoice, 0)
	for id, inv := range r.state.invoices {
		if inv.Cancelled && !includeCancelled {
			continue
		}
		if !from.IsZero() && inv.Header.InvoiceDate.Before(from) {
			continue
		}
		if !to.IsZero() && inv.Header.InvoiceDate.After(to) {
			continue
		}
		inv.Items = r.itemsOf(id)
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) CountProducts(ctx context.Context) (int, error) {
	return len(r.state.products), nil
}

func (r *memoryRepo) SaveHeader(ctx context.Context, invoiceID int64, header Header) error {
	inv := r.state.invoices[invoiceID]
	inv.Header = header
	r.state.invoices[invoiceID] = inv
	return nil
}

func (r *memoryRepo) SaveTotals(ctx context.Context, invoiceID int64, totals Totals) error {
	inv := r.state.invoices[invoiceID]
	inv.Totals = totals
	r.state.invoices[invoiceID] = inv
	return nil
}

func (r *memoryRepo) SaveCancellation(ctx context.Context, cancelled Invoice) error {
	inv := r.state.invoices[cancelled.ID]
	inv.Cancelled = true
	inv.CancelledAt = cancelled.CancelledAt
	inv.CancelledBy = cancelled.CancelledBy
	r.state.invoices[cancelled.ID] = inv
	return nil
}

func (r *memoryRepo) InsertItem(ctx context.Context, item *LineItem) error {
	r.state.nextItemID++
	item.ID = r.state.nextItemID
	r.state.items[item.ID] = *item
	return nil
}

func (r *memoryRepo) UpdateItem(ctx context.Context, item LineItem) error {
	existing, ok := r.state.items[item.ID]
	if !ok || existing.InvoiceID != item.InvoiceID {
		return ErrItemNotFound
	}
	r.state.items[item.ID] = item
	return nil
}

func (r *memoryRepo) DeleteItem(ctx context.Context, invoiceID, itemID int64) error {
	existing, ok := r.state.items[itemID]
	if !ok || existing.InvoiceID != invoiceID {
		return ErrItemNotFound
	}
	delete(r.state.items, itemID)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type staticSettings struct {
	prefix string
	start  int64
	rates  tax.Rates
}

func (s staticSettings) InvoiceNumbering(ctx context.Context) (string, int64, error) {
	return s.prefix, s.start, nil
}

func (s staticSettings) Rates(ctx context.Context) (tax.Rates, error) {
	return s.rates, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) List(ctx context.Context, entity, entityID string) ([]shared.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]shared.AuditLog, 0)
	for _, l := range a.logs {
		if l.Entity == entity && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type countingNotifier struct {
	bumps atomic.Int64
}

func (c *countingNotifier) Bump(ctx context.Context) error {
	c.bumps.Add(1)
	return nil
}

type fixture struct {
	repo     *memoryRepo
	audit    *recordingAudit
	idem     *memoryIdempotency
	notifier *countingNotifier
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMemoryRepo(),
		audit:    &recordingAudit{},
		idem:     &memoryIdempotency{keys: map[string]bool{}},
		notifier: &countingNotifier{},
	}
	f.svc = NewService(ServiceParams{
		Repo:        f.repo,
		Settings:    staticSettings{prefix: "INV", start: 1, rates: tax.DefaultRates()},
		Audit:       f.audit,
		Idempotency: f.idem,
		Notifier:    f.notifier,
	})
	return f
}

func (f *fixture) seedProducts(ctx context.Context) (Product, Product) {
	vat, err := f.svc.CreateProduct(ctx, ProductInput{Name: "Widget", Price: decimal.RequireFromString("100.00"), TaxCategory: tax.CategoryVAT, Active: true})
	if err != nil {
		panic(err)
	}
	wht, err := f.svc.CreateProduct(ctx, ProductInput{Name: "Service", Price: decimal.RequireFromString("50.00"), TaxCategory: tax.CategoryWithholding, Active: true})
	if err != nil {
		panic(err)
	}
	return vat, wht
}
