package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

const idempotencyModule = "invoicing.create"

// SettingsSource supplies the runtime numbering policy and default rates.
type SettingsSource interface {
	InvoiceNumbering(ctx context.Context) (prefix string, start int64, err error)
	Rates(ctx context.Context) (tax.Rates, error)
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard rejects replayed create requests.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ChangeNotifier is told whenever stored invoice data changes, so derived
// report caches can be invalidated.
type ChangeNotifier interface {
	Bump(ctx context.Context) error
}

// ServiceParams groups the dependencies of Service. Only Repo and Settings are required.
type ServiceParams struct {
	Repo        Repository
	Settings    SettingsSource
	Audit       AuditRecorder
	Idempotency IdempotencyGuard
	Notifier    ChangeNotifier
	Logger      *slog.Logger
}

// Service coordinates products, invoices and their line items.
type Service struct {
	repo     Repository
	settings SettingsSource
	audit    AuditRecorder
	idem     IdempotencyGuard
	notifier ChangeNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the invoicing service.
func NewService(params ServiceParams) *Service {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     params.Repo,
		settings: params.Settings,
		audit:    params.Audit,
		idem:     params.Idempotency,
		notifier: params.Notifier,
		logger:   logger.With(slog.String("component", "invoicing")),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreateProduct validates and stores a new product.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	product, err := s.buildProduct(ctx, Product{}, input)
	if err != nil {
		return Product{}, err
	}
	created, err := s.repo.InsertProduct(ctx, product)
	if err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	return created, nil
}

// UpdateProduct replaces a product's attributes. Existing line items keep the
// price and rate they were created with.
func (s *Service) UpdateProduct(ctx context.Context, id int64, input ProductInput) (Product, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	product, err := s.buildProduct(ctx, existing, input)
	if err != nil {
		return Product{}, err
	}
	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return updated, nil
}

func (s *Service) buildProduct(ctx context.Context, base Product, input ProductInput) (Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name required", ErrInvalidProduct)
	}
	if err := validatePrice(input.Price); err != nil {
		return Product{}, fmt.Errorf("product %w", err)
	}
	if !input.TaxCategory.Valid() {
		return Product{}, fmt.Errorf("product category %q: %w", input.TaxCategory, tax.ErrUnknownCategory)
	}
	var rate decimal.Decimal
	if input.TaxRate != nil {
		rate = *input.TaxRate
	} else {
		rates, err := s.settings.Rates(ctx)
		if err != nil {
			return Product{}, fmt.Errorf("load default rates: %w", err)
		}
		if rate, err = rates.For(input.TaxCategory); err != nil {
			return Product{}, err
		}
	}
	if err := tax.ValidateStoredRate(rate); err != nil {
		return Product{}, fmt.Errorf("product tax rate %s: %w", rate, err)
	}
	base.Name = name
	base.Description = strings.TrimSpace(input.Description)
	base.Price = input.Price
	base.TaxCategory = input.TaxCategory
	base.TaxRate = rate
	base.Active = input.Active
	return base, nil
}

// GetProduct returns a product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts returns a page of products and the total match count.
func (s *Service) ListProducts(ctx context.Context, filter ListProductsFilter) ([]Product, int, error) {
	filter.Limit, filter.Offset = normalisePage(filter.Limit, filter.Offset)
	return s.repo.ListProducts(ctx, filter)
}

// DeleteProduct removes a product that no line item references.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		inUse, err := repo.ProductInUse(ctx, id)
		if err != nil {
			return fmt.Errorf("check product usage: %w", err)
		}
		if inUse {
			return fmt.Errorf("product %d: %w", id, ErrProductInUse)
		}
		return repo.DeleteProduct(ctx, id)
	})
}

// CreateInvoice numbers and stores a new invoice together with its initial items.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput, actorID int64) (Invoice, error) {
	if err := input.Header.Validate(); err != nil {
		return Invoice{}, err
	}
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Invoice{}, fmt.Errorf("key %s: %w", input.IdempotencyKey, ErrDuplicateRequest)
			}
			return Invoice{}, fmt.Errorf("idempotency check: %w", err)
		}
	}

	prefix, start, err := s.settings.InvoiceNumbering(ctx)
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return Invoice{}, fmt.Errorf("load numbering settings: %w", err)
	}

	var inv Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.LockNumbering(ctx); err != nil {
			return fmt.Errorf("lock numbering: %w", err)
		}
		lastID, err := repo.LastInvoiceID(ctx)
		if err != nil {
			return fmt.Errorf("load last invoice: %w", err)
		}
		inv = Invoice{
			Number:    FormatNumber(prefix, NextSequence(lastID, start)),
			Header:    input.Header,
			Items:     make([]LineItem, 0, len(input.Items)),
			CreatedBy: actorID,
			Totals:    Totals{Subtotal: decimal.Zero, VATAmount: decimal.Zero, WithholdingAmount: decimal.Zero, TotalAmount: decimal.Zero},
		}
		if err := repo.InsertInvoice(ctx, &inv); err != nil {
			return err
		}
		for _, in := range input.Items {
			if err := addItem(ctx, repo, &inv, in); err != nil {
				return err
			}
		}
		if len(input.Items) > 0 {
			return repo.SaveTotals(ctx, inv.ID, inv.Totals)
		}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	s.logger.Info("invoice created", slog.Int64("invoice_id", inv.ID), slog.String("number", inv.Number), slog.Int("items", len(inv.Items)))
	s.record(ctx, actorID, "invoice.create", inv, map[string]any{"number": inv.Number, "total": inv.Totals.TotalAmount.String()})
	s.changed(ctx)
	return inv, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

// GetInvoice returns an invoice with its items.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns a page of invoice headers and totals, newest first.
func (s *Service) ListInvoices(ctx context.Context, filter ListInvoicesFilter) ([]Invoice, int, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, 0, fmt.Errorf("%w: date_to before date_from", shared.ErrInvalidInput)
	}
	filter.Limit, filter.Offset = normalisePage(filter.Limit, filter.Offset)
	return s.repo.ListInvoices(ctx, filter)
}

// UpdateHeader edits customer details, dates and notes of an open invoice.
func (s *Service) UpdateHeader(ctx context.Context, id int64, header Header, actorID int64) (Invoice, error) {
	inv, err := s.mutate(ctx, id, func(ctx context.Context, repo Repository, inv *Invoice) error {
		if err := inv.UpdateHeader(header); err != nil {
			return err
		}
		return repo.SaveHeader(ctx, inv.ID, inv.Header)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "invoice.update", inv, map[string]any{"number": inv.Number})
	s.changed(ctx)
	return inv, nil
}

// AddItem adds a product line to an open invoice.
func (s *Service) AddItem(ctx context.Context, invoiceID int64, input ItemInput, actorID int64) (Invoice, error) {
	inv, err := s.mutate(ctx, invoiceID, func(ctx context.Context, repo Repository, inv *Invoice) error {
		if err := addItem(ctx, repo, inv, input); err != nil {
			return err
		}
		return repo.SaveTotals(ctx, inv.ID, inv.Totals)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "invoice.item_add", inv, map[string]any{"product_id": input.ProductID, "quantity": input.Quantity.String()})
	s.changed(ctx)
	return inv, nil
}

func addItem(ctx context.Context, repo Repository, inv *Invoice, input ItemInput) error {
	if inv.Locked() {
		return fmt.Errorf("invoice %s: %w", inv.Number, ErrInvoiceLocked)
	}
	product, err := repo.GetProduct(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("product %d: %w", input.ProductID, ErrInvalidProduct)
		}
		return err
	}
	price := product.Price
	if input.UnitPrice != nil {
		price = *input.UnitPrice
	}
	item, err := NewLineItem(product, input.Quantity, price, input.DiscountPercent)
	if err != nil {
		return err
	}
	if err := inv.AddItem(item); err != nil {
		return err
	}
	if err := repo.InsertItem(ctx, &inv.Items[len(inv.Items)-1]); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// UpdateItem changes quantity, price and discount of a line on an open invoice.
func (s *Service) UpdateItem(ctx context.Context, invoiceID, itemID int64, quantity, unitPrice, discountPercent decimal.Decimal, actorID int64) (Invoice, error) {
	inv, err := s.mutate(ctx, invoiceID, func(ctx context.Context, repo Repository, inv *Invoice) error {
		if err := inv.UpdateItem(itemID, quantity, unitPrice, discountPercent); err != nil {
			return err
		}
		item, _ := inv.Item(itemID)
		if err := repo.UpdateItem(ctx, item); err != nil {
			return err
		}
		return repo.SaveTotals(ctx, inv.ID, inv.Totals)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "invoice.item_update", inv, map[string]any{"item_id": itemID})
	s.changed(ctx)
	return inv, nil
}

// RemoveItem deletes a line from an open invoice.
func (s *Service) RemoveItem(ctx context.Context, invoiceID, itemID int64, actorID int64) (Invoice, error) {
	inv, err := s.mutate(ctx, invoiceID, func(ctx context.Context, repo Repository, inv *Invoice) error {
		if err := inv.RemoveItem(itemID); err != nil {
			return err
		}
		if err := repo.DeleteItem(ctx, inv.ID, itemID); err != nil {
			return err
		}
		return repo.SaveTotals(ctx, inv.ID, inv.Totals)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "invoice.item_remove", inv, map[string]any{"item_id": itemID})
	s.changed(ctx)
	return inv, nil
}

// CancelInvoice cancels an invoice. The boolean is false when the invoice was
// already cancelled; that case is logged and is not an error.
func (s *Service) CancelInvoice(ctx context.Context, id int64, actorID int64) (Invoice, bool, error) {
	var cancelled bool
	inv, err := s.mutate(ctx, id, func(ctx context.Context, repo Repository, inv *Invoice) error {
		cancelled = inv.Cancel(actorID, s.now())
		if !cancelled {
			return nil
		}
		return repo.SaveCancellation(ctx, *inv)
	})
	if err != nil {
		return Invoice{}, false, err
	}
	if !cancelled {
		s.logger.Warn("invoice already cancelled", slog.Int64("invoice_id", inv.ID), slog.String("number", inv.Number), slog.Int64("actor_id", actorID))
		return inv, false, nil
	}
	s.logger.Info("invoice cancelled", slog.Int64("invoice_id", inv.ID), slog.String("number", inv.Number), slog.Int64("actor_id", actorID))
	s.record(ctx, actorID, "invoice.cancel", inv, map[string]any{"number": inv.Number})
	s.changed(ctx)
	return inv, true, nil
}

// mutate runs fn against the row-locked invoice inside one transaction.
func (s *Service) mutate(ctx context.Context, id int64, fn func(context.Context, Repository, *Invoice) error) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		locked, err := repo.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		inv = locked
		return fn(ctx, repo, &inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, inv Invoice, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(inv.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit log", slog.String("action", action), slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	}
}

func (s *Service) changed(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Bump(ctx); err != nil {
		s.logger.Warn("invalidate report cache", slog.Any("error", err))
	}
}

func normalisePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
