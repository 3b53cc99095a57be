package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxdesk/taxdesk/internal/platform/db"
	"github.com/taxdesk/taxdesk/internal/tax"
)

// numberingLockKey serialises invoice number assignment across connections.
const numberingLockKey int64 = 0x7461786e756d // "taxnum"

// Repository is the persistence port of the invoicing service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ListProductsFilter) ([]Product, int, error)
	InsertProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, product Product) (Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ProductInUse(ctx context.Context, id int64) (bool, error)

	LockNumbering(ctx context.Context) error
	LastInvoiceID(ctx context.Context) (*int64, error)
	InsertInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListInvoicesFilter) ([]Invoice, int, error)
	InvoicesBetween(ctx context.Context, from, to time.Time, includeCancelled bool) ([]Invoice, error)
	CountProducts(ctx context.Context) (int, error)
	SaveHeader(ctx context.Context, invoiceID int64, header Header) error
	SaveTotals(ctx context.Context, invoiceID int64, totals Totals) error
	SaveCancellation(ctx context.Context, inv Invoice) error

	InsertItem(ctx context.Context, item *LineItem) error
	UpdateItem(ctx context.Context, item LineItem) error
	DeleteItem(ctx context.Context, invoiceID, itemID int64) error
}

type repository struct {
	db   db.Querier
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// txAttempts bounds reruns of a transaction that hit a deadlock.
const txAttempts = 3

// invoiceTxOptions is ReadCommitted so that LastInvoiceID, read after the
// numbering lock is granted, sees the invoice the previous holder inserted,
// and FOR UPDATE waits for the row instead of failing with 40001.
var invoiceTxOptions = db.ReadCommitted

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.Retry(ctx, txAttempts, func() error {
		return db.WithTxOptions(ctx, r.pool, invoiceTxOptions, func(tx pgx.Tx) error {
			return fn(ctx, &repository{db: tx, pool: r.pool})
		})
	})
}

const productColumns = `id, name, description, price, tax_category, tax_rate, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p        Product
		price    pgtype.Numeric
		rate     pgtype.Numeric
		category string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &category, &rate, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	p.Price = db.Decimal(price)
	p.TaxRate = db.Decimal(rate)
	p.TaxCategory = tax.Category(category)
	return p, nil
}

func (r *repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

func (r *repository) ListProducts(ctx context.Context, filter ListProductsFilter) ([]Product, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.TaxCategory != "" {
		args = append(args, string(filter.TaxCategory))
		conditions = append(conditions, fmt.Sprintf("tax_category = $%d", len(args)))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM products "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		productColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) InsertProduct(ctx context.Context, p Product) (Product, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO products (name, description, price, tax_category, tax_rate, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+productColumns,
		p.Name, p.Description, db.Numeric(p.Price), string(p.TaxCategory), db.Numeric(p.TaxRate), p.Active)
	return scanProduct(row)
}

func (r *repository) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	row := r.db.QueryRow(ctx, `UPDATE products
SET name = $2, description = $3, price = $4, tax_category = $5, tax_rate = $6, active = $7, updated_at = NOW()
WHERE id = $1
RETURNING `+productColumns,
		p.ID, p.Name, p.Description, db.Numeric(p.Price), string(p.TaxCategory), db.Numeric(p.TaxRate), p.Active)
	updated, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	return updated, err
}

func (r *repository) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("product %d: %w", id, ErrProductInUse)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *repository) ProductInUse(ctx context.Context, id int64) (bool, error) {
	var inUse bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoice_items WHERE product_id = $1)`, id).Scan(&inUse)
	return inUse, err
}

func (r *repository) LockNumbering(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, numberingLockKey)
	return err
}

func (r *repository) LastInvoiceID(ctx context.Context) (*int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM invoices ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *repository) InsertInvoice(ctx context.Context, inv *Invoice) error {
	err := r.db.QueryRow(ctx, `INSERT INTO invoices
(invoice_number, customer_name, customer_tax_id, customer_address, invoice_date, due_date, notes,
 subtotal, vat_amount, withholding_amount, total_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id, created_at, updated_at`,
		inv.Number, inv.Header.Customer.Name, inv.Header.Customer.TaxID, inv.Header.Customer.Address,
		dateParam(inv.Header.InvoiceDate), optionalDate(inv.Header.DueDate), inv.Header.Notes,
		db.Numeric(inv.Totals.Subtotal), db.Numeric(inv.Totals.VATAmount),
		db.Numeric(inv.Totals.WithholdingAmount), db.Numeric(inv.Totals.TotalAmount), inv.CreatedBy,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("invoice %s: %w", inv.Number, ErrDuplicateNumber)
		}
		return err
	}
	return nil
}

const invoiceColumns = `id, invoice_number, customer_name, customer_tax_id, customer_address, invoice_date, due_date, notes,
subtotal, vat_amount, withholding_amount, total_amount, cancelled, cancelled_at, cancelled_by, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv                               Invoice
		dueDate                           pgtype.Date
		cancelledAt                       pgtype.Timestamptz
		cancelledBy                       pgtype.Int8
		subtotal, vat, withholding, total pgtype.Numeric
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.Header.Customer.Name, &inv.Header.Customer.TaxID,
		&inv.Header.Customer.Address, &inv.Header.InvoiceDate, &dueDate, &inv.Header.Notes,
		&subtotal, &vat, &withholding, &total,
		&inv.Cancelled, &cancelledAt, &cancelledBy, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}
	if dueDate.Valid {
		due := dueDate.Time
		inv.Header.DueDate = &due
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time
		inv.CancelledAt = &at
	}
	if cancelledBy.Valid {
		by := cancelledBy.Int64
		inv.CancelledBy = &by
	}
	inv.Totals = Totals{
		Subtotal:          db.Decimal(subtotal),
		VATAmount:         db.Decimal(vat),
		WithholdingAmount: db.Decimal(withholding),
		TotalAmount:       db.Decimal(total),
	}
	return inv, nil
}

func (r *repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return r.loadInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

// LockInvoice loads the invoice and its items holding a row lock until the
// surrounding transaction ends.
func (r *repository) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return r.loadInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) loadInvoice(ctx context.Context, query string, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
		}
		return Invoice{}, err
	}
	items, err := r.listItems(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return inv, nil
}

const itemColumns = `id, invoice_id, product_id, product_name, tax_category, tax_rate, quantity, unit_price, discount_percent`

func (r *repository) listItems(ctx context.Context, invoiceID int64) ([]LineItem, error) {
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = $1 ORDER BY id`, invoiceID)
}

func (r *repository) queryItems(ctx context.Context, query string, args ...interface{}) ([]LineItem, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]LineItem, 0)
	for rows.Next() {
		var (
			item                       LineItem
			category                   string
			rate, qty, price, discount pgtype.Numeric
		)
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.ProductID, &item.ProductName, &category,
			&rate, &qty, &price, &discount); err != nil {
			return nil, err
		}
		item.Category = tax.Category(category)
		item.TaxRate = db.Decimal(rate)
		item.Quantity = db.Decimal(qty)
		item.UnitPrice = db.Decimal(price)
		item.DiscountPercent = db.Decimal(discount)
		items = append(items, item)
	}
	return items, rows.Err()
}

// InvoicesBetween loads every invoice dated within [from, to] together with
// its items. Zero bounds are open.
func (r *repository) InvoicesBetween(ctx context.Context, from, to time.Time, includeCancelled bool) ([]Invoice, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if !from.IsZero() {
		args = append(args, dateParam(from))
		conditions = append(conditions, fmt.Sprintf("invoice_date >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, dateParam(to))
		conditions = append(conditions, fmt.Sprintf("invoice_date <= $%d", len(args)))
	}
	if !includeCancelled {
		conditions = append(conditions, "NOT cancelled")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	rows, err := r.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices `+where+` ORDER BY invoice_date, id`, args...)
	if err != nil {
		return nil, err
	}
	invoices := make([]Invoice, 0)
	index := make(map[int64]int)
	ids := make([]int64, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		inv.Items = make([]LineItem, 0)
		index[inv.ID] = len(invoices)
		ids = append(ids, inv.ID)
		invoices = append(invoices, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return invoices, nil
	}

	items, err := r.queryItems(ctx, `SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = ANY($1) ORDER BY invoice_id, id`, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		pos := index[item.InvoiceID]
		invoices[pos].Items = append(invoices[pos].Items, item)
	}
	return invoices, nil
}

// CountProducts returns the number of catalogue products.
func (r *repository) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (r *repository) ListInvoices(ctx context.Context, filter ListInvoicesFilter) ([]Invoice, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(invoice_number ILIKE $%d OR customer_name ILIKE $%d)", len(args), len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, dateParam(filter.From))
		conditions = append(conditions, fmt.Sprintf("invoice_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, dateParam(filter.To))
		conditions = append(conditions, fmt.Sprintf("invoice_date <= $%d", len(args)))
	}
	if !filter.IncludeCancelled {
		conditions = append(conditions, "NOT cancelled")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM invoices "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM invoices %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	invoices := make([]Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

func (r *repository) SaveHeader(ctx context.Context, invoiceID int64, h Header) error {
	_, err := r.db.Exec(ctx, `UPDATE invoices
SET customer_name = $2, customer_tax_id = $3, customer_address = $4, invoice_date = $5, due_date = $6, notes = $7, updated_at = NOW()
WHERE id = $1`,
		invoiceID, h.Customer.Name, h.Customer.TaxID, h.Customer.Address, dateParam(h.InvoiceDate), optionalDate(h.DueDate), h.Notes)
	return err
}

func (r *repository) SaveTotals(ctx context.Context, invoiceID int64, t Totals) error {
	_, err := r.db.Exec(ctx, `UPDATE invoices
SET subtotal = $2, vat_amount = $3, withholding_amount = $4, total_amount = $5, updated_at = NOW()
WHERE id = $1`,
		invoiceID, db.Numeric(t.Subtotal), db.Numeric(t.VATAmount), db.Numeric(t.WithholdingAmount), db.Numeric(t.TotalAmount))
	return err
}

func (r *repository) SaveCancellation(ctx context.Context, inv Invoice) error {
	_, err := r.db.Exec(ctx, `UPDATE invoices
SET cancelled = TRUE, cancelled_at = $2, cancelled_by = $3, updated_at = NOW()
WHERE id = $1 AND NOT cancelled`,
		inv.ID, inv.CancelledAt, inv.CancelledBy)
	return err
}

func (r *repository) InsertItem(ctx context.Context, item *LineItem) error {
	return r.db.QueryRow(ctx, `INSERT INTO invoice_items
(invoice_id, product_id, product_name, tax_category, tax_rate, quantity, unit_price, discount_percent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		item.InvoiceID, item.ProductID, item.ProductName, string(item.Category), db.Numeric(item.TaxRate),
		db.Numeric(item.Quantity), db.Numeric(item.UnitPrice), db.Numeric(item.DiscountPercent),
	).Scan(&item.ID)
}

func (r *repository) UpdateItem(ctx context.Context, item LineItem) error {
	tag, err := r.db.Exec(ctx, `UPDATE invoice_items
SET quantity = $3, unit_price = $4, discount_percent = $5
WHERE id = $1 AND invoice_id = $2`,
		item.ID, item.InvoiceID, db.Numeric(item.Quantity), db.Numeric(item.UnitPrice), db.Numeric(item.DiscountPercent))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", item.ID, ErrItemNotFound)
	}
	return nil
}

func (r *repository) DeleteItem(ctx context.Context, invoiceID, itemID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM invoice_items WHERE id = $1 AND invoice_id = $2`, itemID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}
	return nil
}

func dateParam(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

func optionalDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return dateParam(*t)
}
