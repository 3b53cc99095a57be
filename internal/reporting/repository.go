package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxdesk/taxdesk/internal/platform/db"
)

// Repository persists generated tax reports.
type Repository interface {
	InsertReport(ctx context.Context, report TaxReport) (TaxReport, error)
	GetReport(ctx context.Context, id int64) (TaxReport, error)
	ListReports(ctx context.Context, limit, offset int) ([]TaxReport, int, error)
	LatestReport(ctx context.Context, reportType ReportType, r Range) (TaxReport, bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const reportColumns = `id, report_type, period_start, period_end, include_cancelled, invoice_count,
total_sales, total_vat, total_withholding, total_amount, vat_taxable_base, withholding_taxable_base,
vat_invoice_count, withholding_invoice_count, generated_by, generated_at`

func scanReport(row pgx.Row) (TaxReport, error) {
	var (
		rep                            TaxReport
		reportType                     string
		start, end                     pgtype.Date
		sales, vat, withholding, total pgtype.Numeric
		vatBase, withholdingBase       pgtype.Numeric
		generatedBy                    pgtype.Int8
	)
	err := row.Scan(&rep.ID, &reportType, &start, &end, &rep.IncludeCancelled, &rep.Totals.InvoiceCount,
		&sales, &vat, &withholding, &total, &vatBase, &withholdingBase,
		&rep.Totals.VATInvoiceCount, &rep.Totals.WithholdingInvoiceCount, &generatedBy, &rep.GeneratedAt)
	if err != nil {
		return TaxReport{}, err
	}
	rep.Type = ReportType(reportType)
	rep.Range = Range{Start: dateOf(start.Time), End: dateOf(end.Time)}
	rep.Totals.TotalSales = db.Decimal(sales)
	rep.Totals.TotalVAT = db.Decimal(vat)
	rep.Totals.TotalWithholding = db.Decimal(withholding)
	rep.Totals.TotalAmount = db.Decimal(total)
	rep.Totals.VATTaxableBase = db.Decimal(vatBase)
	rep.Totals.WithholdingTaxableBase = db.Decimal(withholdingBase)
	if generatedBy.Valid {
		rep.GeneratedBy = generatedBy.Int64
	}
	return rep, nil
}

func (r *repository) InsertReport(ctx context.Context, rep TaxReport) (TaxReport, error) {
	t := rep.Totals
	row := r.pool.QueryRow(ctx, `INSERT INTO tax_reports (report_type, period_start, period_end, include_cancelled, invoice_count,
total_sales, total_vat, total_withholding, total_amount, vat_taxable_base, withholding_taxable_base,
vat_invoice_count, withholding_invoice_count, generated_by, generated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, 0), $15)
RETURNING `+reportColumns,
		string(rep.Type), date(rep.Range.Start), date(rep.Range.End), rep.IncludeCancelled, t.InvoiceCount,
		db.Numeric(t.TotalSales), db.Numeric(t.TotalVAT), db.Numeric(t.TotalWithholding), db.Numeric(t.TotalAmount),
		db.Numeric(t.VATTaxableBase), db.Numeric(t.WithholdingTaxableBase),
		t.VATInvoiceCount, t.WithholdingInvoiceCount, rep.GeneratedBy, rep.GeneratedAt)
	stored, err := scanReport(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return TaxReport{}, fmt.Errorf("%s %s: %w", rep.Type, rep.Range, ErrReportExists)
		}
		return TaxReport{}, err
	}
	return stored, nil
}

func (r *repository) GetReport(ctx context.Context, id int64) (TaxReport, error) {
	rep, err := scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM tax_reports WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaxReport{}, fmt.Errorf("report %d: %w", id, ErrNotFound)
		}
		return TaxReport{}, err
	}
	return rep, nil
}

func (r *repository) ListReports(ctx context.Context, limit, offset int) ([]TaxReport, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tax_reports`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+reportColumns+` FROM tax_reports ORDER BY generated_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	reports := make([]TaxReport, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, rep)
	}
	return reports, total, rows.Err()
}

func (r *repository) LatestReport(ctx context.Context, reportType ReportType, rg Range) (TaxReport, bool, error) {
	rep, err := scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM tax_reports
WHERE report_type = $1 AND period_start = $2 AND period_end = $3
ORDER BY generated_at DESC LIMIT 1`, string(reportType), date(rg.Start), date(rg.End)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaxReport{}, false, nil
		}
		return TaxReport{}, false, err
	}
	return rep, true, nil
}

func date(t time.Time) pgtype.Date {
	return pgtype.Date{Time: dateOf(t), Valid: true}
}
