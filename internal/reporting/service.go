package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/taxdesk/taxdesk/internal/invoicing"
	"github.com/taxdesk/taxdesk/internal/tax"
)

const (
	topCustomersLimit = 10
	topProductsLimit  = 5
	trailingMonths    = 12
	recentDays        = 7
)

// InvoiceSource loads invoices for reporting.
type InvoiceSource interface {
	InvoicesBetween(ctx context.Context, from, to time.Time, includeCancelled bool) ([]invoicing.Invoice, error)
	CountProducts(ctx context.Context) (int, error)
}

// RatesSource supplies the category default rates at call time.
type RatesSource interface {
	Rates(ctx context.Context) (tax.Rates, error)
}

// ServiceParams wires the reporting service.
type ServiceParams struct {
	Invoices InvoiceSource
	Reports  Repository
	Rates    RatesSource
	Cache    *Cache
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service computes period reports and persists tax report snapshots.
type Service struct {
	invoices InvoiceSource
	reports  Repository
	rates    RatesSource
	cache    *Cache
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

// NewService constructs the reporting service.
func NewService(params ServiceParams) *Service {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		invoices: params.Invoices,
		reports:  params.Reports,
		rates:    params.Rates,
		cache:    params.Cache,
		logger:   logger.With(slog.String("component", "reporting")),
		now:      now,
	}
}

// PeriodReport summarises the invoices dated within r.
func (s *Service) PeriodReport(ctx context.Context, r Range, includeCancelled bool) (PeriodReport, error) {
	rates, err := s.rates.Rates(ctx)
	if err != nil {
		return PeriodReport{}, fmt.Errorf("load rates: %w", err)
	}
	var out PeriodReport
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.computePeriod(ctx, r, includeCancelled, rates)
	}, "period", r.String(), strconv.FormatBool(includeCancelled), rates.VAT.String(), rates.Withholding.String())
	return out, err
}

func (s *Service) computePeriod(ctx context.Context, r Range, includeCancelled bool, rates tax.Rates) (PeriodReport, error) {
	candidates, err := s.invoices.InvoicesBetween(ctx, r.Start, r.End, includeCancelled)
	if err != nil {
		return PeriodReport{}, fmt.Errorf("load invoices: %w", err)
	}
	selected := Select(candidates, r, includeCancelled)
	totals, err := Summarize(selected, rates)
	if err != nil {
		return PeriodReport{}, err
	}
	products, err := ProductBreakdown(selected)
	if err != nil {
		return PeriodReport{}, err
	}
	for i := range products {
		products[i].Amount = tax.Round(products[i].Amount)
		products[i].TaxAmount = tax.Round(products[i].TaxAmount)
	}
	return PeriodReport{
		Range:            r,
		IncludeCancelled: includeCancelled,
		Rates:            rates,
		Totals:           totals.Rounded(),
		Products:         products,
		Invoices:         invoiceLines(selected),
		GeneratedAt:      s.now(),
	}, nil
}

// GenerateInput describes a tax report to persist.
type GenerateInput struct {
	Type             ReportType
	Range            Range
	IncludeCancelled bool
}

// GenerateReport computes and stores a tax report summary.
func (s *Service) GenerateReport(ctx context.Context, input GenerateInput, actorID int64) (TaxReport, error) {
	if _, err := ParseReportType(string(input.Type)); err != nil {
		return TaxReport{}, err
	}
	if _, err := NewRange(input.Range.Start, input.Range.End); err != nil {
		return TaxReport{}, err
	}
	period, err := s.PeriodReport(ctx, input.Range, input.IncludeCancelled)
	if err != nil {
		return TaxReport{}, err
	}
	rep, err := s.reports.InsertReport(ctx, TaxReport{
		Type:             input.Type,
		Range:            period.Range,
		IncludeCancelled: input.IncludeCancelled,
		Totals:           period.Totals,
		GeneratedBy:      actorID,
		GeneratedAt:      s.now(),
	})
	if err != nil {
		return TaxReport{}, fmt.Errorf("store report: %w", err)
	}
	s.logger.Info("tax report generated",
		slog.Int64("report_id", rep.ID),
		slog.String("type", string(rep.Type)),
		slog.String("range", rep.Range.String()),
		slog.Int("invoices", rep.Totals.InvoiceCount))
	return rep, nil
}

// SnapshotMonth stores a monthly report for the given month unless one exists.
// The boolean reports whether a new report was written.
func (s *Service) SnapshotMonth(ctx context.Context, year, month int) (TaxReport, bool, error) {
	r, err := MonthRange(year, month)
	if err != nil {
		return TaxReport{}, false, err
	}
	existing, found, err := s.reports.LatestReport(ctx, ReportMonthly, r)
	if err != nil {
		return TaxReport{}, false, err
	}
	if found {
		return existing, false, nil
	}
	rep, err := s.GenerateReport(ctx, GenerateInput{Type: ReportMonthly, Range: r}, 0)
	if errors.Is(err, ErrReportExists) {
		// another process stored the snapshot between the lookup and the insert
		existing, found, lookupErr := s.reports.LatestReport(ctx, ReportMonthly, r)
		if lookupErr != nil {
			return TaxReport{}, false, lookupErr
		}
		if found {
			return existing, false, nil
		}
	}
	if err != nil {
		return TaxReport{}, false, err
	}
	return rep, true, nil
}

// ViewReport returns a stored report together with a recomputation of its
// period over the current invoice state.
func (s *Service) ViewReport(ctx context.Context, id int64) (ReportView, error) {
	rep, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return ReportView{}, err
	}
	current, err := s.PeriodReport(ctx, rep.Range, rep.IncludeCancelled)
	if err != nil {
		return ReportView{}, err
	}
	return ReportView{Report: rep, Current: current}, nil
}

// ListReports pages stored reports, newest first.
func (s *Service) ListReports(ctx context.Context, page, perPage int) ([]TaxReport, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	return s.reports.ListReports(ctx, perPage, (page-1)*perPage)
}

// CategoryReport lists invoices carrying tax of category. A nil range covers
// all invoices.
func (s *Service) CategoryReport(ctx context.Context, category tax.Category, r *Range) (CategoryReport, error) {
	if !category.Valid() {
		return CategoryReport{}, fmt.Errorf("%w: %q", tax.ErrUnknownCategory, string(category))
	}
	rates, err := s.rates.Rates(ctx)
	if err != nil {
		return CategoryReport{}, fmt.Errorf("load rates: %w", err)
	}
	parts := []string{"category", string(category), "all", rates.VAT.String(), rates.Withholding.String()}
	if r != nil {
		parts[2] = r.String()
	}
	var out CategoryReport
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		var from, to time.Time
		if r != nil {
			from, to = r.Start, r.End
		}
		invoices, err := s.invoices.InvoicesBetween(ctx, from, to, false)
		if err != nil {
			return nil, fmt.Errorf("load invoices: %w", err)
		}
		report, err := CategoryInvoices(invoices, category, rates)
		if err != nil {
			return nil, err
		}
		report.Range = r
		return report, nil
	}, parts...)
	return out, err
}

// TaxDeclaration builds the yearly declaration with per-month estimates.
func (s *Service) TaxDeclaration(ctx context.Context, year int) (Declaration, error) {
	rates, err := s.rates.Rates(ctx)
	if err != nil {
		return Declaration{}, fmt.Errorf("load rates: %w", err)
	}
	var out Declaration
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		invoices, err := s.yearInvoices(ctx, year)
		if err != nil {
			return nil, err
		}
		totals, err := Summarize(invoices, rates)
		if err != nil {
			return nil, err
		}
		months, err := MonthlySeries(year, invoices, rates)
		if err != nil {
			return nil, err
		}
		return Declaration{Year: year, Rates: rates, Totals: totals.Rounded(), Months: roundRows(months)}, nil
	}, "declaration", strconv.Itoa(year), rates.VAT.String(), rates.Withholding.String())
	return out, err
}

// YearlySummary returns the annual totals, the twelve-month series and the
// months ranked by sales.
func (s *Service) YearlySummary(ctx context.Context, year int) (YearlySummary, error) {
	rates, err := s.rates.Rates(ctx)
	if err != nil {
		return YearlySummary{}, fmt.Errorf("load rates: %w", err)
	}
	var out YearlySummary
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		invoices, err := s.yearInvoices(ctx, year)
		if err != nil {
			return nil, err
		}
		totals, err := Summarize(invoices, rates)
		if err != nil {
			return nil, err
		}
		months, err := MonthlySeries(year, invoices, rates)
		if err != nil {
			return nil, err
		}
		months = roundRows(months)
		return YearlySummary{Year: year, Totals: totals.Rounded(), Months: months, TopMonths: TopMonths(months)}, nil
	}, "yearly", strconv.Itoa(year), rates.VAT.String(), rates.Withholding.String())
	return out, err
}

// MonthlySummary returns one month's totals, its invoices and top customers.
func (s *Service) MonthlySummary(ctx context.Context, year, month int) (MonthlySummary, error) {
	r, err := MonthRange(year, month)
	if err != nil {
		return MonthlySummary{}, err
	}
	rates, err := s.rates.Rates(ctx)
	if err != nil {
		return MonthlySummary{}, fmt.Errorf("load rates: %w", err)
	}
	var out MonthlySummary
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		candidates, err := s.invoices.InvoicesBetween(ctx, r.Start, r.End, false)
		if err != nil {
			return nil, fmt.Errorf("load invoices: %w", err)
		}
		invoices := Select(candidates, r, false)
		totals, err := Summarize(invoices, rates)
		if err != nil {
			return nil, err
		}
		customers := TopCustomers(invoices, topCustomersLimit)
		for i := range customers {
			customers[i].TotalAmount = tax.Round(customers[i].TotalAmount)
		}
		return MonthlySummary{
			Year:         year,
			Month:        month,
			Label:        time.Month(month).String(),
			Totals:       totals.Rounded(),
			TopCustomers: customers,
			Invoices:     invoiceLines(invoices),
		}, nil
	}, "monthly", r.String(), rates.VAT.String(), rates.Withholding.String())
	return out, err
}

func (s *Service) yearInvoices(ctx context.Context, year int) ([]invoicing.Invoice, error) {
	r, err := YearRange(year)
	if err != nil {
		return nil, err
	}
	candidates, err := s.invoices.InvoicesBetween(ctx, r.Start, r.End, false)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	return Select(candidates, r, false), nil
}

// Dashboard assembles the overview for a period preset. start and end are
// only used by the custom preset.
func (s *Service) Dashboard(ctx context.Context, preset Preset, start, end time.Time) (Dashboard, error) {
	now := s.now()
	r, err := ResolvePreset(preset, now, start, end)
	if err != nil {
		return Dashboard{}, err
	}
	rates, err := s.rates.Rates(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load rates: %w", err)
	}
	var out Dashboard
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.buildDashboard(ctx, preset, r, now, rates)
	}, "dashboard", string(preset), r.String(), dateOf(now).Format(dateLayout), rates.VAT.String(), rates.Withholding.String())
	return out, err
}

func (s *Service) buildDashboard(ctx context.Context, preset Preset, r Range, now time.Time, rates tax.Rates) (Dashboard, error) {
	if preset == "" {
		preset = PresetCurrentMonth
	}
	out := Dashboard{Preset: preset, Range: r}
	today := dateOf(now)
	windowStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(trailingMonths - 1), 0)
	yearStart := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		invoices, err := s.invoices.InvoicesBetween(ctx, r.Start, r.End, false)
		if err != nil {
			return fmt.Errorf("load period invoices: %w", err)
		}
		invoices = Select(invoices, r, false)
		totals, err := Summarize(invoices, rates)
		if err != nil {
			return err
		}
		products, err := TopProducts(invoices, topProductsLimit)
		if err != nil {
			return err
		}
		for i := range products {
			products[i].Amount = tax.Round(products[i].Amount)
			products[i].TaxAmount = tax.Round(products[i].TaxAmount)
		}
		out.Period = totals.Rounded()
		out.TopProducts = products
		return nil
	})

	g.Go(func() error {
		invoices, err := s.invoices.InvoicesBetween(ctx, windowStart, today, false)
		if err != nil {
			return fmt.Errorf("load trailing invoices: %w", err)
		}
		months, err := TrailingMonths(invoices, today, trailingMonths, rates)
		if err != nil {
			return err
		}
		out.Trailing = roundRows(months)
		out.CurrentMonth = months[len(months)-1].Totals
		out.RecentDays = DailySeries(invoices, today, recentDays)
		for i := range out.RecentDays {
			out.RecentDays[i].TotalAmount = tax.Round(out.RecentDays[i].TotalAmount)
			out.RecentDays[i].TotalVAT = tax.Round(out.RecentDays[i].TotalVAT)
		}
		return nil
	})

	g.Go(func() error {
		invoices, err := s.invoices.InvoicesBetween(ctx, yearStart, today, false)
		if err != nil {
			return fmt.Errorf("load year invoices: %w", err)
		}
		totals, err := Summarize(invoices, rates)
		if err != nil {
			return err
		}
		out.CurrentYear = totals.Rounded()
		return nil
	})

	g.Go(func() error {
		n, err := s.invoices.CountProducts(ctx)
		if err != nil {
			return fmt.Errorf("count products: %w", err)
		}
		out.ProductsCount = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

// WarmUp precomputes the reports most requested after an invalidation.
func (s *Service) WarmUp(ctx context.Context) error {
	year := s.now().Year()
	if _, err := s.Dashboard(ctx, PresetCurrentMonth, time.Time{}, time.Time{}); err != nil {
		return fmt.Errorf("warm dashboard: %w", err)
	}
	if _, err := s.YearlySummary(ctx, year); err != nil {
		return fmt.Errorf("warm yearly summary: %w", err)
	}
	if _, err := s.TaxDeclaration(ctx, year); err != nil {
		return fmt.Errorf("warm declaration: %w", err)
	}
	return nil
}

// cached resolves dest through the Redis cache, sharing in-flight
// computations of the same key. Cache failures degrade to a direct compute.
func (s *Service) cached(ctx context.Context, dest any, compute func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.Any("error", err))
		return s.direct(ctx, dest, compute)
	}
	val, err, _ := computeOnce(ctx, &s.group, key, func(ctx context.Context) (any, error) {
		var (
			raw        json.RawMessage
			computeErr error
		)
		err := s.cache.FetchJSON(ctx, key, &raw, func(ctx context.Context) (any, error) {
			v, err := compute(ctx)
			computeErr = err
			return v, err
		})
		if err == nil {
			return raw, nil
		}
		if computeErr != nil {
			return nil, computeErr
		}
		s.logger.Warn("report cache unavailable", slog.String("key", key), slog.Any("error", err))
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return err
	}
	switch raw := val.(type) {
	case json.RawMessage:
		return json.Unmarshal(raw, dest)
	case []byte:
		return json.Unmarshal(raw, dest)
	}
	return fmt.Errorf("reporting: unexpected cached value %T", val)
}

func (s *Service) direct(ctx context.Context, dest any, compute func(context.Context) (any, error)) error {
	v, err := compute(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
