package reportinghttp

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/reporting"
	"github.com/taxdesk/taxdesk/internal/reporting/export"
	"github.com/taxdesk/taxdesk/internal/settings"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

type stubService struct {
	period      reporting.PeriodReport
	lastRange   reporting.Range
	lastInclude bool
	lastInput   reporting.GenerateInput
	lastActor   int64
	lastCat     tax.Category
	lastCatRng  *reporting.Range
	lastYear    int
	lastMonth   int
	lastPreset  reporting.Preset
	reports     map[int64]reporting.TaxReport
	generateErr error
}

func (s *stubService) PeriodReport(ctx context.Context, r reporting.Range, includeCancelled bool) (reporting.PeriodReport, error) {
	s.lastRange, s.lastInclude = r, includeCancelled
	rep := s.period
	rep.Range = r
	rep.IncludeCancelled = includeCancelled
	return rep, nil
}

func (s *stubService) GenerateReport(ctx context.Context, input reporting.GenerateInput, actorID int64) (reporting.TaxReport, error) {
	if _, err := reporting.NewRange(input.Range.Start, input.Range.End); err != nil {
		return reporting.TaxReport{}, err
	}
	if s.generateErr != nil {
		return reporting.TaxReport{}, s.generateErr
	}
	s.lastInput, s.lastActor = input, actorID
	rep := reporting.TaxReport{ID: 7, Type: input.Type, Range: input.Range, IncludeCancelled: input.IncludeCancelled, GeneratedBy: actorID}
	s.reports[rep.ID] = rep
	return rep, nil
}

func (s *stubService) ViewReport(ctx context.Context, id int64) (reporting.ReportView, error) {
	rep, ok := s.reports[id]
	if !ok {
		return reporting.ReportView{}, reporting.ErrNotFound
	}
	current, _ := s.PeriodReport(ctx, rep.Range, rep.IncludeCancelled)
	return reporting.ReportView{Report: rep, Current: current}, nil
}

func (s *stubService) ListReports(ctx context.Context, page, perPage int) ([]reporting.TaxReport, int, error) {
	out := make([]reporting.TaxReport, 0, len(s.reports))
	for _, rep := range s.reports {
		out = append(out, rep)
	}
	return out, len(out), nil
}

func (s *stubService) CategoryReport(ctx context.Context, category tax.Category, r *reporting.Range) (reporting.CategoryReport, error) {
	s.lastCat, s.lastCatRng = category, r
	return reporting.CategoryReport{
		Category:         category,
		Range:            r,
		TotalTax:         decimal.RequireFromString("28"),
		TotalTaxableBase: decimal.RequireFromString("200"),
		Invoices:         s.period.Invoices,
	}, nil
}

func (s *stubService) TaxDeclaration(ctx context.Context, year int) (reporting.Declaration, error) {
	s.lastYear = year
	return reporting.Declaration{Year: year}, nil
}

func (s *stubService) YearlySummary(ctx context.Context, year int) (reporting.YearlySummary, error) {
	s.lastYear = year
	return reporting.YearlySummary{Year: year}, nil
}

func (s *stubService) MonthlySummary(ctx context.Context, year, month int) (reporting.MonthlySummary, error) {
	if _, err := reporting.MonthRange(year, month); err != nil {
		return reporting.MonthlySummary{}, err
	}
	s.lastYear, s.lastMonth = year, month
	return reporting.MonthlySummary{Year: year, Month: month}, nil
}

func (s *stubService) Dashboard(ctx context.Context, preset reporting.Preset, start, end time.Time) (reporting.Dashboard, error) {
	s.lastPreset = preset
	return reporting.Dashboard{Preset: preset}, nil
}

type stubSettings struct{}

func (stubSettings) Snapshot(context.Context) (settings.Settings, error) {
	return settings.Settings{Company: settings.Company{Name: "Taxdesk Ltd"}}, nil
}

type stubPDF struct {
	last export.Document
	err  error
}

func (s *stubPDF) PDF(ctx context.Context, doc export.Document) ([]byte, error) {
	s.last = doc
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF-1.7"), nil
}

func newStubService() *stubService {
	return &stubService{
		period: reporting.PeriodReport{
			Rates: tax.DefaultRates(),
			Totals: reporting.Totals{
				InvoiceCount: 1,
				TotalSales:   decimal.RequireFromString("200"),
				TotalVAT:     decimal.RequireFromString("28"),
				TotalAmount:  decimal.RequireFromString("228"),
			},
			Invoices: []reporting.InvoiceLine{{ID: 1, Number: "INV-000001", CustomerName: "Acme", InvoiceDate: "2024-03-15",
				Subtotal: decimal.RequireFromString("200"), VATAmount: decimal.RequireFromString("28"), TotalAmount: decimal.RequireFromString("228")}},
		},
		reports: map[int64]reporting.TaxReport{},
	}
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actorID, err := shared.ParseActor(req); err == nil && actorID > 0 {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actorID))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.MountRoutes(r)
	return r
}

func newTestHandler(pdf PDFService) (*Handler, *stubService) {
	svc := newStubService()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, stubSettings{}, pdf)
	h.WithNow(func() time.Time { return time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC) })
	return h, svc
}

func do(t *testing.T, handler http.Handler, method, target string, body any, actor string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if actor != "" {
		req.Header.Set(shared.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPeriodReportEndpoint(t *testing.T) {
	h, svc := newTestHandler(nil)
	router := newRouter(h)

	rec := do(t, router, http.MethodGet, "/reports/period?start=2024-03-01&end=2024-03-31&include_cancelled=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.lastInclude)
	assert.Equal(t, "2024-03-01_2024-03-31", svc.lastRange.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	totals := body["totals"].(map[string]any)
	assert.Equal(t, "228", totals["total_amount"])

	rec = do(t, router, http.MethodGet, "/reports/period?start=2024-03-31&end=2024-03-01", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodGet, "/reports/period?start=March", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGenerateAndViewReport(t *testing.T) {
	h, svc := newTestHandler(nil)
	router := newRouter(h)
	payload := map[string]any{"report_type": "monthly", "start_date": "2024-03-01", "end_date": "2024-03-31", "include_cancelled": true}

	rec := do(t, router, http.MethodPost, "/reports", payload, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/reports", payload, "9")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/reports/7", rec.Header().Get("Location"))
	assert.Equal(t, int64(9), svc.lastActor)
	assert.True(t, svc.lastInput.IncludeCancelled)

	rec = do(t, router, http.MethodPost, "/reports", map[string]any{"report_type": "weekly", "start_date": "2024-03-01", "end_date": "2024-03-31"}, "9")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, "/reports", map[string]any{"report_type": "custom", "start_date": "2024-03-31", "end_date": "2024-03-01"}, "9")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodGet, "/reports/7", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, true, view["current"].(map[string]any)["include_cancelled"])

	rec = do(t, router, http.MethodGet, "/reports", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/reports/99", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/reports/abc", nil, "").Code)
}

func TestGenerateExistingSnapshotConflicts(t *testing.T) {
	h, svc := newTestHandler(nil)
	router := newRouter(h)
	svc.generateErr = fmt.Errorf("store report: %w", reporting.ErrReportExists)

	rec := do(t, router, http.MethodPost, "/reports", map[string]any{"report_type": "monthly", "start_date": "2024-03-01", "end_date": "2024-03-31"}, "9")
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestCategoryEndpoints(t *testing.T) {
	h, svc := newTestHandler(nil)
	router := newRouter(h)

	rec := do(t, router, http.MethodGet, "/reports/vat", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tax.CategoryVAT, svc.lastCat)
	assert.Nil(t, svc.lastCatRng)

	rec = do(t, router, http.MethodGet, "/reports/withholding?start=2024-01-01&end=2024-12-31", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tax.CategoryWithholding, svc.lastCat)
	require.NotNil(t, svc.lastCatRng)

	rec = do(t, router, http.MethodGet, "/reports/vat/export.csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "vat-report.csv")
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"Total", "", "", "28.00", "200.00"}, records[len(records)-1])
}

func TestSummaryEndpoints(t *testing.T) {
	h, svc := newTestHandler(nil)
	router := newRouter(h)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/reports/declaration", nil, "").Code)
	assert.Equal(t, 2024, svc.lastYear)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/reports/yearly?year=2023", nil, "").Code)
	assert.Equal(t, 2023, svc.lastYear)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/reports/monthly", nil, "").Code)
	assert.Equal(t, 5, svc.lastMonth)

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, router, http.MethodGet, "/reports/monthly?month=13", nil, "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, router, http.MethodGet, "/reports/yearly?year=abc", nil, "").Code)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/reports/dashboard", nil, "").Code)
	assert.Equal(t, reporting.PresetCurrentMonth, svc.lastPreset)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, router, http.MethodGet, "/reports/dashboard?preset=fortnight", nil, "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, router, http.MethodGet, "/reports/dashboard?preset=custom&start=2024-01-01", nil, "").Code)
}

func TestPeriodExports(t *testing.T) {
	pdf := &stubPDF{}
	h, _ := newTestHandler(pdf)
	router := newRouter(h)
	query := "?start=2024-03-01&end=2024-03-31"

	rec := do(t, router, http.MethodGet, "/reports/period/export.csv"+query, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="tax-report-2024-03-01_2024-03-31.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "INV-000001")

	rec = do(t, router, http.MethodGet, "/reports/period/export.xlsx"+query, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = do(t, router, http.MethodGet, "/reports/period/export.pdf"+query, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Taxdesk Ltd", pdf.last.Company.Name)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/reports/period/export.doc"+query, nil, "").Code)

	pdf.err = errors.New("gotenberg down")
	assert.Equal(t, http.StatusBadGateway, do(t, router, http.MethodGet, "/reports/period/export.pdf"+query, nil, "").Code)
}

func TestPDFExportWithoutRenderer(t *testing.T) {
	h, _ := newTestHandler(nil)
	rec := do(t, newRouter(h), http.MethodGet, "/reports/period/export.pdf?start=2024-03-01&end=2024-03-31", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStoredReportExport(t *testing.T) {
	h, svc := newTestHandler(nil)
	router := newRouter(h)
	r, err := reporting.MonthRange(2024, 2)
	require.NoError(t, err)
	svc.reports[3] = reporting.TaxReport{ID: 3, Type: reporting.ReportMonthly, Range: r}

	rec := do(t, router, http.MethodGet, "/reports/3/export.csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "tax-report-3-2024-02-01_2024-02-29.csv")
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/reports/4/export.csv", nil, "").Code)
}

func TestExportsAreRateLimited(t *testing.T) {
	h, _ := newTestHandler(nil)
	router := newRouter(h)

	var last int
	for i := 0; i < exportsPerMinute+1; i++ {
		last = do(t, router, http.MethodGet, "/reports/vat/export.csv", nil, "5").Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/reports/vat/export.csv", nil, "6").Code, "limits are per actor")
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/reports/vat", nil, "5").Code, "json endpoints are not limited")
}
