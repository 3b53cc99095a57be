package reportinghttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/taxdesk/taxdesk/internal/platform/httpx"
	"github.com/taxdesk/taxdesk/internal/reporting"
	"github.com/taxdesk/taxdesk/internal/reporting/export"
	"github.com/taxdesk/taxdesk/internal/settings"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

const (
	dateLayout = "2006-01-02"
	pdfTimeout = 30 * time.Second
)

var errPDFUnavailable = errors.New("reporting: pdf export not configured")

// ReportService defines the reporting operations used by the handler.
type ReportService interface {
	PeriodReport(ctx context.Context, r reporting.Range, includeCancelled bool) (reporting.PeriodReport, error)
	GenerateReport(ctx context.Context, input reporting.GenerateInput, actorID int64) (reporting.TaxReport, error)
	ViewReport(ctx context.Context, id int64) (reporting.ReportView, error)
	ListReports(ctx context.Context, page, perPage int) ([]reporting.TaxReport, int, error)
	CategoryReport(ctx context.Context, category tax.Category, r *reporting.Range) (reporting.CategoryReport, error)
	TaxDeclaration(ctx context.Context, year int) (reporting.Declaration, error)
	YearlySummary(ctx context.Context, year int) (reporting.YearlySummary, error)
	MonthlySummary(ctx context.Context, year, month int) (reporting.MonthlySummary, error)
	Dashboard(ctx context.Context, preset reporting.Preset, start, end time.Time) (reporting.Dashboard, error)
}

// SettingsSource supplies the company profile printed on PDF exports.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Settings, error)
}

// PDFService renders period reports to PDF bytes.
type PDFService interface {
	PDF(ctx context.Context, doc export.Document) ([]byte, error)
}

// Handler serves the reporting JSON API and report exports.
type Handler struct {
	logger    *slog.Logger
	service   ReportService
	settings  SettingsSource
	pdf       PDFService
	validator *validator.Validate
	csvPool   sync.Pool
	now       func() time.Time
}

// NewHandler constructs the reporting HTTP handler. pdf may be nil, in which
// case PDF exports answer 503.
func NewHandler(logger *slog.Logger, service ReportService, settings SettingsSource, pdf PDFService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:    logger,
		service:   service,
		settings:  settings,
		pdf:       pdf,
		validator: httpx.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

type generateRequest struct {
	ReportType       string `json:"report_type" validate:"required,oneof=monthly quarterly yearly custom"`
	StartDate        string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          string `json:"end_date" validate:"required,datetime=2006-01-02"`
	IncludeCancelled bool   `json:"include_cancelled"`
}

type listResponse struct {
	Data       []reporting.TaxReport `json:"data"`
	Pagination shared.Pagination     `json:"pagination"`
}

func (h *Handler) handlePeriod(w http.ResponseWriter, r *http.Request) {
	rng, includeCancelled, err := periodQuery(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	rep, err := h.service.PeriodReport(r.Context(), rng, includeCancelled)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

func (h *Handler) handlePeriodExport(w http.ResponseWriter, r *http.Request) {
	rng, includeCancelled, err := periodQuery(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	rep, err := h.service.PeriodReport(r.Context(), rng, includeCancelled)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.writeExport(w, r, rep, "tax-report-"+rng.String())
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req generateRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	start, _ := time.Parse(dateLayout, req.StartDate)
	end, _ := time.Parse(dateLayout, req.EndDate)
	rep, err := h.service.GenerateReport(r.Context(), reporting.GenerateInput{
		Type:             reporting.ReportType(req.ReportType),
		Range:            reporting.Range{Start: start, End: end},
		IncludeCancelled: req.IncludeCancelled,
	}, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/reports/%d", rep.ID))
	httpx.JSON(w, http.StatusCreated, rep)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r)
	reports, total, err := h.service.ListReports(r.Context(), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: reports, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := h.service.ViewReport(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleReportExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := h.service.ViewReport(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.writeExport(w, r, view.Current, fmt.Sprintf("tax-report-%d-%s", id, view.Report.Range.String()))
}

func (h *Handler) handleCategory(category tax.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := h.loadCategory(w, r, category)
		if !ok {
			return
		}
		httpx.JSON(w, http.StatusOK, rep)
	}
}

func (h *Handler) handleCategoryCSV(category tax.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := h.loadCategory(w, r, category)
		if !ok {
			return
		}
		buf := h.csvPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer h.csvPool.Put(buf)
		if err := export.WriteCategoryCSV(buf, rep); err != nil {
			h.respondError(w, err)
			return
		}
		name := string(category) + "-report"
		if rep.Range != nil {
			name += "-" + rep.Range.String()
		}
		httpx.Attachment(w, "text/csv; charset=utf-8", name+".csv", buf.Bytes())
	}
}

// loadCategory reads an optional start/end pair; without one the report
// covers every invoice.
func (h *Handler) loadCategory(w http.ResponseWriter, r *http.Request, category tax.Category) (reporting.CategoryReport, bool) {
	var rng *reporting.Range
	q := r.URL.Query()
	if q.Get("start") != "" || q.Get("end") != "" {
		parsed, _, err := periodQuery(r)
		if err != nil {
			h.respondError(w, err)
			return reporting.CategoryReport{}, false
		}
		rng = &parsed
	}
	rep, err := h.service.CategoryReport(r.Context(), category, rng)
	if err != nil {
		h.respondError(w, err)
		return reporting.CategoryReport{}, false
	}
	return rep, true
}

func (h *Handler) handleDeclaration(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	decl, err := h.service.TaxDeclaration(r.Context(), year)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decl)
}

func (h *Handler) handleYearly(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	summary, err := h.service.YearlySummary(r.Context(), year)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	month := int(h.now().Month())
	if raw := strings.TrimSpace(r.URL.Query().Get("month")); raw != "" {
		month, err = strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, fmt.Errorf("%w: month", shared.ErrInvalidInput))
			return
		}
	}
	summary, err := h.service.MonthlySummary(r.Context(), year, month)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	preset, err := reporting.ParsePreset(strings.TrimSpace(q.Get("preset")))
	if err != nil {
		h.respondError(w, err)
		return
	}
	var start, end time.Time
	if preset == reporting.PresetCustom {
		if start, err = parseDate(q.Get("start"), "start"); err != nil {
			h.respondError(w, err)
			return
		}
		if end, err = parseDate(q.Get("end"), "end"); err != nil {
			h.respondError(w, err)
			return
		}
	}
	dash, err := h.service.Dashboard(r.Context(), preset, start, end)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dash)
}

func (h *Handler) writeExport(w http.ResponseWriter, r *http.Request, rep reporting.PeriodReport, basename string) {
	switch format := chi.URLParam(r, "format"); format {
	case "csv":
		buf := h.csvPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer h.csvPool.Put(buf)
		if err := export.WritePeriodCSV(buf, rep); err != nil {
			h.respondError(w, err)
			return
		}
		httpx.Attachment(w, "text/csv; charset=utf-8", basename+".csv", buf.Bytes())
	case "xlsx":
		buf := &bytes.Buffer{}
		if err := export.WritePeriodXLSX(buf, rep); err != nil {
			h.respondError(w, err)
			return
		}
		httpx.Attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", basename+".xlsx", buf.Bytes())
	case "pdf":
		if h.pdf == nil {
			h.respondError(w, errPDFUnavailable)
			return
		}
		doc := export.Document{Report: rep, GeneratedAt: h.now()}
		if h.settings != nil {
			snap, err := h.settings.Snapshot(r.Context())
			if err != nil {
				h.respondError(w, err)
				return
			}
			doc.Company = snap.Company
		}
		ctx, cancel := context.WithTimeout(r.Context(), pdfTimeout)
		defer cancel()
		pdf, err := h.pdf.PDF(ctx, doc)
		if err != nil {
			h.logger.Error("render report pdf", slog.Any("error", err))
			httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "pdf rendering failed")
			return
		}
		httpx.Attachment(w, "application/pdf", basename+".pdf", pdf)
	default:
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unsupported export format "+strconv.Quote(format))
	}
}

func (h *Handler) yearParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("year"))
	if raw == "" {
		return h.now().Year(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1900 || year > 9999 {
		return 0, fmt.Errorf("%w: year", shared.ErrInvalidInput)
	}
	return year, nil
}

func periodQuery(r *http.Request) (reporting.Range, bool, error) {
	q := r.URL.Query()
	start, err := parseDate(q.Get("start"), "start")
	if err != nil {
		return reporting.Range{}, false, err
	}
	end, err := parseDate(q.Get("end"), "end")
	if err != nil {
		return reporting.Range{}, false, err
	}
	rng, err := reporting.NewRange(start, end)
	if err != nil {
		return reporting.Range{}, false, err
	}
	return rng, q.Get("include_cancelled") == "true", nil
}

func parseDate(raw, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", shared.ErrInvalidInput, field)
	}
	return t, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPDFUnavailable) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", err.Error())
		return
	}
	classified, known := httpx.Classify(err,
		httpx.ErrorMapping{Err: reporting.ErrNotFound, Class: httpx.ErrNotFound},
		httpx.ErrorMapping{Err: reporting.ErrReportExists, Class: httpx.ErrConflict},
		httpx.ErrorMapping{Err: reporting.ErrInvalidRange, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: reporting.ErrInvalidReportType, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: reporting.ErrInvalidPreset, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: tax.ErrUnknownCategory, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: tax.ErrInvalidRate, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: shared.ErrInvalidInput, Class: httpx.ErrValidation},
	)
	if !known {
		h.logger.Error("reporting request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}
