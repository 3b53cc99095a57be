package settings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/platform/httpx"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

type updateRequest struct {
	CompanyName            string          `json:"company_name" validate:"max=200"`
	CompanyAddress         string          `json:"company_address" validate:"max=1000"`
	CompanyTaxID           string          `json:"company_tax_id" validate:"max=50"`
	DefaultVATRate         decimal.Decimal `json:"default_vat_rate" validate:"gt=0,lte=100,decimals=2"`
	DefaultWithholdingRate decimal.Decimal `json:"default_withholding_rate" validate:"gt=0,lte=100,decimals=2"`
	InvoicePrefix          string          `json:"invoice_prefix" validate:"required,max=20"`
	InvoiceStartNumber     int64           `json:"invoice_start_number" validate:"required,gte=1"`
}

// Handler exposes GET and PUT /settings.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the settings handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers the settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/settings", h.get)
	r.Put("/settings", h.update)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("load settings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req updateRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	next := Settings{
		Company:            Company{Name: req.CompanyName, Address: req.CompanyAddress, TaxID: req.CompanyTaxID},
		Rates:              tax.Rates{VAT: req.DefaultVATRate, Withholding: req.DefaultWithholdingRate},
		InvoicePrefix:      req.InvoicePrefix,
		InvoiceStartNumber: req.InvoiceStartNumber,
	}
	snap, err := h.service.Update(r.Context(), next, actorID)
	if err != nil {
		classified, known := httpx.Classify(err, httpx.ErrorMapping{Err: ErrInvalidSettings, Class: httpx.ErrValidation})
		if !known {
			h.logger.Error("update settings", slog.Any("error", err))
		}
		httpx.RespondError(w, classified)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}
