package invoicing

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/taxdesk/taxdesk/internal/platform/httpx"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

// AuditTrail lists recorded audit entries for an entity.
type AuditTrail interface {
	List(ctx context.Context, entity, entityID string) ([]shared.AuditLog, error)
}

// Handler exposes the products and invoices JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	trail     AuditTrail
	validator *validator.Validate
}

// NewHandler constructs the invoicing HTTP handler. trail may be nil.
func NewHandler(logger *slog.Logger, service *Service, trail AuditTrail) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, trail: trail, validator: httpx.NewValidator()}
}

// MountRoutes registers /products and /invoices under r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.getProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
	})
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.createInvoice)
		r.Get("/{id}", h.getInvoice)
		r.Put("/{id}", h.updateHeader)
		r.Post("/{id}/items", h.addItem)
		r.Put("/{id}/items/{itemID}", h.updateItem)
		r.Delete("/{id}/items/{itemID}", h.removeItem)
		r.Post("/{id}/cancel", h.cancel)
		r.Get("/{id}/audit", h.auditTrail)
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r)
	q := r.URL.Query()
	filter := ListProductsFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		ActiveOnly: q.Get("active") == "true",
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
	if raw := q.Get("tax_category"); raw != "" {
		category, err := tax.ParseCategory(raw)
		if err != nil {
			h.respondError(w, err)
			return
		}
		filter.TaxCategory = category
	}
	products, total, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[Product]{Data: products, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.respondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req productRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.respondError(w, err)
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r)
	q := r.URL.Query()
	filter := ListInvoicesFilter{
		Search:           strings.TrimSpace(q.Get("search")),
		IncludeCancelled: q.Get("include_cancelled") == "true",
		Limit:            perPage,
		Offset:           (page - 1) * perPage,
	}
	var err error
	if filter.From, err = parseOptionalDate(q.Get("date_from")); err != nil {
		h.respondError(w, err)
		return
	}
	if filter.To, err = parseOptionalDate(q.Get("date_to")); err != nil {
		h.respondError(w, err)
		return
	}
	invoices, total, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[Invoice]{Data: invoices, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createInvoiceRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	header, err := req.toHeader()
	if err != nil {
		h.respondError(w, err)
		return
	}
	input := CreateInvoiceInput{
		Header:         header,
		Items:          make([]ItemInput, 0, len(req.Items)),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, item.toInput())
	}
	inv, err := h.service.CreateInvoice(r.Context(), input, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Location", "/api/invoices/"+strconv.FormatInt(inv.ID, 10))
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req headerRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	header, err := req.toHeader()
	if err != nil {
		h.respondError(w, err)
		return
	}
	inv, err := h.service.UpdateHeader(r.Context(), id, header, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req itemRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	inv, err := h.service.AddItem(r.Context(), id, req.toInput(), actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req updateItemRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	inv, err := h.service.UpdateItem(r.Context(), id, itemID, req.Quantity, req.UnitPrice, req.DiscountPercent, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	inv, err := h.service.RemoveItem(r.Context(), id, itemID, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	inv, changed, err := h.service.CancelInvoice(r.Context(), id, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := cancelResponse{Invoice: inv, Changed: changed}
	if !changed {
		resp.Warning = "invoice already cancelled"
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if h.trail == nil {
		httpx.JSON(w, http.StatusOK, []shared.AuditLog{})
		return
	}
	if _, err := h.service.GetInvoice(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	logs, err := h.trail.List(r.Context(), "invoice", strconv.FormatInt(id, 10))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		h.respondError(w, shared.ErrActorMissing)
		return 0, false
	}
	return actorID, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	classified, known := httpx.Classify(err,
		httpx.ErrorMapping{Err: ErrNotFound, Class: httpx.ErrNotFound},
		httpx.ErrorMapping{Err: ErrItemNotFound, Class: httpx.ErrNotFound},
		httpx.ErrorMapping{Err: ErrInvoiceLocked, Class: httpx.ErrConflict},
		httpx.ErrorMapping{Err: ErrProductInUse, Class: httpx.ErrConflict},
		httpx.ErrorMapping{Err: ErrDuplicateNumber, Class: httpx.ErrDuplicate},
		httpx.ErrorMapping{Err: ErrDuplicateRequest, Class: httpx.ErrDuplicate},
		httpx.ErrorMapping{Err: ErrInvalidProduct, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: ErrInvalidQuantity, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: ErrInvalidPrice, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: ErrInvalidDiscount, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: ErrInvalidHeader, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: tax.ErrInvalidRate, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: tax.ErrUnknownCategory, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: shared.ErrInvalidInput, Class: httpx.ErrValidation},
		httpx.ErrorMapping{Err: shared.ErrActorMissing, Class: httpx.ErrUnauthorized},
	)
	if !known {
		h.logger.Error("invoicing request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

func parseOptionalDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.ErrInvalidInput
	}
	return t, nil
}
