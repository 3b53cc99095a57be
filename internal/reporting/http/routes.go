package reportinghttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

const exportsPerMinute = 10

// MountRoutes registers the /reports endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportsPerMinute, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Route("/reports", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleGenerate)
		r.Get("/period", h.handlePeriod)
		r.Get("/vat", h.handleCategory(tax.CategoryVAT))
		r.Get("/withholding", h.handleCategory(tax.CategoryWithholding))
		r.Get("/declaration", h.handleDeclaration)
		r.Get("/yearly", h.handleYearly)
		r.Get("/monthly", h.handleMonthly)
		r.Get("/dashboard", h.handleDashboard)
		r.Get("/{id}", h.handleView)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Get("/period/export.{format}", h.handlePeriodExport)
			gr.Get("/vat/export.csv", h.handleCategoryCSV(tax.CategoryVAT))
			gr.Get("/withholding/export.csv", h.handleCategoryCSV(tax.CategoryWithholding))
			gr.Get("/{id}/export.{format}", h.handleReportExport)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actorID, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(actorID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
