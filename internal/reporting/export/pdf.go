package export

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/taxdesk/taxdesk/internal/reporting"
	"github.com/taxdesk/taxdesk/internal/settings"
	"github.com/taxdesk/taxdesk/web"
)

// PDFClient exposes the subset of the Gotenberg client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Document is the data handed to the period report template.
type Document struct {
	Company     settings.Company
	Report      reporting.PeriodReport
	GeneratedAt time.Time
}

// Renderer turns period reports into HTML and, through Gotenberg, PDF.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewRenderer parses the period report template. A nil client limits the
// renderer to HTML output.
func NewRenderer(client PDFClient) (*Renderer, error) {
	printer := message.NewPrinter(language.English)
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006")
		},
		"formatMoney": func(v decimal.Decimal) string {
			return printer.Sprint(number.Decimal(v.InexactFloat64(), number.Scale(2)))
		},
		"formatRate": func(v decimal.Decimal) string {
			return v.StringFixed(2) + "%"
		},
	}
	tpl, err := template.New("period_report.html").Funcs(funcMap).ParseFS(web.Templates, "templates/reports/period_report.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, client: client}, nil
}

// HTML executes the template.
func (r *Renderer) HTML(doc Document) ([]byte, error) {
	if r == nil || r.tpl == nil {
		return nil, errors.New("report renderer not initialised")
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PDF renders the document HTML and converts it with Gotenberg.
func (r *Renderer) PDF(ctx context.Context, doc Document) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("pdf client not configured")
	}
	html, err := r.HTML(doc)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, string(html))
}
