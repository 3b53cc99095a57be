package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

const dateLayout = "2006-01-02"

type productRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	Price       decimal.Decimal  `json:"price" validate:"gte=0,decimals=2"`
	TaxCategory string           `json:"tax_category" validate:"required,oneof=vat withholding"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty" validate:"omitempty,gte=0,lte=100,decimals=2"`
	Active      *bool            `json:"active,omitempty"`
}

func (req productRequest) toInput() (ProductInput, error) {
	category, err := tax.ParseCategory(req.TaxCategory)
	if err != nil {
		return ProductInput{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		TaxCategory: category,
		TaxRate:     req.TaxRate,
		Active:      active,
	}, nil
}

type headerRequest struct {
	CustomerName    string `json:"customer_name" validate:"required,max=200"`
	CustomerTaxID   string `json:"customer_tax_id" validate:"max=50"`
	CustomerAddress string `json:"customer_address" validate:"max=1000"`
	InvoiceDate     string `json:"invoice_date" validate:"required,datetime=2006-01-02"`
	DueDate         string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Notes           string `json:"notes" validate:"max=2000"`
}

func (req headerRequest) toHeader() (Header, error) {
	invoiceDate, err := time.Parse(dateLayout, req.InvoiceDate)
	if err != nil {
		return Header{}, fmt.Errorf("%w: invoice_date", shared.ErrInvalidInput)
	}
	header := Header{
		Customer: Customer{
			Name:    req.CustomerName,
			TaxID:   req.CustomerTaxID,
			Address: req.CustomerAddress,
		},
		InvoiceDate: invoiceDate,
		Notes:       req.Notes,
	}
	if req.DueDate != "" {
		due, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			return Header{}, fmt.Errorf("%w: due_date", shared.ErrInvalidInput)
		}
		header.DueDate = &due
	}
	return header, nil
}

type itemRequest struct {
	ProductID       int64            `json:"product_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"gt=0,decimals=3"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty" validate:"omitempty,gte=0,decimals=2"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" validate:"gte=0,lte=100,decimals=2"`
}

func (req itemRequest) toInput() ItemInput {
	return ItemInput{
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		DiscountPercent: req.DiscountPercent,
	}
}

type createInvoiceRequest struct {
	headerRequest
	Items []itemRequest `json:"items" validate:"max=500,dive"`
}

type updateItemRequest struct {
	Quantity        decimal.Decimal `json:"quantity" validate:"gt=0,decimals=3"`
	UnitPrice       decimal.Decimal `json:"unit_price" validate:"gte=0,decimals=2"`
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"gte=0,lte=100,decimals=2"`
}

type listResponse[T any] struct {
	Data       []T               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

type cancelResponse struct {
	Invoice Invoice `json:"invoice"`
	Changed bool    `json:"changed"`
	Warning string  `json:"warning,omitempty"`
}
