package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/db/migrations"
	"github.com/taxdesk/taxdesk/internal/app"
	"github.com/taxdesk/taxdesk/internal/invoicing"
	"github.com/taxdesk/taxdesk/internal/platform/db"
	"github.com/taxdesk/taxdesk/internal/settings"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

const seedActor int64 = 1

type productSeed struct {
	name     string
	price    string
	category tax.Category
	rate     string
}

var productSeeds = []productSeed{
	{name: "Consulting Hour", price: "150.00", category: tax.CategoryVAT},
	{name: "Software License", price: "1200.00", category: tax.CategoryVAT},
	{name: "Support Plan", price: "300.00", category: tax.CategoryVAT, rate: "10"},
	{name: "Freelance Design", price: "800.00", category: tax.CategoryWithholding},
	{name: "Training Session", price: "450.00", category: tax.CategoryWithholding, rate: "3"},
}

var customers = []invoicing.Customer{
	{Name: "Acme Trading", TaxID: "100-200-300", Address: "12 Harbour Road"},
	{Name: "Beta Logistics", TaxID: "200-300-400", Address: "7 Depot Lane"},
	{Name: "Gamma Retail", Address: "45 Market Street"},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	if _, err := migrations.Apply(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("→ Seeding settings...")
	settingsService := settings.NewService(settings.NewRepository(pool), cfg.SettingsDefaults(), nil, nil, logger)
	if err := settingsService.EnsureDefaults(ctx); err != nil {
		log.Fatalf("seed settings: %v", err)
	}

	service := invoicing.NewService(invoicing.ServiceParams{
		Repo:        invoicing.NewRepository(pool),
		Settings:    settingsService,
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Logger:      logger,
	})

	fmt.Println("→ Seeding products...")
	products, err := seedProducts(ctx, service)
	if err != nil {
		log.Fatalf("seed products: %v", err)
	}

	fmt.Println("→ Seeding invoices...")
	created, err := seedInvoices(ctx, service, products, time.Now().UTC())
	if err != nil {
		log.Fatalf("seed invoices: %v", err)
	}

	fmt.Printf("✓ Seed complete at %s (%d new invoices)\n", time.Now().Format(time.RFC3339), created)
}

func seedProducts(ctx context.Context, service *invoicing.Service) ([]invoicing.Product, error) {
	existing, _, err := service.ListProducts(ctx, invoicing.ListProductsFilter{Limit: 100})
	if err != nil {
		return nil, err
	}
	byName := make(map[string]invoicing.Product, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}
	out := make([]invoicing.Product, 0, len(productSeeds))
	for _, seed := range productSeeds {
		if p, ok := byName[seed.name]; ok {
			out = append(out, p)
			continue
		}
		input := invoicing.ProductInput{
			Name:        seed.name,
			Price:       decimal.RequireFromString(seed.price),
			TaxCategory: seed.category,
			Active:      true,
		}
		if seed.rate != "" {
			rate := decimal.RequireFromString(seed.rate)
			input.TaxRate = &rate
		}
		p, err := service.CreateProduct(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", seed.name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// seedInvoices spreads a few invoices over each of the last three months.
// Keys make reruns skip what already exists.
func seedInvoices(ctx context.Context, service *invoicing.Service, products []invoicing.Product, now time.Time) (int, error) {
	created := 0
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 3; m++ {
		base := monthStart.AddDate(0, -m, 0)
		for i, customer := range customers {
			key := fmt.Sprintf("seed-%s-%d", base.Format("2006-01"), i)
			first := products[(m+i)%len(products)]
			second := products[(m+i+2)%len(products)]
			input := invoicing.CreateInvoiceInput{
				Header: invoicing.Header{
					Customer:    customer,
					InvoiceDate: base.AddDate(0, 0, 3+i*7),
				},
				Items: []invoicing.ItemInput{
					{ProductID: first.ID, Quantity: decimal.NewFromInt(int64(i + 1))},
					{ProductID: second.ID, Quantity: decimal.NewFromInt(2), DiscountPercent: decimal.NewFromInt(5)},
				},
				IdempotencyKey: key,
			}
			_, err := service.CreateInvoice(ctx, input, seedActor)
			if errors.Is(err, invoicing.ErrDuplicateRequest) {
				continue
			}
			if err != nil {
				return created, fmt.Errorf("%s: %w", key, err)
			}
			created++
		}
	}
	return created, nil
}
