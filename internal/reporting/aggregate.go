package reporting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/invoicing"
	"github.com/taxdesk/taxdesk/internal/tax"
)

// Select keeps the invoices dated within r. Cancelled invoices are dropped
// unless includeCancelled is set.
func Select(invoices []invoicing.Invoice, r Range, includeCancelled bool) []invoicing.Invoice {
	out := make([]invoicing.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Cancelled && !includeCancelled {
			continue
		}
		if !r.Contains(inv.Header.InvoiceDate) {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// Summarize totals the given invoices. The taxable base per category is
// estimated with PerInvoiceTaxableBase using the category default rate.
func Summarize(invoices []invoicing.Invoice, rates tax.Rates) (Totals, error) {
	t := zeroTotals()
	vat := make([]decimal.Decimal, 0, len(invoices))
	withholding := make([]decimal.Decimal, 0, len(invoices))
	for _, inv := range invoices {
		t.InvoiceCount++
		t.TotalSales = t.TotalSales.Add(inv.Totals.Subtotal)
		t.TotalVAT = t.TotalVAT.Add(inv.Totals.VATAmount)
		t.TotalWithholding = t.TotalWithholding.Add(inv.Totals.WithholdingAmount)
		t.TotalAmount = t.TotalAmount.Add(inv.Totals.TotalAmount)
		if inv.Totals.VATAmount.IsPositive() {
			t.VATInvoiceCount++
			vat = append(vat, inv.Totals.VATAmount)
		}
		if inv.Totals.WithholdingAmount.IsPositive() {
			t.WithholdingInvoiceCount++
			withholding = append(withholding, inv.Totals.WithholdingAmount)
		}
	}
	var err error
	if t.VATTaxableBase, err = PerInvoiceTaxableBase(vat, rates.VAT); err != nil {
		return Totals{}, err
	}
	if t.WithholdingTaxableBase, err = PerInvoiceTaxableBase(withholding, rates.Withholding); err != nil {
		return Totals{}, err
	}
	return t, nil
}

// PerInvoiceTaxableBase estimates the taxable base behind a set of per-invoice
// tax amounts by inverting each amount at defaultRate and summing the results.
//
// The estimate is only exact when every line of the category was taxed at
// defaultRate. Products carrying their own rate make it drift; the
// per-invoice order is kept so figures match previously issued reports.
func PerInvoiceTaxableBase(amounts []decimal.Decimal, defaultRate decimal.Decimal) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, amount := range amounts {
		if amount.IsZero() {
			continue
		}
		base, err := tax.TaxableBaseFromTax(amount, defaultRate)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(base)
	}
	return sum, nil
}

// ProductBreakdown groups line items by product, largest amount first.
func ProductBreakdown(invoices []invoicing.Invoice) ([]ProductLine, error) {
	index := make(map[int64]int)
	lines := make([]ProductLine, 0)
	for _, inv := range invoices {
		for _, item := range inv.Items {
			category, taxAmount, err := item.TaxContribution()
			if err != nil {
				return nil, err
			}
			pos, ok := index[item.ProductID]
			if !ok {
				pos = len(lines)
				index[item.ProductID] = pos
				lines = append(lines, ProductLine{
					ProductID: item.ProductID,
					Name:      item.ProductName,
					Category:  category,
					Quantity:  decimal.Zero,
					Amount:    decimal.Zero,
					TaxAmount: decimal.Zero,
				})
			}
			line := &lines[pos]
			line.Quantity = line.Quantity.Add(item.Quantity)
			line.Amount = line.Amount.Add(item.LineTotal())
			line.TaxAmount = line.TaxAmount.Add(taxAmount)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if c := lines[i].Amount.Cmp(lines[j].Amount); c != 0 {
			return c > 0
		}
		return lines[i].Name < lines[j].Name
	})
	return lines, nil
}

// TopProducts returns the limit best selling products by revenue.
func TopProducts(invoices []invoicing.Invoice, limit int) ([]ProductLine, error) {
	lines, err := ProductBreakdown(invoices)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return lines, nil
}

// MonthlySeries returns twelve rows for year, empty months included.
func MonthlySeries(year int, invoices []invoicing.Invoice, rates tax.Rates) ([]MonthRow, error) {
	buckets := make([][]invoicing.Invoice, 12)
	for _, inv := range invoices {
		date := inv.Header.InvoiceDate
		if date.Year() != year {
			continue
		}
		m := int(date.Month()) - 1
		buckets[m] = append(buckets[m], inv)
	}
	rows := make([]MonthRow, 0, 12)
	for i, bucket := range buckets {
		totals, err := Summarize(bucket, rates)
		if err != nil {
			return nil, err
		}
		rows = append(rows, MonthRow{Year: year, Month: i + 1, Label: time.Month(i + 1).String(), Totals: totals})
	}
	return rows, nil
}

// ActiveMonths drops months without invoices.
func ActiveMonths(rows []MonthRow) []MonthRow {
	out := make([]MonthRow, 0, len(rows))
	for _, row := range rows {
		if row.Totals.InvoiceCount > 0 {
			out = append(out, row)
		}
	}
	return out
}

// TopMonths ranks non-empty months by sales, highest first.
func TopMonths(rows []MonthRow) []MonthRow {
	out := ActiveMonths(rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Totals.TotalSales.GreaterThan(out[j].Totals.TotalSales)
	})
	return out
}

// TrailingMonths returns count monthly rows ending with the month of now,
// oldest first.
func TrailingMonths(invoices []invoicing.Invoice, now time.Time, count int, rates tax.Rates) ([]MonthRow, error) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(count - 1), 0)
	buckets := make([][]invoicing.Invoice, count)
	for _, inv := range invoices {
		date := inv.Header.InvoiceDate
		idx := (date.Year()-first.Year())*12 + int(date.Month()) - int(first.Month())
		if idx < 0 || idx >= count {
			continue
		}
		buckets[idx] = append(buckets[idx], inv)
	}
	rows := make([]MonthRow, 0, count)
	for i, bucket := range buckets {
		totals, err := Summarize(bucket, rates)
		if err != nil {
			return nil, err
		}
		month := first.AddDate(0, i, 0)
		rows = append(rows, MonthRow{Year: month.Year(), Month: int(month.Month()), Label: month.Format("2006/01"), Totals: totals})
	}
	return rows, nil
}

// TopCustomers ranks customers by total billed amount.
func TopCustomers(invoices []invoicing.Invoice, limit int) []CustomerRow {
	index := make(map[string]int)
	rows := make([]CustomerRow, 0)
	for _, inv := range invoices {
		name := inv.Header.Customer.Name
		pos, ok := index[name]
		if !ok {
			pos = len(rows)
			index[name] = pos
			rows = append(rows, CustomerRow{Name: name, TotalAmount: decimal.Zero})
		}
		rows[pos].InvoiceCount++
		rows[pos].TotalAmount = rows[pos].TotalAmount.Add(inv.Totals.TotalAmount)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].TotalAmount.Cmp(rows[j].TotalAmount); c != 0 {
			return c > 0
		}
		return rows[i].Name < rows[j].Name
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// DailySeries returns one row per day for the days ending on end, oldest first.
func DailySeries(invoices []invoicing.Invoice, end time.Time, days int) []DailyRow {
	last := dateOf(end)
	first := last.AddDate(0, 0, -(days - 1))
	rows := make([]DailyRow, days)
	for i := range rows {
		rows[i] = DailyRow{Date: first.AddDate(0, 0, i).Format(dateLayout), TotalAmount: decimal.Zero, TotalVAT: decimal.Zero}
	}
	for _, inv := range invoices {
		d := dateOf(inv.Header.InvoiceDate)
		if d.Before(first) || d.After(last) {
			continue
		}
		idx := int(d.Sub(first).Hours() / 24)
		rows[idx].InvoiceCount++
		rows[idx].TotalAmount = rows[idx].TotalAmount.Add(inv.Totals.TotalAmount)
		rows[idx].TotalVAT = rows[idx].TotalVAT.Add(inv.Totals.VATAmount)
	}
	return rows
}

// CategoryInvoices returns the invoices with a positive amount in category,
// newest first, with each invoice's taxable base estimate.
func CategoryInvoices(invoices []invoicing.Invoice, category tax.Category, rates tax.Rates) (CategoryReport, error) {
	rate, err := rates.For(category)
	if err != nil {
		return CategoryReport{}, err
	}
	report := CategoryReport{Category: category, DefaultRate: rate, TotalTax: decimal.Zero, TotalTaxableBase: decimal.Zero, Invoices: make([]InvoiceLine, 0)}
	for _, inv := range invoices {
		if inv.Cancelled {
			continue
		}
		amount := inv.Totals.VATAmount
		if category == tax.CategoryWithholding {
			amount = inv.Totals.WithholdingAmount
		}
		if !amount.IsPositive() {
			continue
		}
		base, err := tax.TaxableBaseFromTax(amount, rate)
		if err != nil {
			return CategoryReport{}, err
		}
		line := invoiceLine(inv)
		line.TaxableBase = tax.Round(base)
		report.Invoices = append(report.Invoices, line)
		report.TotalTax = report.TotalTax.Add(amount)
		report.TotalTaxableBase = report.TotalTaxableBase.Add(base)
	}
	sort.SliceStable(report.Invoices, func(i, j int) bool {
		if report.Invoices[i].InvoiceDate != report.Invoices[j].InvoiceDate {
			return report.Invoices[i].InvoiceDate > report.Invoices[j].InvoiceDate
		}
		return report.Invoices[i].ID > report.Invoices[j].ID
	})
	report.TotalTax = tax.Round(report.TotalTax)
	report.TotalTaxableBase = tax.Round(report.TotalTaxableBase)
	return report, nil
}

func invoiceLines(invoices []invoicing.Invoice) []InvoiceLine {
	out := make([]InvoiceLine, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, invoiceLine(inv))
	}
	return out
}

func invoiceLine(inv invoicing.Invoice) InvoiceLine {
	return InvoiceLine{
		ID:                inv.ID,
		Number:            inv.Number,
		CustomerName:      inv.Header.Customer.Name,
		InvoiceDate:       inv.Header.InvoiceDate.Format(dateLayout),
		Cancelled:         inv.Cancelled,
		Subtotal:          tax.Round(inv.Totals.Subtotal),
		VATAmount:         tax.Round(inv.Totals.VATAmount),
		WithholdingAmount: tax.Round(inv.Totals.WithholdingAmount),
		TotalAmount:       tax.Round(inv.Totals.TotalAmount),
	}
}

func roundRows(rows []MonthRow) []MonthRow {
	for i := range rows {
		rows[i].Totals = rows[i].Totals.Rounded()
	}
	return rows
}
