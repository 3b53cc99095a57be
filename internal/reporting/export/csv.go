package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/taxdesk/taxdesk/internal/reporting"
	"github.com/taxdesk/taxdesk/internal/tax"
)

// WritePeriodCSV serialises a period report as CSV: a summary block, the
// product breakdown and the invoice list, separated by blank records.
func WritePeriodCSV(w io.Writer, rep reporting.PeriodReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	for _, block := range [][][]string{summaryRecords(rep), productRecords(rep), invoiceRecords(rep)} {
		for _, record := range block {
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		if err := writer.Write([]string{}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCategoryCSV emits the invoices of a VAT or withholding report.
func WriteCategoryCSV(w io.Writer, rep reporting.CategoryReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Number", "Date", "Customer", "Tax", "Taxable Base"}); err != nil {
		return err
	}
	for _, inv := range rep.Invoices {
		amount := inv.VATAmount
		if rep.Category == tax.CategoryWithholding {
			amount = inv.WithholdingAmount
		}
		if err := writer.Write([]string{
			inv.Number,
			inv.InvoiceDate,
			inv.CustomerName,
			amount.StringFixed(2),
			inv.TaxableBase.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{"Total", "", "", rep.TotalTax.StringFixed(2), rep.TotalTaxableBase.StringFixed(2)}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func summaryRecords(rep reporting.PeriodReport) [][]string {
	t := rep.Totals
	return [][]string{
		{"Metric", "Value"},
		{"Period Start", rep.Range.Start.Format("2006-01-02")},
		{"Period End", rep.Range.End.Format("2006-01-02")},
		{"Include Cancelled", strconv.FormatBool(rep.IncludeCancelled)},
		{"Invoices", strconv.Itoa(t.InvoiceCount)},
		{"Total Sales", t.TotalSales.StringFixed(2)},
		{"Total VAT", t.TotalVAT.StringFixed(2)},
		{"Total Withholding", t.TotalWithholding.StringFixed(2)},
		{"Total Amount", t.TotalAmount.StringFixed(2)},
		{"VAT Taxable Base", t.VATTaxableBase.StringFixed(2)},
		{"Withholding Taxable Base", t.WithholdingTaxableBase.StringFixed(2)},
		{"VAT Rate", rep.Rates.VAT.StringFixed(2)},
		{"Withholding Rate", rep.Rates.Withholding.StringFixed(2)},
	}
}

func productRecords(rep reporting.PeriodReport) [][]string {
	records := [][]string{{"Product", "Category", "Quantity", "Amount", "Tax"}}
	for _, p := range rep.Products {
		records = append(records, []string{p.Name, string(p.Category), p.Quantity.String(), p.Amount.StringFixed(2), p.TaxAmount.StringFixed(2)})
	}
	return records
}

func invoiceRecords(rep reporting.PeriodReport) [][]string {
	records := [][]string{{"Number", "Date", "Customer", "Subtotal", "VAT", "Withholding", "Total", "Cancelled"}}
	for _, inv := range rep.Invoices {
		records = append(records, []string{
			inv.Number,
			inv.InvoiceDate,
			inv.CustomerName,
			inv.Subtotal.StringFixed(2),
			inv.VATAmount.StringFixed(2),
			inv.WithholdingAmount.StringFixed(2),
			inv.TotalAmount.StringFixed(2),
			strconv.FormatBool(inv.Cancelled),
		})
	}
	return records
}
