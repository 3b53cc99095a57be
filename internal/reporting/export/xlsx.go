package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/taxdesk/taxdesk/internal/reporting"
)

const (
	summarySheet  = "Summary"
	productsSheet = "Products"
	invoicesSheet = "Invoices"
)

// WritePeriodXLSX renders a period report as a workbook with summary,
// product and invoice sheets.
func WritePeriodXLSX(w io.Writer, rep reporting.PeriodReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(productsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(invoicesSheet); err != nil {
		return err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#F5F5F5"}},
	})
	if err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}

	t := rep.Totals
	summary := [][]any{
		{"Metric", "Value"},
		{"Period", rep.Range.Start.Format("2006-01-02") + " to " + rep.Range.End.Format("2006-01-02")},
		{"Include Cancelled", rep.IncludeCancelled},
		{"Invoices", t.InvoiceCount},
		{"Total Sales", t.TotalSales.InexactFloat64()},
		{"Total VAT", t.TotalVAT.InexactFloat64()},
		{"Total Withholding", t.TotalWithholding.InexactFloat64()},
		{"Total Amount", t.TotalAmount.InexactFloat64()},
		{"VAT Taxable Base", t.VATTaxableBase.InexactFloat64()},
		{"Withholding Taxable Base", t.WithholdingTaxableBase.InexactFloat64()},
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "B5", fmt.Sprintf("B%d", len(summary)), money); err != nil {
		return err
	}

	products := [][]any{{"Product", "Category", "Quantity", "Amount", "Tax"}}
	for _, p := range rep.Products {
		products = append(products, []any{p.Name, string(p.Category), p.Quantity.InexactFloat64(), p.Amount.InexactFloat64(), p.TaxAmount.InexactFloat64()})
	}
	if err := writeRows(f, productsSheet, products); err != nil {
		return err
	}

	invoices := [][]any{{"Number", "Date", "Customer", "Subtotal", "VAT", "Withholding", "Total", "Cancelled"}}
	for _, inv := range rep.Invoices {
		invoices = append(invoices, []any{
			inv.Number,
			inv.InvoiceDate,
			inv.CustomerName,
			inv.Subtotal.InexactFloat64(),
			inv.VATAmount.InexactFloat64(),
			inv.WithholdingAmount.InexactFloat64(),
			inv.TotalAmount.InexactFloat64(),
			inv.Cancelled,
		})
	}
	if err := writeRows(f, invoicesSheet, invoices); err != nil {
		return err
	}

	for sheet, lastCol := range map[string]string{summarySheet: "B", productsSheet: "E", invoicesSheet: "H"} {
		if err := f.SetCellStyle(sheet, "A1", lastCol+"1", header); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
			return err
		}
	}
	if len(rep.Invoices) > 0 {
		if err := f.SetCellStyle(invoicesSheet, "D2", fmt.Sprintf("G%d", len(invoices)), money); err != nil {
			return err
		}
	}
	if len(rep.Products) > 0 {
		if err := f.SetCellStyle(productsSheet, "D2", fmt.Sprintf("E%d", len(products)), money); err != nil {
			return err
		}
	}

	_, err = f.WriteTo(w)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
