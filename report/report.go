/*
Package report renders the dashboard as downloadable files.

FORMATS:
  XLSX: "summary" sheet (period figures), "stock" sheet (stock table),
        "journal" sheet (history rows of the period)
  PDF:  one A4 page with the period figures and the stock table

Figures come from dashboard.Compute; nothing is recomputed here.
*/
package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/stockflux/dashboard"
	"github.com/warp/stockflux/ledger"
)

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
)

// Filename is "<prefix>dashboard-<from>_<to>.<ext>"; open bounds read "start"
// and "today".
func Filename(prefix string, s dashboard.Summary, ext string) string {
	from, to := s.From.String(), s.To.String()
	if from == "" {
		from = "start"
	}
	if to == "" {
		to = s.Today.String()
	}
	return fmt.Sprintf("%sdashboard-%s_%s.%s", prefix, from, to, ext)
}

type figure struct {
	label string
	value decimal.Decimal
}

func figures(s dashboard.Summary) []figure {
	return []figure{
		{"Expenses", s.Expenses},
		{"Stock purchases", s.StockPurchases},
		{"Revenue", s.Revenue},
		{"Cost of goods sold", s.COGS},
		{"Gross margin", s.GrossMargin},
		{"Profitability", s.Profitability},
		{"Stock value", s.StockValue},
	}
}

func period(s dashboard.Summary) string {
	from, to := s.From.String(), s.To.String()
	if from == "" {
		from = "start"
	}
	if to == "" {
		to = "today"
	}
	return from + " to " + to
}

// =============================================================================
// XLSX
// =============================================================================

// BuildXLSX renders the summary and the period's journal rows.
func BuildXLSX(s dashboard.Summary, rows []dashboard.Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	stockSheet := "stock"
	journalSheet := "journal"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(stockSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(journalSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Stock & Flux dashboard")
	_ = f.SetCellValue(summarySheet, "A2", "Period")
	_ = f.SetCellValue(summarySheet, "B2", period(s))
	_ = f.SetCellValue(summarySheet, "A3", "Stock as of")
	_ = f.SetCellValue(summarySheet, "B3", s.Today.String())
	for i, fig := range figures(s) {
		row := i + 5
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), fig.label)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), fig.value.InexactFloat64())
	}

	_ = f.SetSheetRow(stockSheet, "A1", &[]any{"Product", "Name", "Level", "Average cost", "Value"})
	for i, r := range s.Stock {
		line := []any{string(r.ProductID), r.Name, r.Level.InexactFloat64(), optional(r.AverageCost), optional(r.Value)}
		_ = f.SetSheetRow(stockSheet, fmt.Sprintf("A%d", i+2), &line)
	}

	_ = f.SetSheetRow(journalSheet, "A1", &[]any{"Id", "Date", "Type", "Product", "Quantity", "Amount", "Status", "Note"})
	for i, r := range rows {
		m := r.Movement
		qty, amount := movementFigures(m)
		line := []any{string(m.MID), m.Date.String(), string(m.Type), string(m.ProductID()), qty, amount, string(r.Status), m.Note}
		_ = f.SetSheetRow(journalSheet, fmt.Sprintf("A%d", i+2), &line)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// optional renders a missing value as an empty cell.
func optional(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

// movementFigures returns the quantity and money columns of a journal row.
func movementFigures(m ledger.Movement) (qty, amount any) {
	switch m.Type {
	case ledger.MovementPurchase:
		return m.Purchase.QtyUnits.InexactFloat64(), m.Purchase.TotalCost.InexactFloat64()
	case ledger.MovementSale:
		return m.Sale.QtyUnits.InexactFloat64(), m.Sale.SaleTotal.InexactFloat64()
	case ledger.MovementLoss:
		return m.Loss.QtyUnits.InexactFloat64(), m.Loss.LossCost.InexactFloat64()
	case ledger.MovementExpense:
		return "", m.Expense.Amount.InexactFloat64()
	case ledger.MovementCancel:
		return "", string(m.Cancel.RefMID)
	}
	return "", ""
}

// =============================================================================
// PDF
// =============================================================================

// BuildPDF renders the summary on one page.
func BuildPDF(s dashboard.Summary) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Stock & Flux dashboard")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, "Period: "+period(s))
	pdf.Ln(5)
	pdf.Cell(0, 6, "Stock as of: "+s.Today.String())
	pdf.Ln(8)

	for _, fig := range figures(s) {
		pdf.CellFormat(60, 6, fig.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, fig.value.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Product", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Name", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Avg cost", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, r := range s.Stock {
		pdf.CellFormat(30, 6, string(r.ProductID), "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, r.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, r.Level.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fixedOrDash(r.AverageCost, 4), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fixedOrDash(r.Value, 2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	if len(s.NegativeStock) > 0 {
		pdf.Ln(4)
		pdf.Cell(0, 6, fmt.Sprintf("Negative stock: %v", s.NegativeStock))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fixedOrDash(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}
