package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/stockflux/dashboard"
	"github.com/warp/stockflux/factory"
	"github.com/warp/stockflux/ledger"
	"github.com/warp/stockflux/report"
)

func dec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func sample(t *testing.T) (dashboard.Summary, []dashboard.Row) {
	t.Helper()
	doc := ledger.NewDocument(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	doc.PutProduct(ledger.Product{ID: "P1", Name: "Walnut board", Descriptions: []string{}})
	doc.PutProduct(ledger.Product{ID: "P2", Name: "Brass hinge", Descriptions: []string{}})
	_, err := factory.Build(doc, []factory.Draft{
		factory.PurchaseDraft{Date: "2025-04-01", ProductID: "P1", QtyUnits: dec("10"), UnitPrice: dec("3")},
		factory.SaleDraft{Date: "2025-04-02", Lines: []factory.SaleLineDraft{{ProductID: "P1", QtyUnits: dec("4"), SaleTotal: dec("50")}}},
		factory.ExpenseDraft{Date: "2025-04-03", Amount: dec("12"), Note: "Rent"},
	}, factory.Options{})
	require.NoError(t, err)

	r := ledger.Range{From: ledger.MustParseDate("2025-04-01"), To: ledger.MustParseDate("2025-04-30")}
	s, err := dashboard.Compute(doc, r, ledger.MustParseDate("2025-04-30"))
	require.NoError(t, err)
	rows, err := dashboard.History(doc, dashboard.Filter{Range: r})
	require.NoError(t, err)
	return s, rows
}

func TestBuildXLSX(t *testing.T) {
	s, rows := sample(t)

	data, err := report.BuildXLSX(s, rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"summary", "stock", "journal"}, f.GetSheetList())

	revenue, err := f.GetCellValue("summary", "B7")
	require.NoError(t, err)
	assert.Equal(t, "50", revenue)

	name, err := f.GetCellValue("stock", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Walnut board", name)

	// P2 has no value
	value, err := f.GetCellValue("stock", "E3")
	require.NoError(t, err)
	assert.Empty(t, value)

	journal, err := f.GetRows("journal")
	require.NoError(t, err)
	assert.Len(t, journal, 4)
}

func TestBuildPDF(t *testing.T) {
	s, _ := sample(t)

	data, err := report.BuildPDF(s)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestFilename(t *testing.T) {
	s, _ := sample(t)
	assert.Equal(t, "stock-flux-dashboard-2025-04-01_2025-04-30.xlsx", report.Filename("stock-flux-", s, "xlsx"))

	s.From, s.To = ledger.Date{}, ledger.Date{}
	assert.Equal(t, "stock-flux-dashboard-start_2025-04-30.pdf", report.Filename("stock-flux-", s, "pdf"))
}
