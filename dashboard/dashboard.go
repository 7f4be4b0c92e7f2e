/*
Package dashboard reduces the movement journal to the figures an owner
looks at: what went out, what came in, what is left on the shelves.

PURPOSE:
  Every figure is a pure reduction over the effective movements. The same
  document, range and day always give the same summary; insertion order of
  movements does not matter.

PERIOD FIGURES (movements dated inside [From, To]):
  Expenses       = sum(EXPENSE amount) + sum(LOSS lossCost)
  StockPurchases = sum(PURCHASE totalCost)
  Revenue        = sum(SALE saleTotal)
  COGS           = sum(SALE materialCost)
  GrossMargin    = Revenue - COGS
  Profitability  = Revenue - Expenses - StockPurchases

STOCK FIGURES (whole history, as of today, ignore the range):
  Stock          one row per product: level, average cost, value
  NegativeStock  products whose level is below zero

SEE ALSO:
  - ledger/valuation.go: Average cost and stock level
  - history.go: Journal table
*/
package dashboard

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// SUMMARY
// =============================================================================

type Summary struct {
	From  ledger.Date `json:"from"`
	To    ledger.Date `json:"to"`
	Today ledger.Date `json:"today"`

	Expenses       decimal.Decimal `json:"expenses"`
	StockPurchases decimal.Decimal `json:"stockPurchases"`
	Revenue        decimal.Decimal `json:"revenue"`
	COGS           decimal.Decimal `json:"cogs"`
	GrossMargin    decimal.Decimal `json:"grossMargin"`
	Profitability  decimal.Decimal `json:"profitability"`

	// ExpensesByTag splits EXPENSE amounts by tag. Untagged expenses are
	// listed under "". An expense with several tags counts under each.
	ExpensesByTag map[string]decimal.Decimal `json:"expensesByTag"`

	Stock         []StockRow         `json:"stock"`
	StockValue    decimal.Decimal    `json:"stockValue"`
	NegativeStock []ledger.ProductID `json:"negativeStock"`
}

// StockRow is one line of the stock table. AverageCost and Value are nil
// when the product has never been bought: no value is not a zero value.
type StockRow struct {
	ProductID   ledger.ProductID `json:"productId"`
	Name        string           `json:"name"`
	Level       decimal.Decimal  `json:"level"`
	AverageCost *decimal.Decimal `json:"averageCost"`
	Value       *decimal.Decimal `json:"value"`
}

func (r StockRow) Negative() bool { return r.Level.IsNegative() }

// Compute builds the summary for r, with stock figures as of today.
func Compute(doc *ledger.Document, r ledger.Range, today ledger.Date) (Summary, error) {
	if err := r.Validate(); err != nil {
		return Summary{}, err
	}

	s := Summary{
		From:          r.From,
		To:            r.To,
		Today:         today,
		ExpensesByTag: map[string]decimal.Decimal{},
		Stock:         []StockRow{},
		NegativeStock: []ledger.ProductID{},
	}

	v := ledger.NewValuation(doc.Movements)
	for _, m := range v.Effective() {
		if !r.Contains(m.Date) {
			continue
		}
		switch m.Type {
		case ledger.MovementExpense:
			s.Expenses = s.Expenses.Add(m.Expense.Amount)
			addByTag(s.ExpensesByTag, m.Tags, m.Expense.Amount)
		case ledger.MovementLoss:
			s.Expenses = s.Expenses.Add(m.Loss.LossCost)
		case ledger.MovementPurchase:
			s.StockPurchases = s.StockPurchases.Add(m.Purchase.TotalCost)
		case ledger.MovementSale:
			s.Revenue = s.Revenue.Add(m.Sale.SaleTotal)
			s.COGS = s.COGS.Add(m.Sale.MaterialCost)
		}
	}
	s.GrossMargin = s.Revenue.Sub(s.COGS)
	s.Profitability = s.Revenue.Sub(s.Expenses).Sub(s.StockPurchases)

	s.Stock = StockTable(doc, today)
	for _, row := range s.Stock {
		if row.Value != nil {
			s.StockValue = s.StockValue.Add(*row.Value)
		}
		if row.Negative() {
			s.NegativeStock = append(s.NegativeStock, row.ProductID)
		}
	}
	return s, nil
}

func addByTag(totals map[string]decimal.Decimal, tags []string, amount decimal.Decimal) {
	if len(tags) == 0 {
		totals[""] = totals[""].Add(amount)
		return
	}
	for _, t := range tags {
		totals[t] = totals[t].Add(amount)
	}
}

// StockTable values every product as of day, ordered by product id.
func StockTable(doc *ledger.Document, day ledger.Date) []StockRow {
	v := ledger.NewValuation(doc.Movements)
	rows := make([]StockRow, 0, len(doc.Products))
	for _, p := range doc.Products {
		row := StockRow{
			ProductID: p.ID,
			Name:      p.Name,
			Level:     v.StockLevel(p.ID, day),
		}
		if wac, ok := v.WeightedAverageCost(p.ID, day); ok {
			cost := ledger.RoundUnitPrice(wac)
			value := ledger.RoundMoney(row.Level.Mul(wac))
			row.AverageCost, row.Value = &cost, &value
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductID < rows[j].ProductID })
	return rows
}
