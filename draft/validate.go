/*
Package draft stages movements before they reach the journal.

PURPOSE:
  Operators compose a batch of drafts, review what validation says about
  each one, then inject the whole batch. Injection is the only irreversible
  step, so everything that can be checked is checked before it.

SEVERITIES:
  blocking - the batch cannot be injected until this is fixed
  warning  - reported, does not prevent injection

BLOCKING RULES:
  all       date parses as a calendar day
  PURCHASE  product exists, quantity > 0, lot or unit price > 0,
            a unit price can be derived (lot entry needs a lot size)
  LOSS      product exists, quantity magnitude > 0
  SALE      at least one line; per line: product exists,
            quantity magnitude > 0, sale total >= 0
  EXPENSE   amount > 0

WARNINGS:
  negative_stock  the draft leaves its product below zero on its date
  untagged        an expense without any tag
  unpriced        a loss or sale line with no purchase history to value it

Warnings are computed by building the batch against a private copy of the
document, so later drafts see the effect of earlier ones.

SEE ALSO:
  - queue.go: Draft queue and item states
  - inject.go: Batch injection
*/
package draft

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/stockflux/factory"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// ISSUES & REPORTS
// =============================================================================

type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityWarning  Severity = "warning"
)

// Issue codes
const (
	CodeInvalidDate     = "invalid_date"
	CodeUnknownProduct  = "unknown_product"
	CodeInvalidQuantity = "invalid_quantity"
	CodeInvalidPrice    = "invalid_price"
	CodeMissingLotSize  = "missing_lot_size"
	CodeInvalidAmount   = "invalid_amount"
	CodeNoLines         = "no_lines"
	CodeUnsupported     = "unsupported"
	CodeNegativeStock   = "negative_stock"
	CodeUntagged        = "untagged"
	CodeUnpriced        = "unpriced"
)

// Issue is one finding about one draft. Item is the draft's position in the
// batch; Line is the 1-based sale line, 0 when not line-specific.
type Issue struct {
	Item     int      `json:"item"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Field    string   `json:"field,omitempty"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

// Report collects the issues of a draft or a batch.
type Report struct {
	Issues []Issue `json:"issues"`
}

func (r *Report) add(item int, sev Severity, code, field string, line int, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Item:     item,
		Severity: sev,
		Code:     code,
		Field:    field,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Blocking reports whether any issue prevents injection.
func (r Report) Blocking() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

func (r Report) Warnings() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityWarning {
			out = append(out, is)
		}
	}
	return out
}

// ForItem returns the issues of the item at position i.
func (r Report) ForItem(i int) Report {
	out := Report{Issues: []Issue{}}
	for _, is := range r.Issues {
		if is.Item == i {
			out.Issues = append(out.Issues, is)
		}
	}
	return out
}

// Status summarises a report as an item state.
func (r Report) Status() Status {
	switch {
	case r.Blocking():
		return StatusBlocking
	case len(r.Issues) > 0:
		return StatusWarning
	}
	return StatusOK
}

// BlockedError is returned by Inject when the batch has blocking issues.
// Nothing was written.
type BlockedError struct {
	Report Report
}

func (e *BlockedError) Error() string {
	n := 0
	for _, is := range e.Report.Issues {
		if is.Severity == SeverityBlocking {
			n++
		}
	}
	return fmt.Sprintf("batch blocked by %d issue(s)", n)
}

// IsBlocked returns true if err is a *BlockedError.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks one draft against doc.
func Validate(doc *ledger.Document, d factory.Draft) Report {
	return ValidateBatch(doc, []factory.Draft{d})
}

// ValidateBatch checks drafts in order against doc. doc is not modified.
func ValidateBatch(doc *ledger.Document, drafts []factory.Draft) Report {
	report := Report{Issues: []Issue{}}
	for i, d := range drafts {
		checkDraft(&report, doc, i, d)
	}
	simulate(&report, doc, drafts)
	return report
}

func checkDraft(r *Report, doc *ledger.Document, i int, d factory.Draft) {
	d = factory.Deref(d)
	if d == nil {
		r.add(i, SeverityBlocking, CodeUnsupported, "type", 0, "empty draft")
		return
	}
	if _, err := ledger.ParseDate(d.DateInput()); err != nil {
		r.add(i, SeverityBlocking, CodeInvalidDate, "date", 0, "%q is not a calendar date (YYYY-MM-DD)", d.DateInput())
	}

	switch d := d.(type) {
	case factory.PurchaseDraft:
		checkPurchase(r, doc, i, d)
	case factory.LossDraft:
		checkProduct(r, doc, i, 0, d.ProductID)
		checkMagnitude(r, i, 0, d.QtyUnits)
	case factory.ExpenseDraft:
		if d.Amount == nil || !d.Amount.IsPositive() {
			r.add(i, SeverityBlocking, CodeInvalidAmount, "amount", 0, "amount must be greater than zero")
		}
	case factory.SaleDraft:
		checkSale(r, doc, i, d)
	default:
		r.add(i, SeverityBlocking, CodeUnsupported, "type", 0, "unsupported draft %T", d)
	}
}

func checkPurchase(r *Report, doc *ledger.Document, i int, d factory.PurchaseDraft) {
	product, known := checkProduct(r, doc, i, 0, d.ProductID)

	if d.QtyLots != nil {
		if !d.QtyLots.IsPositive() {
			r.add(i, SeverityBlocking, CodeInvalidQuantity, "qtyLots", 0, "number of lots must be greater than zero")
		}
	} else if d.QtyUnits == nil || !d.QtyUnits.IsPositive() {
		r.add(i, SeverityBlocking, CodeInvalidQuantity, "qtyUnits", 0, "quantity must be greater than zero")
	}

	if d.PriceLot != nil {
		if !d.PriceLot.IsPositive() {
			r.add(i, SeverityBlocking, CodeInvalidPrice, "priceLot", 0, "lot price must be greater than zero")
		}
	} else if d.UnitPrice == nil || !d.UnitPrice.IsPositive() {
		r.add(i, SeverityBlocking, CodeInvalidPrice, "unitPrice", 0, "unit price must be greater than zero")
	}

	if d.UnitsPerLot != nil && !d.UnitsPerLot.IsPositive() {
		r.add(i, SeverityBlocking, CodeMissingLotSize, "unitsPerLot", 0, "units per lot must be greater than zero")
		return
	}
	if (d.QtyLots != nil || d.PriceLot != nil) && d.UnitsPerLot == nil && known && product.UnitsPerLotDefault == nil {
		r.add(i, SeverityBlocking, CodeMissingLotSize, "unitsPerLot", 0, "%s has no default lot size; give units per lot", d.ProductID)
	}
}

func checkSale(r *Report, doc *ledger.Document, i int, d factory.SaleDraft) {
	if len(d.Lines) == 0 {
		r.add(i, SeverityBlocking, CodeNoLines, "lines", 0, "a sale needs at least one line")
		return
	}
	for n, line := range d.Lines {
		checkProduct(r, doc, i, n+1, line.ProductID)
		checkMagnitude(r, i, n+1, line.QtyUnits)
		if line.SaleTotal != nil && line.SaleTotal.IsNegative() {
			r.add(i, SeverityBlocking, CodeInvalidAmount, "saleTotal", n+1, "sale total cannot be negative")
		}
	}
}

func checkProduct(r *Report, doc *ledger.Document, i, line int, id ledger.ProductID) (ledger.Product, bool) {
	if strings.TrimSpace(string(id)) == "" {
		r.add(i, SeverityBlocking, CodeUnknownProduct, "productId", line, "product required")
		return ledger.Product{}, false
	}
	p, ok := doc.Product(id)
	if !ok {
		r.add(i, SeverityBlocking, CodeUnknownProduct, "productId", line, "unknown product %s", id)
	}
	return p, ok
}

func checkMagnitude(r *Report, i, line int, qty *decimal.Decimal) {
	if qty == nil || qty.IsZero() {
		r.add(i, SeverityBlocking, CodeInvalidQuantity, "qtyUnits", line, "quantity must not be zero")
	}
}

// =============================================================================
// WARNINGS - simulated build
// =============================================================================

// simulate builds every draft without blocking issues on a private copy
// and records the warnings the result deserves.
func simulate(r *Report, doc *ledger.Document, drafts []factory.Draft) {
	blocked := make(map[int]bool)
	for _, is := range r.Issues {
		if is.Severity == SeverityBlocking {
			blocked[is.Item] = true
		}
	}

	work := doc.Clone()
	for i, d := range drafts {
		if blocked[i] {
			continue
		}
		if e, ok := factory.Deref(d).(factory.ExpenseDraft); ok && len(ledger.NormalizeTags(e.Tags)) == 0 {
			r.add(i, SeverityWarning, CodeUntagged, "tags", 0, "expense has no tag")
		}

		res, err := factory.Build(work, []factory.Draft{d}, factory.Options{})
		if err != nil {
			r.add(i, SeverityBlocking, CodeUnsupported, "", 0, "%v", err)
			continue
		}
		unpriced := make(map[ledger.MovementID]bool, len(res.Unpriced))
		for _, mid := range res.Unpriced {
			unpriced[mid] = true
		}

		v := ledger.NewValuation(work.Movements)
		for n, m := range res.Movements {
			line := 0
			if m.Type == ledger.MovementSale {
				line = n + 1
			}
			if unpriced[m.MID] {
				r.add(i, SeverityWarning, CodeUnpriced, "productId", line, "%s has no purchase history on %s; cost recorded as 0", m.ProductID(), m.Date)
			}
			if m.StockDelta().IsNegative() {
				if day, level, ok := firstNegative(v, m.ProductID(), m.Date); ok {
					r.add(i, SeverityWarning, CodeNegativeStock, "qtyUnits", line, "%s stock would be %s on %s", m.ProductID(), level, day)
				}
			}
		}
	}
}

// firstNegative returns the first day from `from` on when product's stock
// is below zero. A backdated outflow can leave its own day positive and
// still push every later movement of the product under zero.
func firstNegative(v ledger.Valuation, product ledger.ProductID, from ledger.Date) (ledger.Date, decimal.Decimal, bool) {
	days := []ledger.Date{from}
	for _, m := range v.Effective() {
		if m.ProductID() == product && m.Date.After(from) {
			days = append(days, m.Date)
		}
	}
	slices.SortFunc(days, func(a, b ledger.Date) int { return a.Time().Compare(b.Time()) })
	for _, day := range days {
		if level := v.StockLevel(product, day); level.IsNegative() {
			return day, level, true
		}
	}
	return ledger.Date{}, decimal.Decimal{}, false
}
