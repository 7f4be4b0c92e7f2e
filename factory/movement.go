/*
Package factory turns operator drafts into ledger movements.

PURPOSE:
  A draft is what the operator typed: a date string, a product, quantities
  in units or in lots, a lot price or a unit price. The factory resolves
  those inputs, values outgoing stock at the weighted-average cost of the
  movement's date, and emits immutable ledger.Movement records with fresh
  identifiers.

RESOLUTION RULES (purchases):
  unitsPerLotUsed = draft.UnitsPerLot, else the product's default
  qtyUnits        = qtyLots * unitsPerLotUsed   when lots are given
                  = draft.QtyUnits              otherwise
  unitPrice       = priceLot / unitsPerLotUsed  when a lot price is given
                  = draft.UnitPrice             otherwise
  totalCost       = qtyUnits * unitPrice        (rounded to cents)

FROZEN COSTS:
  LOSS and SALE costs are computed here, once, with the valuation as of
  the movement date over the journal plus the movements built earlier in
  the same batch. Later purchases never change them.

IDENTIFIERS:
  Every movement takes the next M-number; a sale draft takes one S-number
  shared by all its lines. In Simulate mode the caller's document is not
  touched and no counter moves.

USAGE:
  res, err := factory.Build(doc, []factory.Draft{purchase, sale}, factory.Options{})
  // doc now holds res.Movements and res.Sales

SEE ALSO:
  - json.go: Draft wire format
  - draft/: Validation and injection around Build
*/
package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// DRAFT TYPES
// =============================================================================

// Draft is one of PurchaseDraft, LossDraft, ExpenseDraft, SaleDraft, or a
// pointer to one.
type Draft interface {
	Kind() ledger.MovementType
	DateInput() string
}

// Deref returns the value form of a pointer draft and nil for a nil
// pointer. Value drafts are returned unchanged.
func Deref(d Draft) Draft {
	switch p := d.(type) {
	case *PurchaseDraft:
		if p == nil {
			return nil
		}
		return *p
	case *LossDraft:
		if p == nil {
			return nil
		}
		return *p
	case *ExpenseDraft:
		if p == nil {
			return nil
		}
		return *p
	case *SaleDraft:
		if p == nil {
			return nil
		}
		return *p
	}
	return d
}

type PurchaseDraft struct {
	Date        string
	ProductID   ledger.ProductID
	QtyUnits    *decimal.Decimal
	UnitPrice   *decimal.Decimal
	QtyLots     *decimal.Decimal
	UnitsPerLot *decimal.Decimal
	PriceLot    *decimal.Decimal
	Note        string
	Tags        []string
}

type LossDraft struct {
	Date      string
	ProductID ledger.ProductID
	QtyUnits  *decimal.Decimal
	Note      string
	Tags      []string
}

type ExpenseDraft struct {
	Date   string
	Amount *decimal.Decimal
	Note   string
	Tags   []string
}

type SaleDraft struct {
	Date  string
	Note  string
	Tags  []string
	Lines []SaleLineDraft
}

type SaleLineDraft struct {
	ProductID ledger.ProductID
	QtyUnits  *decimal.Decimal
	SaleTotal *decimal.Decimal
}

func (PurchaseDraft) Kind() ledger.MovementType { return ledger.MovementPurchase }
func (LossDraft) Kind() ledger.MovementType     { return ledger.MovementLoss }
func (ExpenseDraft) Kind() ledger.MovementType  { return ledger.MovementExpense }
func (SaleDraft) Kind() ledger.MovementType     { return ledger.MovementSale }

func (d PurchaseDraft) DateInput() string { return d.Date }
func (d LossDraft) DateInput() string     { return d.Date }
func (d ExpenseDraft) DateInput() string  { return d.Date }
func (d SaleDraft) DateInput() string     { return d.Date }

// =============================================================================
// ERRORS
// =============================================================================

var ErrUnsupportedDraft = errors.New("unsupported draft type")

// InputError points at the draft field that could not be resolved.
type InputError struct {
	Field   string
	Line    int // 1-based sale line, 0 otherwise
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	}
	return e.Field + ": " + e.Message
}

func (e *InputError) Unwrap() error { return e.Err }

// =============================================================================
// PURCHASE RESOLUTION
// =============================================================================

// PurchaseTerms are the resolved figures of a purchase draft.
type PurchaseTerms struct {
	QtyUnits        decimal.Decimal
	UnitPrice       decimal.Decimal
	TotalCost       decimal.Decimal
	QtyLots         *decimal.Decimal
	UnitsPerLotUsed *decimal.Decimal
	PriceLot        *decimal.Decimal
}

// ResolvePurchase applies the lot/unit rules. It does not check signs;
// that is validation's job.
func ResolvePurchase(doc *ledger.Document, d PurchaseDraft) (PurchaseTerms, error) {
	product, ok := doc.Product(d.ProductID)
	if !ok {
		return PurchaseTerms{}, &InputError{Field: "productId", Message: "unknown product", Err: ledger.ErrProductNotFound}
	}

	upl := d.UnitsPerLot
	if upl == nil {
		upl = product.UnitsPerLotDefault
	}
	usesLots := d.QtyLots != nil || d.PriceLot != nil
	if usesLots && (upl == nil || !upl.IsPositive()) {
		return PurchaseTerms{}, &InputError{Field: "unitsPerLot", Message: "units per lot required for lot entry"}
	}

	terms := PurchaseTerms{QtyLots: copyDec(d.QtyLots), PriceLot: copyDec(d.PriceLot)}
	if usesLots {
		terms.UnitsPerLotUsed = copyDec(upl)
	}

	switch {
	case d.QtyLots != nil:
		terms.QtyUnits = d.QtyLots.Mul(*upl)
	case d.QtyUnits != nil:
		terms.QtyUnits = *d.QtyUnits
	default:
		return PurchaseTerms{}, &InputError{Field: "qtyUnits", Message: "quantity required"}
	}

	switch {
	case d.PriceLot != nil:
		terms.UnitPrice = ledger.RoundUnitPrice(d.PriceLot.Div(*upl))
	case d.UnitPrice != nil:
		terms.UnitPrice = ledger.RoundUnitPrice(*d.UnitPrice)
	default:
		return PurchaseTerms{}, &InputError{Field: "unitPrice", Message: "unit price or lot price required"}
	}

	terms.TotalCost = ledger.RoundMoney(terms.QtyUnits.Mul(terms.UnitPrice))
	return terms, nil
}

func copyDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// =============================================================================
// BUILD
// =============================================================================

// Options control Build.
type Options struct {
	// Simulate builds against a private copy: ids are previewed, counters
	// and the journal are left alone.
	Simulate bool
}

// Result is what a batch produced.
type Result struct {
	Movements []ledger.Movement
	Sales     []ledger.SaleOrder
	// Unpriced lists LOSS/SALE movements valued at zero because the product
	// had no purchase history on their date.
	Unpriced []ledger.MovementID
}

// Build converts drafts in order and appends the result to doc (or to a
// copy of it when simulating).
func Build(doc *ledger.Document, drafts []Draft, opts Options) (Result, error) {
	target := doc
	if opts.Simulate {
		target = doc.Clone()
	}

	var res Result
	for i, d := range drafts {
		if err := buildOne(target, d, &res); err != nil {
			return Result{}, fmt.Errorf("draft %d: %w", i+1, err)
		}
	}
	return res, nil
}

func buildOne(doc *ledger.Document, d Draft, res *Result) error {
	d = Deref(d)
	if d == nil {
		return fmt.Errorf("%w: empty draft", ErrUnsupportedDraft)
	}
	date, err := ledger.ParseDate(d.DateInput())
	if err != nil {
		return &InputError{Field: "date", Message: "invalid date", Err: err}
	}

	switch d := d.(type) {
	case PurchaseDraft:
		return buildPurchase(doc, d, date, res)
	case LossDraft:
		return buildLoss(doc, d, date, res)
	case ExpenseDraft:
		return buildExpense(doc, d, date, res)
	case SaleDraft:
		return buildSale(doc, d, date, res)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedDraft, d)
}

func buildPurchase(doc *ledger.Document, d PurchaseDraft, date ledger.Date, res *Result) error {
	terms, err := ResolvePurchase(doc, d)
	if err != nil {
		return err
	}
	m := ledger.Movement{
		MID:  doc.AllocateMID(),
		Date: date,
		Type: ledger.MovementPurchase,
		Note: strings.TrimSpace(d.Note),
		Tags: ledger.NormalizeTags(d.Tags),
		Purchase: &ledger.PurchaseDetail{
			ProductID:       d.ProductID,
			QtyUnits:        terms.QtyUnits,
			UnitPrice:       terms.UnitPrice,
			TotalCost:       terms.TotalCost,
			QtyLots:         terms.QtyLots,
			UnitsPerLotUsed: terms.UnitsPerLotUsed,
			PriceLot:        terms.PriceLot,
		},
	}
	doc.Append(m)
	res.Movements = append(res.Movements, m)
	return nil
}

func buildLoss(doc *ledger.Document, d LossDraft, date ledger.Date, res *Result) error {
	if _, ok := doc.Product(d.ProductID); !ok {
		return &InputError{Field: "productId", Message: "unknown product", Err: ledger.ErrProductNotFound}
	}
	if d.QtyUnits == nil {
		return &InputError{Field: "qtyUnits", Message: "quantity required"}
	}
	qty := d.QtyUnits.Abs()
	cost, priced := FrozenCost(doc.Movements, d.ProductID, qty, date)

	m := ledger.Movement{
		MID:  doc.AllocateMID(),
		Date: date,
		Type: ledger.MovementLoss,
		Note: strings.TrimSpace(d.Note),
		Tags: ledger.NormalizeTags(d.Tags),
		Loss: &ledger.LossDetail{ProductID: d.ProductID, QtyUnits: qty, LossCost: cost},
	}
	doc.Append(m)
	res.Movements = append(res.Movements, m)
	if !priced {
		res.Unpriced = append(res.Unpriced, m.MID)
	}
	return nil
}

func buildExpense(doc *ledger.Document, d ExpenseDraft, date ledger.Date, res *Result) error {
	if d.Amount == nil {
		return &InputError{Field: "amount", Message: "amount required"}
	}
	m := ledger.Movement{
		MID:     doc.AllocateMID(),
		Date:    date,
		Type:    ledger.MovementExpense,
		Note:    strings.TrimSpace(d.Note),
		Tags:    ledger.NormalizeTags(d.Tags),
		Expense: &ledger.ExpenseDetail{Amount: ledger.RoundMoney(*d.Amount)},
	}
	doc.Append(m)
	res.Movements = append(res.Movements, m)
	return nil
}

func buildSale(doc *ledger.Document, d SaleDraft, date ledger.Date, res *Result) error {
	if len(d.Lines) == 0 {
		return &InputError{Field: "lines", Message: "at least one line required"}
	}
	for i, line := range d.Lines {
		if _, ok := doc.Product(line.ProductID); !ok {
			return &InputError{Field: "productId", Line: i + 1, Message: "unknown product", Err: ledger.ErrProductNotFound}
		}
		if line.QtyUnits == nil {
			return &InputError{Field: "qtyUnits", Line: i + 1, Message: "quantity required"}
		}
	}

	order := ledger.SaleOrder{
		SID:  doc.AllocateSID(),
		Date: date,
		Note: strings.TrimSpace(d.Note),
	}
	tags := ledger.NormalizeTags(d.Tags)

	for _, line := range d.Lines {
		qty := line.QtyUnits.Abs()
		total := decimal.Zero
		if line.SaleTotal != nil {
			total = ledger.RoundMoney(*line.SaleTotal)
		}
		cost, priced := FrozenCost(doc.Movements, line.ProductID, qty, date)

		m := ledger.Movement{
			MID:  doc.AllocateMID(),
			Date: date,
			Type: ledger.MovementSale,
			Note: order.Note,
			Tags: append([]string{}, tags...),
			Sale: &ledger.SaleDetail{
				SID:          order.SID,
				ProductID:    line.ProductID,
				QtyUnits:     qty,
				SaleTotal:    total,
				MaterialCost: cost,
			},
		}
		doc.Append(m)
		res.Movements = append(res.Movements, m)
		if !priced {
			res.Unpriced = append(res.Unpriced, m.MID)
		}
		order.Lines = append(order.Lines, ledger.SaleLine{ProductID: line.ProductID, QtyUnits: qty, SaleTotal: total})
	}

	doc.AddSale(order)
	res.Sales = append(res.Sales, order)
	return nil
}

// FrozenCost values qty units of product at the weighted-average cost as of
// date. priced is false (and cost zero) when there is no purchase history.
func FrozenCost(ms []ledger.Movement, product ledger.ProductID, qty decimal.Decimal, date ledger.Date) (cost decimal.Decimal, priced bool) {
	wac, ok := ledger.WeightedAverageCost(ms, product, date)
	if !ok {
		return decimal.Zero, false
	}
	return ledger.RoundMoney(qty.Mul(wac)), true
}
