/*
Package ledger provides the Stock & Flux movement journal.

PURPOSE:
  The ledger is the single source of truth for a workshop's products,
  stock movements and sale orders. Stock levels, unit costs and every
  dashboard figure are derived from the movement journal; nothing derived
  is ever stored.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: a stock-keeping unit with an optional default lot size
  - Movement: an immutable journal entry (purchase, sale, loss, expense,
    cancellation), modelled as a variant keyed by Type
  - SaleOrder: a customer order whose lines become SALE movements
  - MovementID / SaleID: monotonic identifiers (M000001, S000001)

DESIGN PRINCIPLES:
  1. Append-only: movements are never modified, only cancelled
  2. Precision: quantities and money use decimal.Decimal
  3. Positive magnitudes: the movement Type decides the sign of its effect
  4. Frozen costs: LOSS and SALE costs are valued once, at commit time

USAGE:
  l, err := ledger.Open(ctx, store.NewMemory(), ledger.Options{})
  mv, err := l.Cancel(ctx, "M000004", "wrong product")

SEE ALSO:
  - ledger.go: Ledger store (load/save/export/import, transactions)
  - valuation.go: Weighted-average cost and stock levels
  - cancel.go: Counter-entry cancellation
*/
package ledger

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type MovementID string
type SaleID string

const (
	movementPrefix = "M"
	salePrefix     = "S"
	sequenceDigits = 6
)

// FormatMovementID renders sequence n as M000123.
func FormatMovementID(n int) MovementID {
	return MovementID(fmt.Sprintf("%s%0*d", movementPrefix, sequenceDigits, n))
}

// FormatSaleID renders sequence n as S000123.
func FormatSaleID(n int) SaleID {
	return SaleID(fmt.Sprintf("%s%0*d", salePrefix, sequenceDigits, n))
}

// Seq returns the numeric part of the id, or 0 if it is not a movement id.
func (id MovementID) Seq() int { return parseSeq(string(id), movementPrefix) }

// Seq returns the numeric part of the id, or 0 if it is not a sale id.
func (id SaleID) Seq() int { return parseSeq(string(id), salePrefix) }

func parseSeq(s, prefix string) int {
	if !strings.HasPrefix(s, prefix) {
		return 0
	}
	n, err := strconv.Atoi(s[len(prefix):])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// =============================================================================
// PRODUCT
// =============================================================================

// Product is a stock-keeping unit. Products are created and edited, never
// deleted.
type Product struct {
	ID                 ProductID        `json:"id"`
	Name               string           `json:"name"`
	UnitsPerLotDefault *decimal.Decimal `json:"unitsPerLotDefault"`
	Descriptions       []string         `json:"descriptions"`
}

// ValidateProductID checks that id is a usable token.
func ValidateProductID(id ProductID) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidProduct)
	}
	if strings.ContainsAny(string(id), " \t\r\n") {
		return fmt.Errorf("%w: id %q contains whitespace", ErrInvalidProduct, id)
	}
	return nil
}

func (p Product) validate() error {
	if err := ValidateProductID(p.ID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidProduct)
	}
	if p.UnitsPerLotDefault != nil && !p.UnitsPerLotDefault.IsPositive() {
		return fmt.Errorf("%w: units per lot must be positive", ErrInvalidProduct)
	}
	return nil
}

func (p Product) clone() Product {
	c := p
	if p.UnitsPerLotDefault != nil {
		v := *p.UnitsPerLotDefault
		c.UnitsPerLotDefault = &v
	}
	c.Descriptions = slices.Clone(p.Descriptions)
	return c
}

// =============================================================================
// MOVEMENT - Immutable journal entry
// =============================================================================

type MovementType string

const (
	MovementPurchase MovementType = "PURCHASE" // Stock in, priced
	MovementSale     MovementType = "SALE"     // Stock out, revenue + frozen material cost
	MovementLoss     MovementType = "LOSS"     // Stock out, frozen loss cost
	MovementExpense  MovementType = "EXPENSE"  // Money out, no product
	MovementCancel   MovementType = "CANCEL"   // Annuls another movement
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementLoss, MovementExpense, MovementCancel:
		return true
	}
	return false
}

// Movement is one journal entry. Exactly one detail pointer is set, the one
// matching Type.
type Movement struct {
	MID  MovementID
	Date Date
	Type MovementType
	Note string
	Tags []string

	Purchase *PurchaseDetail
	Sale     *SaleDetail
	Loss     *LossDetail
	Expense  *ExpenseDetail
	Cancel   *CancelDetail
}

type PurchaseDetail struct {
	ProductID ProductID
	QtyUnits  decimal.Decimal
	UnitPrice decimal.Decimal
	TotalCost decimal.Decimal

	// Lot metadata, present when the purchase was entered in lots.
	QtyLots         *decimal.Decimal
	UnitsPerLotUsed *decimal.Decimal
	PriceLot        *decimal.Decimal
}

type SaleDetail struct {
	SID          SaleID
	ProductID    ProductID
	QtyUnits     decimal.Decimal
	SaleTotal    decimal.Decimal
	MaterialCost decimal.Decimal
}

type LossDetail struct {
	ProductID ProductID
	QtyUnits  decimal.Decimal
	LossCost  decimal.Decimal
}

type ExpenseDetail struct {
	Amount decimal.Decimal
}

type CancelDetail struct {
	RefMID MovementID
}

// ProductID returns the product a stock movement refers to, or "".
func (m Movement) ProductID() ProductID {
	switch {
	case m.Purchase != nil:
		return m.Purchase.ProductID
	case m.Sale != nil:
		return m.Sale.ProductID
	case m.Loss != nil:
		return m.Loss.ProductID
	}
	return ""
}

// StockDelta is the signed effect of the movement on its product's stock.
func (m Movement) StockDelta() decimal.Decimal {
	switch m.Type {
	case MovementPurchase:
		return m.Purchase.QtyUnits
	case MovementSale:
		return m.Sale.QtyUnits.Neg()
	case MovementLoss:
		return m.Loss.QtyUnits.Neg()
	}
	return decimal.Zero
}

// Validate checks that the variant fields match Type.
func (m Movement) Validate() error {
	if m.MID.Seq() == 0 {
		return fmt.Errorf("%w: bad id %q", ErrMalformedMovement, m.MID)
	}
	if m.Date.IsZero() {
		return fmt.Errorf("%w: %s has no date", ErrMalformedMovement, m.MID)
	}
	set := 0
	for _, present := range []bool{m.Purchase != nil, m.Sale != nil, m.Loss != nil, m.Expense != nil, m.Cancel != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s must carry exactly one detail", ErrMalformedMovement, m.MID)
	}

	var ok bool
	switch m.Type {
	case MovementPurchase:
		ok = m.Purchase != nil && m.Purchase.ProductID != "" && m.Purchase.QtyUnits.IsPositive()
	case MovementSale:
		ok = m.Sale != nil && m.Sale.ProductID != "" && m.Sale.QtyUnits.IsPositive() && m.Sale.SID.Seq() > 0
	case MovementLoss:
		ok = m.Loss != nil && m.Loss.ProductID != "" && m.Loss.QtyUnits.IsPositive()
	case MovementExpense:
		ok = m.Expense != nil && !m.Expense.Amount.IsNegative()
	case MovementCancel:
		ok = m.Cancel != nil && m.Cancel.RefMID.Seq() > 0
	}
	if !ok {
		return fmt.Errorf("%w: %s fields do not match type %s", ErrMalformedMovement, m.MID, m.Type)
	}
	return nil
}

func (m Movement) clone() Movement {
	c := m
	c.Tags = slices.Clone(m.Tags)
	if m.Purchase != nil {
		p := *m.Purchase
		p.QtyLots = cloneDecimal(m.Purchase.QtyLots)
		p.UnitsPerLotUsed = cloneDecimal(m.Purchase.UnitsPerLotUsed)
		p.PriceLot = cloneDecimal(m.Purchase.PriceLot)
		c.Purchase = &p
	}
	if m.Sale != nil {
		s := *m.Sale
		c.Sale = &s
	}
	if m.Loss != nil {
		l := *m.Loss
		c.Loss = &l
	}
	if m.Expense != nil {
		e := *m.Expense
		c.Expense = &e
	}
	if m.Cancel != nil {
		x := *m.Cancel
		c.Cancel = &x
	}
	return c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// NormalizeTags trims, deduplicates and sorts tags. Tags are a set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// SALE ORDER
// =============================================================================

// SaleOrder groups the SALE movements of one customer order.
type SaleOrder struct {
	SID   SaleID     `json:"sid"`
	Date  Date       `json:"date"`
	Note  string     `json:"note"`
	Lines []SaleLine `json:"lines"`
}

type SaleLine struct {
	ProductID ProductID       `json:"productId"`
	QtyUnits  decimal.Decimal `json:"qtyUnits"`
	SaleTotal decimal.Decimal `json:"saleTotal"`
}

func (o SaleOrder) clone() SaleOrder {
	c := o
	c.Lines = slices.Clone(o.Lines)
	return c
}

// =============================================================================
// ROUNDING
// =============================================================================

const (
	// MoneyPlaces is the precision of frozen money figures.
	MoneyPlaces int32 = 2
	// UnitPricePlaces is the precision of stored unit prices.
	UnitPricePlaces int32 = 6
)

// RoundMoney rounds to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// RoundUnitPrice rounds a per-unit price.
func RoundUnitPrice(d decimal.Decimal) decimal.Decimal { return d.Round(UnitPricePlaces) }
