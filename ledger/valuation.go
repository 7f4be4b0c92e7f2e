/*
valuation.go - Weighted-average cost and stock levels

PURPOSE:
  Answers "how many units of P do we hold on day D, and what is one unit
  worth?" straight from the movement journal. Nothing is cached or
  maintained incrementally: every answer is a fresh reduction over the
  effective movements, so it is the same whatever the insertion order of
  movements sharing a day and however many times it is asked.

EFFECTIVE MOVEMENTS:
  A movement counts iff it is not a CANCEL and no CANCEL references it.
  CANCEL entries stay in the journal but never contribute to figures.

FORMULAS (all movements with date <= asOf):
  WAC(P, D)   = sum(qty * unitPrice) / sum(qty)     over PURCHASE of P
                undefined when sum(qty) <= 0
  Stock(P, D) = sum(PURCHASE qty) - sum(SALE qty) - sum(LOSS qty)
                may be negative
  Value(P, D) = Stock(P, D) * WAC(P, D)
                undefined when WAC is undefined

SEE ALSO:
  - factory/movement.go: freezes LOSS/SALE costs with WeightedAverageCost
  - dashboard/dashboard.go: stock table built on StockValue
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// ANNULLED SET
// =============================================================================

// AnnulledSet returns the ids referenced by CANCEL movements.
func AnnulledSet(ms []Movement) map[MovementID]struct{} {
	set := make(map[MovementID]struct{})
	for _, m := range ms {
		if m.Type == MovementCancel && m.Cancel != nil {
			set[m.Cancel.RefMID] = struct{}{}
		}
	}
	return set
}

// Effective returns the movements that contribute to figures, in order.
func Effective(ms []Movement) []Movement {
	return NewValuation(ms).Effective()
}

// =============================================================================
// VALUATION - pure queries over a fixed movement list
// =============================================================================

// Valuation answers cost and stock questions for a fixed movement list.
// Build one per read; it holds no state beyond the list and its annulled set.
type Valuation struct {
	movements []Movement
	annulled  map[MovementID]struct{}
}

func NewValuation(ms []Movement) Valuation {
	return Valuation{movements: ms, annulled: AnnulledSet(ms)}
}

// IsEffective reports whether m counts toward figures.
func (v Valuation) IsEffective(m Movement) bool {
	if m.Type == MovementCancel {
		return false
	}
	_, annulled := v.annulled[m.MID]
	return !annulled
}

// IsAnnulled reports whether some CANCEL references mid.
func (v Valuation) IsAnnulled(mid MovementID) bool {
	_, ok := v.annulled[mid]
	return ok
}

func (v Valuation) Effective() []Movement {
	out := make([]Movement, 0, len(v.movements))
	for _, m := range v.movements {
		if v.IsEffective(m) {
			out = append(out, m)
		}
	}
	return out
}

// WeightedAverageCost returns the purchase-weighted unit cost of product as
// of asOf. ok is false when no units were bought by then.
func (v Valuation) WeightedAverageCost(product ProductID, asOf Date) (wac decimal.Decimal, ok bool) {
	totalCost := decimal.Zero
	totalUnits := decimal.Zero
	for _, m := range v.movements {
		if m.Type != MovementPurchase || m.Purchase.ProductID != product || m.Date.After(asOf) || !v.IsEffective(m) {
			continue
		}
		totalCost = totalCost.Add(m.Purchase.QtyUnits.Mul(m.Purchase.UnitPrice))
		totalUnits = totalUnits.Add(m.Purchase.QtyUnits)
	}
	if !totalUnits.IsPositive() {
		return decimal.Zero, false
	}
	return totalCost.Div(totalUnits), true
}

// StockLevel returns units on hand of product as of asOf. Negative levels
// are reported as they are.
func (v Valuation) StockLevel(product ProductID, asOf Date) decimal.Decimal {
	level := decimal.Zero
	for _, m := range v.movements {
		if m.ProductID() != product || m.Date.After(asOf) || !v.IsEffective(m) {
			continue
		}
		level = level.Add(m.StockDelta())
	}
	return level
}

// StockValue is StockLevel x WeightedAverageCost. ok is false when there
// is no cost to value the stock with, which is not the same as zero.
func (v Valuation) StockValue(product ProductID, asOf Date) (value decimal.Decimal, ok bool) {
	wac, ok := v.WeightedAverageCost(product, asOf)
	if !ok {
		return decimal.Zero, false
	}
	return v.StockLevel(product, asOf).Mul(wac), true
}

// =============================================================================
// CONVENIENCE WRAPPERS
// =============================================================================

func WeightedAverageCost(ms []Movement, product ProductID, asOf Date) (decimal.Decimal, bool) {
	return NewValuation(ms).WeightedAverageCost(product, asOf)
}

func StockLevel(ms []Movement, product ProductID, asOf Date) decimal.Decimal {
	return NewValuation(ms).StockLevel(product, asOf)
}

func StockValue(ms []Movement, product ProductID, asOf Date) (decimal.Decimal, bool) {
	return NewValuation(ms).StockValue(product, asOf)
}
