/*
document.go - The persisted ledger document

PURPOSE:
  Everything the ledger knows lives in one Document: products, movements,
  sale orders and id counters. The document is persisted and exported as a
  single JSON blob tagged with a formatVersion.

WIRE SHAPE:
  {
    "formatVersion": 1,
    "createdAt": "...", "updatedAt": "...",
    "nextMid": 7, "nextSid": 2,
    "products":  [ {id, name, unitsPerLotDefault, descriptions[]} ],
    "movements": [ {mid, date, type, note, tags, ...variant fields} ],
    "sales":     [ {sid, date, note, lines[]} ]
  }

  Movements are flattened on the wire; the Type decides which fields are
  meaningful. Decimals are written as strings and accepted as strings or
  numbers. Negative LOSS/SALE quantities found in older documents are read
  as magnitudes.

SEE ALSO:
  - ledger.go: Load/Save/Export/Import around this document
*/
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FormatVersion is the only document version this build reads or writes.
const FormatVersion = 1

// Document is the complete persisted state of one ledger.
type Document struct {
	FormatVersion int         `json:"formatVersion"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	NextMID       int         `json:"nextMid"`
	NextSID       int         `json:"nextSid"`
	Products      []Product   `json:"products"`
	Movements     []Movement  `json:"movements"`
	Sales         []SaleOrder `json:"sales"`
}

// NewDocument returns an empty document.
func NewDocument(now time.Time) *Document {
	return &Document{
		FormatVersion: FormatVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
		NextMID:       1,
		NextSID:       1,
		Products:      []Product{},
		Movements:     []Movement{},
		Sales:         []SaleOrder{},
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := *d
	c.Products = make([]Product, len(d.Products))
	for i, p := range d.Products {
		c.Products[i] = p.clone()
	}
	c.Movements = make([]Movement, len(d.Movements))
	for i, m := range d.Movements {
		c.Movements[i] = m.clone()
	}
	c.Sales = make([]SaleOrder, len(d.Sales))
	for i, s := range d.Sales {
		c.Sales[i] = s.clone()
	}
	return &c
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (d *Document) Product(id ProductID) (Product, bool) {
	for _, p := range d.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func (d *Document) Movement(mid MovementID) (Movement, bool) {
	for _, m := range d.Movements {
		if m.MID == mid {
			return m, true
		}
	}
	return Movement{}, false
}

func (d *Document) Sale(sid SaleID) (SaleOrder, bool) {
	for _, s := range d.Sales {
		if s.SID == sid {
			return s, true
		}
	}
	return SaleOrder{}, false
}

// =============================================================================
// MUTATIONS - only reachable through Ledger.WithTx
// =============================================================================

// AllocateMID hands out the next movement id and advances the counter.
func (d *Document) AllocateMID() MovementID {
	id := FormatMovementID(d.NextMID)
	d.NextMID++
	return id
}

// AllocateSID hands out the next sale id and advances the counter.
func (d *Document) AllocateSID() SaleID {
	id := FormatSaleID(d.NextSID)
	d.NextSID++
	return id
}

// Append adds movements at the end of the journal.
func (d *Document) Append(ms ...Movement) {
	d.Movements = append(d.Movements, ms...)
}

// AddSale records a sale order.
func (d *Document) AddSale(o SaleOrder) {
	d.Sales = append(d.Sales, o)
}

// PutProduct inserts or replaces a product by id.
func (d *Document) PutProduct(p Product) {
	for i := range d.Products {
		if d.Products[i].ID == p.ID {
			d.Products[i] = p
			return
		}
	}
	d.Products = append(d.Products, p)
}

// normalize fills nil collections and repairs counters so they stay ahead
// of every id present in the document.
func (d *Document) normalize() {
	if d.Products == nil {
		d.Products = []Product{}
	}
	if d.Movements == nil {
		d.Movements = []Movement{}
	}
	if d.Sales == nil {
		d.Sales = []SaleOrder{}
	}
	for i := range d.Products {
		if d.Products[i].Descriptions == nil {
			d.Products[i].Descriptions = []string{}
		}
	}
	for _, m := range d.Movements {
		if n := m.MID.Seq(); n >= d.NextMID {
			d.NextMID = n + 1
		}
	}
	for _, s := range d.Sales {
		if n := s.SID.Seq(); n >= d.NextSID {
			d.NextSID = n + 1
		}
	}
	if d.NextMID < 1 {
		d.NextMID = 1
	}
	if d.NextSID < 1 {
		d.NextSID = 1
	}
}

// =============================================================================
// DECODING - all-or-nothing
// =============================================================================

// DecodeDocument parses and validates a document. Any problem yields an
// *ImportError and no document.
func DecodeDocument(raw []byte) (*Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &ImportError{Reason: "empty document"}
	}

	var head struct {
		FormatVersion *int            `json:"formatVersion"`
		Products      json.RawMessage `json:"products"`
		Movements     json.RawMessage `json:"movements"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &ImportError{Reason: "malformed JSON", Err: err}
	}
	if head.FormatVersion == nil {
		return nil, &ImportError{Reason: "missing formatVersion"}
	}
	if *head.FormatVersion != FormatVersion {
		return nil, &ImportError{Reason: fmt.Sprintf("formatVersion %d does not match %d", *head.FormatVersion, FormatVersion)}
	}
	if !isJSONArray(head.Products) {
		return nil, &ImportError{Reason: "products must be an array"}
	}
	if !isJSONArray(head.Movements) {
		return nil, &ImportError{Reason: "movements must be an array"}
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ImportError{Reason: "malformed document", Err: err}
	}
	if err := doc.check(); err != nil {
		return nil, &ImportError{Reason: "inconsistent document", Err: err}
	}
	doc.normalize()
	return &doc, nil
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// check verifies referential integrity of a decoded document.
func (d *Document) check() error {
	products := make(map[ProductID]bool, len(d.Products))
	for _, p := range d.Products {
		if err := ValidateProductID(p.ID); err != nil {
			return err
		}
		if products[p.ID] {
			return fmt.Errorf("%w: %s", ErrProductExists, p.ID)
		}
		products[p.ID] = true
	}

	mids := make(map[MovementID]bool, len(d.Movements))
	for _, m := range d.Movements {
		if err := m.Validate(); err != nil {
			return err
		}
		if mids[m.MID] {
			return fmt.Errorf("%w: duplicate id %s", ErrMalformedMovement, m.MID)
		}
		mids[m.MID] = true
	}
	for _, m := range d.Movements {
		if m.Type == MovementCancel && !mids[m.Cancel.RefMID] {
			return fmt.Errorf("%w: %s cancels unknown %s", ErrMalformedMovement, m.MID, m.Cancel.RefMID)
		}
	}
	return nil
}

// =============================================================================
// MOVEMENT WIRE CODEC
// =============================================================================

type movementWire struct {
	MID  MovementID   `json:"mid"`
	Date Date         `json:"date"`
	Type MovementType `json:"type"`
	Note string       `json:"note"`
	Tags []string     `json:"tags"`

	ProductID       ProductID        `json:"productId,omitempty"`
	QtyUnits        *decimal.Decimal `json:"qtyUnits,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unitPrice,omitempty"`
	TotalCost       *decimal.Decimal `json:"totalCost,omitempty"`
	QtyLots         *decimal.Decimal `json:"qtyLots,omitempty"`
	UnitsPerLotUsed *decimal.Decimal `json:"unitsPerLotUsed,omitempty"`
	PriceLot        *decimal.Decimal `json:"priceLot,omitempty"`
	LossCost        *decimal.Decimal `json:"lossCost,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	SaleTotal       *decimal.Decimal `json:"saleTotal,omitempty"`
	MaterialCost    *decimal.Decimal `json:"materialCost,omitempty"`
	SID             SaleID           `json:"sid,omitempty"`
	RefMID          MovementID       `json:"refMid,omitempty"`
}

func (m Movement) MarshalJSON() ([]byte, error) {
	w := movementWire{MID: m.MID, Date: m.Date, Type: m.Type, Note: m.Note, Tags: m.Tags}
	if w.Tags == nil {
		w.Tags = []string{}
	}
	switch {
	case m.Purchase != nil:
		p := m.Purchase
		w.ProductID = p.ProductID
		w.QtyUnits, w.UnitPrice, w.TotalCost = &p.QtyUnits, &p.UnitPrice, &p.TotalCost
		w.QtyLots, w.UnitsPerLotUsed, w.PriceLot = p.QtyLots, p.UnitsPerLotUsed, p.PriceLot
	case m.Sale != nil:
		s := m.Sale
		w.ProductID, w.SID = s.ProductID, s.SID
		w.QtyUnits, w.SaleTotal, w.MaterialCost = &s.QtyUnits, &s.SaleTotal, &s.MaterialCost
	case m.Loss != nil:
		w.ProductID = m.Loss.ProductID
		w.QtyUnits, w.LossCost = &m.Loss.QtyUnits, &m.Loss.LossCost
	case m.Expense != nil:
		w.Amount = &m.Expense.Amount
	case m.Cancel != nil:
		w.RefMID = m.Cancel.RefMID
	}
	return json.Marshal(w)
}

func (m *Movement) UnmarshalJSON(b []byte) error {
	var w movementWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = Movement{MID: w.MID, Date: w.Date, Type: w.Type, Note: w.Note, Tags: NormalizeTags(w.Tags)}

	switch w.Type {
	case MovementPurchase:
		m.Purchase = &PurchaseDetail{
			ProductID:       w.ProductID,
			QtyUnits:        orZero(w.QtyUnits).Abs(),
			UnitPrice:       orZero(w.UnitPrice),
			TotalCost:       orZero(w.TotalCost),
			QtyLots:         w.QtyLots,
			UnitsPerLotUsed: w.UnitsPerLotUsed,
			PriceLot:        w.PriceLot,
		}
		if w.TotalCost == nil {
			m.Purchase.TotalCost = RoundMoney(m.Purchase.QtyUnits.Mul(m.Purchase.UnitPrice))
		}
	case MovementSale:
		m.Sale = &SaleDetail{
			SID:          w.SID,
			ProductID:    w.ProductID,
			QtyUnits:     orZero(w.QtyUnits).Abs(),
			SaleTotal:    orZero(w.SaleTotal),
			MaterialCost: orZero(w.MaterialCost).Abs(),
		}
	case MovementLoss:
		m.Loss = &LossDetail{
			ProductID: w.ProductID,
			QtyUnits:  orZero(w.QtyUnits).Abs(),
			LossCost:  orZero(w.LossCost).Abs(),
		}
	case MovementExpense:
		m.Expense = &ExpenseDetail{Amount: orZero(w.Amount)}
	case MovementCancel:
		m.Cancel = &CancelDetail{RefMID: w.RefMID}
	default:
		return fmt.Errorf("%w: %s has unknown type %q", ErrMalformedMovement, w.MID, w.Type)
	}
	return nil
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
