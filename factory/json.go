package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DraftJSON is the wire form of any draft. Type selects which fields apply:
//
//	{"type": "PURCHASE", "date": "2025-03-01", "productId": "P1",
//	 "qtyLots": "1", "unitsPerLot": "10", "priceLot": "100"}
//	{"type": "SALE", "date": "2025-03-02",
//	 "lines": [{"productId": "P1", "qtyUnits": "4", "saleTotal": "80"}]}
type DraftJSON struct {
	Type        string           `json:"type"`
	Date        string           `json:"date"`
	ProductID   string           `json:"productId,omitempty"`
	QtyUnits    *decimal.Decimal `json:"qtyUnits,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
	QtyLots     *decimal.Decimal `json:"qtyLots,omitempty"`
	UnitsPerLot *decimal.Decimal `json:"unitsPerLot,omitempty"`
	PriceLot    *decimal.Decimal `json:"priceLot,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Lines       []SaleLineJSON   `json:"lines,omitempty"`
	Note        string           `json:"note,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
}

type SaleLineJSON struct {
	ProductID string           `json:"productId"`
	QtyUnits  *decimal.Decimal `json:"qtyUnits,omitempty"`
	SaleTotal *decimal.Decimal `json:"saleTotal,omitempty"`
}

// ParseDraft decodes a JSON draft.
func ParseDraft(raw []byte) (Draft, error) {
	var dj DraftJSON
	if err := json.Unmarshal(raw, &dj); err != nil {
		return nil, fmt.Errorf("failed to parse draft JSON: %w", err)
	}
	return FromJSON(dj)
}

// FromJSON converts the wire form to a typed draft.
func FromJSON(dj DraftJSON) (Draft, error) {
	switch ledger.MovementType(strings.ToUpper(strings.TrimSpace(dj.Type))) {
	case ledger.MovementPurchase:
		return PurchaseDraft{
			Date:        dj.Date,
			ProductID:   ledger.ProductID(dj.ProductID),
			QtyUnits:    dj.QtyUnits,
			UnitPrice:   dj.UnitPrice,
			QtyLots:     dj.QtyLots,
			UnitsPerLot: dj.UnitsPerLot,
			PriceLot:    dj.PriceLot,
			Note:        dj.Note,
			Tags:        dj.Tags,
		}, nil
	case ledger.MovementLoss:
		return LossDraft{
			Date:      dj.Date,
			ProductID: ledger.ProductID(dj.ProductID),
			QtyUnits:  dj.QtyUnits,
			Note:      dj.Note,
			Tags:      dj.Tags,
		}, nil
	case ledger.MovementExpense:
		return ExpenseDraft{Date: dj.Date, Amount: dj.Amount, Note: dj.Note, Tags: dj.Tags}, nil
	case ledger.MovementSale:
		sd := SaleDraft{Date: dj.Date, Note: dj.Note, Tags: dj.Tags}
		for _, l := range dj.Lines {
			sd.Lines = append(sd.Lines, SaleLineDraft{
				ProductID: ledger.ProductID(l.ProductID),
				QtyUnits:  l.QtyUnits,
				SaleTotal: l.SaleTotal,
			})
		}
		return sd, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDraft, dj.Type)
}

// ToJSON is the inverse of FromJSON.
func ToJSON(d Draft) DraftJSON {
	switch d := d.(type) {
	case PurchaseDraft:
		return DraftJSON{
			Type: string(d.Kind()), Date: d.Date, ProductID: string(d.ProductID),
			QtyUnits: d.QtyUnits, UnitPrice: d.UnitPrice, QtyLots: d.QtyLots,
			UnitsPerLot: d.UnitsPerLot, PriceLot: d.PriceLot, Note: d.Note, Tags: d.Tags,
		}
	case LossDraft:
		return DraftJSON{
			Type: string(d.Kind()), Date: d.Date, ProductID: string(d.ProductID),
			QtyUnits: d.QtyUnits, Note: d.Note, Tags: d.Tags,
		}
	case ExpenseDraft:
		return DraftJSON{Type: string(d.Kind()), Date: d.Date, Amount: d.Amount, Note: d.Note, Tags: d.Tags}
	case SaleDraft:
		dj := DraftJSON{Type: string(d.Kind()), Date: d.Date, Note: d.Note, Tags: d.Tags}
		for _, l := range d.Lines {
			dj.Lines = append(dj.Lines, SaleLineJSON{ProductID: string(l.ProductID), QtyUnits: l.QtyUnits, SaleTotal: l.SaleTotal})
		}
		return dj
	}
	return DraftJSON{}
}
