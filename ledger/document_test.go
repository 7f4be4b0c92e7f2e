package ledger_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stockflux/ledger"
)

func TestMovementJSON_FlatWireShape(t *testing.T) {
	doc := journal()
	m := purchaseMovement(doc, "2025-03-01", "P1", "10", "2.5")
	m.Purchase.QtyLots = decp("1")
	m.Purchase.UnitsPerLotUsed = decp("10")
	m.Purchase.PriceLot = decp("25")

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "M000001", wire["mid"])
	assert.Equal(t, "2025-03-01", wire["date"])
	assert.Equal(t, "PURCHASE", wire["type"])
	assert.Equal(t, "P1", wire["productId"])
	assert.Equal(t, "2.5", wire["unitPrice"])
	assert.Equal(t, "25", wire["totalCost"])
	assert.Equal(t, "10", wire["unitsPerLotUsed"])
	assert.Equal(t, []any{}, wire["tags"])
	assert.NotContains(t, wire, "saleTotal")
	assert.NotContains(t, wire, "refMid")
}

func TestDecodeDocument_SalesOptional(t *testing.T) {
	doc, err := ledger.DecodeDocument([]byte(`{"formatVersion": 1, "products": [], "movements": [
		{"mid": "M000001", "date": "2025-01-02", "type": "EXPENSE", "amount": 12, "tags": ["rent", "rent", " atelier "]}
	]}`))
	require.NoError(t, err)

	assert.NotNil(t, doc.Sales)
	assert.Equal(t, 2, doc.NextMID)
	require.Len(t, doc.Movements, 1)
	assert.Equal(t, []string{"atelier", "rent"}, doc.Movements[0].Tags)
	assert.True(t, doc.Movements[0].Expense.Amount.Equal(dec("12")))
}

func TestDecodeDocument_RejectsInvalidDate(t *testing.T) {
	_, err := ledger.DecodeDocument([]byte(`{"formatVersion": 1, "products": [], "movements": [
		{"mid": "M000001", "date": "2025-02-30", "type": "EXPENSE", "amount": 12}
	]}`))

	var ie *ledger.ImportError
	require.ErrorAs(t, err, &ie)
}

func TestDate_RangeAndMonth(t *testing.T) {
	r := ledger.MonthRange(ledger.MustParseDate("2024-02-14"))
	assert.Equal(t, "2024-02-01", r.From.String())
	assert.Equal(t, "2024-02-29", r.To.String())
	assert.True(t, r.Contains(ledger.MustParseDate("2024-02-29")))
	assert.False(t, r.Contains(ledger.MustParseDate("2024-03-01")))
	assert.True(t, ledger.Range{}.Contains(ledger.MustParseDate("1999-01-01")))

	_, err := ledger.ParseDate("2025-02-30")
	assert.Error(t, err)
}
