package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stockflux/ledger"
	"github.com/warp/stockflux/ledger/store"
)

func TestCancel_AppendsCounterEntryDatedToday(t *testing.T) {
	// GIVEN: A committed purchase dated 2025-04-01
	l := openLedger(t, store.NewMemory())
	seed(t, l)

	// WHEN: It is cancelled
	c, err := l.Cancel(context.Background(), "M000001", "entered twice")
	require.NoError(t, err)

	// THEN: A CANCEL dated today references it; the original is untouched
	assert.Equal(t, ledger.MovementCancel, c.Type)
	assert.Equal(t, ledger.MovementID("M000002"), c.MID)
	assert.Equal(t, ledger.MovementID("M000001"), c.Cancel.RefMID)
	assert.Equal(t, "2025-04-10", c.Date.String())
	assert.Equal(t, "entered twice", c.Note)

	ms := l.Movements()
	require.Len(t, ms, 2)
	assert.Equal(t, ledger.MovementPurchase, ms[0].Type)
	assert.True(t, ledger.StockLevel(ms, "P1", ledger.MustParseDate("2025-04-30")).IsZero())
}

func TestCancel_DuplicateIsRejected(t *testing.T) {
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	_, err := l.Cancel(context.Background(), "M000001", "")
	require.NoError(t, err)

	_, err = l.Cancel(context.Background(), "M000001", "")

	assert.ErrorIs(t, err, ledger.ErrAlreadyCancelled)
	assert.True(t, ledger.IsConflict(err))
	assert.Len(t, l.Movements(), 2)
}

func TestCancel_CancellationCannotBeCancelled(t *testing.T) {
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	c, err := l.Cancel(context.Background(), "M000001", "")
	require.NoError(t, err)

	_, err = l.Cancel(context.Background(), c.MID, "")

	assert.ErrorIs(t, err, ledger.ErrCancelNotCancellable)
}

func TestCancel_UnknownMovement(t *testing.T) {
	l := openLedger(t, store.NewMemory())

	_, err := l.Cancel(context.Background(), "M000042", "")

	assert.ErrorIs(t, err, ledger.ErrMovementNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestCancelSale_CancelsRemainingLines(t *testing.T) {
	// GIVEN: A two-line sale order, one line already cancelled
	ctx := context.Background()
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	require.NoError(t, l.WithTx(ctx, func(doc *ledger.Document) error {
		sid := doc.AllocateSID()
		order := ledger.SaleOrder{SID: sid, Date: ledger.MustParseDate("2025-04-02")}
		for _, qty := range []string{"1", "2"} {
			m := outgoing(doc, ledger.MovementSale, "2025-04-02", "P1", qty)
			m.Sale.SID = sid
			doc.Append(m)
			order.Lines = append(order.Lines, ledger.SaleLine{ProductID: "P1", QtyUnits: dec(qty)})
		}
		doc.AddSale(order)
		return nil
	}))
	_, err := l.Cancel(ctx, "M000002", "")
	require.NoError(t, err)

	// WHEN: The whole order is cancelled
	created, err := l.CancelSale(ctx, "S000001", "customer returned")
	require.NoError(t, err)

	// THEN: Only the remaining line gets a counter-entry
	require.Len(t, created, 1)
	assert.Equal(t, ledger.MovementID("M000003"), created[0].Cancel.RefMID)

	_, err = l.CancelSale(ctx, "S000001", "")
	assert.ErrorIs(t, err, ledger.ErrAlreadyCancelled)

	_, err = l.CancelSale(ctx, "S000099", "")
	assert.ErrorIs(t, err, ledger.ErrSaleNotFound)
}
