/*
ledger_test.go - Ledger store behaviour

Tests for:
- Load/Save against a key-value backend (missing, corrupt, round trip)
- Append-only transactions
- Storage failures during commit
- Export naming, all-or-nothing import, the import guard, reset
*/
package ledger_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stockflux/ledger"
	"github.com/warp/stockflux/ledger/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var fixedNow = time.Date(2025, 4, 10, 9, 30, 0, 0, time.UTC)

func openLedger(t *testing.T, mem *store.Memory) *ledger.Ledger {
	t.Helper()
	return ledger.Open(context.Background(), mem, ledger.Options{
		Now:      func() time.Time { return fixedNow },
		Location: time.UTC,
	})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

func purchaseMovement(doc *ledger.Document, date, product, qty, price string) ledger.Movement {
	q, p := dec(qty), dec(price)
	return ledger.Movement{
		MID:  doc.AllocateMID(),
		Date: ledger.MustParseDate(date),
		Type: ledger.MovementPurchase,
		Tags: []string{},
		Purchase: &ledger.PurchaseDetail{
			ProductID: ledger.ProductID(product),
			QtyUnits:  q,
			UnitPrice: p,
			TotalCost: ledger.RoundMoney(q.Mul(p)),
		},
	}
}

// seed creates P1 and commits one purchase.
func seed(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	_, err := l.CreateProduct(ctx, ledger.Product{ID: "P1", Name: "Walnut board", UnitsPerLotDefault: decp("10")})
	require.NoError(t, err)
	require.NoError(t, l.WithTx(ctx, func(doc *ledger.Document) error {
		doc.Append(purchaseMovement(doc, "2025-04-01", "P1", "10", "2"))
		return nil
	}))
}

func record(l *ledger.Ledger) *[]ledger.Event {
	var mu sync.Mutex
	events := &[]ledger.Event{}
	l.Subscribe(func(ev ledger.Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, ev)
	})
	return events
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

func TestOpen_MissingDocumentStartsEmpty(t *testing.T) {
	l := openLedger(t, store.NewMemory())

	doc := l.Snapshot()
	assert.Equal(t, ledger.FormatVersion, doc.FormatVersion)
	assert.Empty(t, doc.Products)
	assert.Empty(t, doc.Movements)
	assert.Equal(t, 1, doc.NextMID)
	assert.Equal(t, 1, doc.NextSID)
}

func TestOpen_CorruptDocumentStartsEmpty(t *testing.T) {
	for name, blob := range map[string]string{
		"not json":      "{{{",
		"wrong version": `{"formatVersion": 2, "products": [], "movements": []}`,
		"no movements":  `{"formatVersion": 1, "products": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemory()
			require.NoError(t, mem.Put(context.Background(), ledger.DefaultStorageKey, []byte(blob)))

			l := openLedger(t, mem)

			assert.Empty(t, l.Snapshot().Movements)
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	// GIVEN: A ledger with a product and a purchase
	mem := store.NewMemory()
	l := openLedger(t, mem)
	seed(t, l)

	// WHEN: A second ledger opens the same storage
	reopened := openLedger(t, mem)

	// THEN: It sees the same products, movements and counters
	a, b := l.Snapshot(), reopened.Snapshot()
	assert.Equal(t, a.NextMID, b.NextMID)
	require.Len(t, b.Movements, 1)
	assert.Equal(t, a.Movements[0].MID, b.Movements[0].MID)
	assert.True(t, a.Movements[0].Purchase.UnitPrice.Equal(b.Movements[0].Purchase.UnitPrice))
	require.Len(t, b.Products, 1)
	assert.Equal(t, "Walnut board", b.Products[0].Name)
}

func TestSave_ReturnsStorageError(t *testing.T) {
	mem := store.NewMemory()
	l := openLedger(t, mem)
	mem.FailPuts = errors.New("quota exceeded")

	err := l.Save(context.Background())

	assert.ErrorContains(t, err, "quota exceeded")
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RejectsHistoryRewrite(t *testing.T) {
	// GIVEN: One committed purchase
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	before := l.Movements()

	// WHEN: A transaction edits it
	err := l.WithTx(context.Background(), func(doc *ledger.Document) error {
		doc.Movements[0].Purchase.UnitPrice = dec("99")
		return nil
	})

	// THEN: The commit is refused and nothing changed
	assert.ErrorIs(t, err, ledger.ErrHistoryRewritten)
	assert.Equal(t, before, l.Movements())
}

func TestWithTx_RejectsRemoval(t *testing.T) {
	l := openLedger(t, store.NewMemory())
	seed(t, l)

	err := l.WithTx(context.Background(), func(doc *ledger.Document) error {
		doc.Movements = doc.Movements[:0]
		return nil
	})

	assert.ErrorIs(t, err, ledger.ErrHistoryRewritten)
	assert.Len(t, l.Movements(), 1)
}

func TestWithTx_ErrorLeavesLedgerUntouched(t *testing.T) {
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	before := l.Snapshot()

	err := l.WithTx(context.Background(), func(doc *ledger.Document) error {
		doc.Append(purchaseMovement(doc, "2025-04-02", "P1", "1", "1"))
		return errors.New("changed my mind")
	})

	require.Error(t, err)
	after := l.Snapshot()
	assert.Equal(t, before.Movements, after.Movements)
	assert.Equal(t, before.NextMID, after.NextMID)
}

func TestWithTx_StorageFailureKeepsMemoryState(t *testing.T) {
	// GIVEN: Storage that refuses writes
	mem := store.NewMemory()
	l := openLedger(t, mem)
	seed(t, l)
	events := record(l)
	mem.FailPuts = errors.New("quota exceeded")

	// WHEN: A movement is committed
	err := l.WithTx(context.Background(), func(doc *ledger.Document) error {
		doc.Append(purchaseMovement(doc, "2025-04-02", "P1", "1", "1"))
		return nil
	})

	// THEN: The commit succeeds in memory and the failure is announced
	require.NoError(t, err)
	assert.Len(t, l.Movements(), 2)
	require.Len(t, *events, 2)
	assert.Equal(t, ledger.EventCommitted, (*events)[0].Kind)
	assert.Equal(t, ledger.EventStorageFailed, (*events)[1].Kind)
	assert.ErrorContains(t, (*events)[1].Err, "quota exceeded")

	// And the next successful save catches up
	mem.FailPuts = nil
	require.NoError(t, l.Save(context.Background()))
	assert.Len(t, openLedger(t, mem).Movements(), 2)
}

func TestWithTx_EventCarriesAppendedMovements(t *testing.T) {
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	events := record(l)

	require.NoError(t, l.WithTx(context.Background(), func(doc *ledger.Document) error {
		doc.Append(purchaseMovement(doc, "2025-04-02", "P1", "1", "1"))
		return nil
	}))

	require.Len(t, *events, 1)
	require.Len(t, (*events)[0].Movements, 1)
	assert.Equal(t, ledger.MovementID("M000002"), (*events)[0].Movements[0].MID)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	l := openLedger(t, store.NewMemory())
	calls := 0
	unsubscribe := l.Subscribe(func(ledger.Event) { calls++ })

	require.NoError(t, l.Reset(context.Background()))
	unsubscribe()
	require.NoError(t, l.Reset(context.Background()))

	assert.Equal(t, 1, calls)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestProducts_CreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, store.NewMemory())

	_, err := l.CreateProduct(ctx, ledger.Product{ID: "P1", Name: "Walnut board"})
	require.NoError(t, err)

	_, err = l.CreateProduct(ctx, ledger.Product{ID: "P1", Name: "Again"})
	assert.ErrorIs(t, err, ledger.ErrProductExists)

	_, err = l.CreateProduct(ctx, ledger.Product{ID: "P 2", Name: "Spaced"})
	assert.ErrorIs(t, err, ledger.ErrInvalidProduct)

	_, err = l.CreateProduct(ctx, ledger.Product{ID: "P3", Name: "Bad lot", UnitsPerLotDefault: decp("0")})
	assert.ErrorIs(t, err, ledger.ErrInvalidProduct)

	updated, err := l.UpdateProduct(ctx, ledger.Product{ID: "P1", Name: "Oak board", Descriptions: []string{"FSC"}})
	require.NoError(t, err)
	assert.Equal(t, "Oak board", updated.Name)

	_, err = l.UpdateProduct(ctx, ledger.Product{ID: "P9", Name: "Ghost"})
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)

	p, err := l.Product("P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"FSC"}, p.Descriptions)
	assert.Len(t, l.Products(), 1)
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func TestExport_FilenameIsPrefixAndLocalDate(t *testing.T) {
	l := openLedger(t, store.NewMemory())
	seed(t, l)

	art, err := l.Export()
	require.NoError(t, err)

	assert.Equal(t, "stock-flux-2025-04-10.json", art.Filename)
	assert.Equal(t, "application/json", art.ContentType)
	assert.Contains(t, string(art.Data), `"formatVersion": 1`)
}

func TestImport_ReplacesDocument(t *testing.T) {
	// GIVEN: An export from one ledger
	src := openLedger(t, store.NewMemory())
	seed(t, src)
	art, err := src.Export()
	require.NoError(t, err)

	// WHEN: Another ledger imports it
	mem := store.NewMemory()
	dst := openLedger(t, mem)
	events := record(dst)
	require.NoError(t, dst.Import(context.Background(), bytes.NewReader(art.Data)))

	// THEN: It holds the same journal, persisted
	assert.Len(t, dst.Movements(), 1)
	assert.Len(t, openLedger(t, mem).Movements(), 1)
	require.Len(t, *events, 1)
	assert.Equal(t, ledger.EventImported, (*events)[0].Kind)
}

func TestImport_VersionMismatchChangesNothing(t *testing.T) {
	// GIVEN: A ledger with history
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	before := l.Snapshot()
	events := record(l)

	// WHEN: A document with another formatVersion is imported
	err := l.Import(context.Background(), strings.NewReader(`{"formatVersion": 2, "products": [], "movements": [], "nextMid": 1}`))

	// THEN: The import is rejected and the snapshot is identical
	var ie *ledger.ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, before, l.Snapshot())
	require.Len(t, *events, 1)
	assert.Equal(t, ledger.EventImportRejected, (*events)[0].Kind)
}

func TestImport_RejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"malformed json":     `{"formatVersion": 1,`,
		"missing version":    `{"products": [], "movements": []}`,
		"products not array": `{"formatVersion": 1, "products": {}, "movements": []}`,
		"missing movements":  `{"formatVersion": 1, "products": []}`,
		"unknown type":       `{"formatVersion": 1, "products": [], "movements": [{"mid":"M000001","date":"2025-01-01","type":"GIFT"}]}`,
		"dangling cancel":    `{"formatVersion": 1, "products": [], "movements": [{"mid":"M000001","date":"2025-01-01","type":"CANCEL","refMid":"M000009"}]}`,
		"duplicate product":  `{"formatVersion": 1, "products": [{"id":"P1","name":"a"},{"id":"P1","name":"b"}], "movements": []}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			l := openLedger(t, store.NewMemory())
			seed(t, l)
			before := l.Snapshot()

			err := l.Import(context.Background(), strings.NewReader(body))

			var ie *ledger.ImportError
			require.ErrorAs(t, err, &ie)
			assert.True(t, ledger.IsClientError(err))
			assert.Equal(t, before, l.Snapshot())
		})
	}
}

func TestImport_RepairsCounters(t *testing.T) {
	// GIVEN: A document whose counters lag behind its ids
	body := `{"formatVersion": 1, "nextMid": 1, "nextSid": 1,
		"products": [{"id": "P1", "name": "Walnut board"}],
		"movements": [
			{"mid": "M000007", "date": "2025-03-01", "type": "PURCHASE", "productId": "P1", "qtyUnits": 10, "unitPrice": 2},
			{"mid": "M000008", "date": "2025-03-02", "type": "SALE", "sid": "S000003", "productId": "P1", "qtyUnits": "-4", "saleTotal": "20", "materialCost": "-8"}
		],
		"sales": [{"sid": "S000003", "date": "2025-03-02", "note": "", "lines": [{"productId": "P1", "qtyUnits": "4", "saleTotal": "20"}]}]}`

	l := openLedger(t, store.NewMemory())
	require.NoError(t, l.Import(context.Background(), strings.NewReader(body)))

	// THEN: New ids continue after the highest existing one
	doc := l.Snapshot()
	assert.Equal(t, 9, doc.NextMID)
	assert.Equal(t, 4, doc.NextSID)

	// And legacy negative quantities are read as magnitudes
	m, err := l.Movement("M000008")
	require.NoError(t, err)
	assert.True(t, m.Sale.QtyUnits.Equal(dec("4")))
	assert.True(t, m.Sale.MaterialCost.Equal(dec("8")))
	assert.True(t, ledger.StockLevel(doc.Movements, "P1", ledger.MustParseDate("2025-03-02")).Equal(dec("6")))

	// And a missing totalCost is derived
	p, err := l.Movement("M000007")
	require.NoError(t, err)
	assert.True(t, p.Purchase.TotalCost.Equal(dec("20")))
}

// gatedReader blocks its first Read until released.
type gatedReader struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	r       io.Reader
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.r.Read(p)
}

func TestImport_GuardBlocksCommits(t *testing.T) {
	// GIVEN: An import waiting on its input
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	art, err := l.Export()
	require.NoError(t, err)

	gate := &gatedReader{started: make(chan struct{}), release: make(chan struct{}), r: bytes.NewReader(art.Data)}
	done := make(chan error, 1)
	go func() { done <- l.Import(context.Background(), gate) }()
	<-gate.started

	// WHEN: A commit and a second import are attempted meanwhile
	txErr := l.WithTx(context.Background(), func(doc *ledger.Document) error {
		doc.Append(purchaseMovement(doc, "2025-04-02", "P1", "1", "1"))
		return nil
	})
	importErr := l.Import(context.Background(), strings.NewReader("{}"))
	resetErr := l.Reset(context.Background())

	// THEN: All are refused until the import finishes
	assert.ErrorIs(t, txErr, ledger.ErrImportInProgress)
	assert.ErrorIs(t, importErr, ledger.ErrImportInProgress)
	assert.ErrorIs(t, resetErr, ledger.ErrImportInProgress)
	assert.True(t, ledger.IsConflict(txErr))

	close(gate.release)
	require.NoError(t, <-done)

	require.NoError(t, l.WithTx(context.Background(), func(doc *ledger.Document) error {
		doc.Append(purchaseMovement(doc, "2025-04-02", "P1", "1", "1"))
		return nil
	}))
}

func TestImport_WaitsForRunningCommit(t *testing.T) {
	// GIVEN: A commit paused inside its transaction
	l := openLedger(t, store.NewMemory())
	seed(t, l)
	art, err := l.Export()
	require.NoError(t, err)
	events := record(l)

	inTx := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- l.WithTx(context.Background(), func(doc *ledger.Document) error {
			close(inTx)
			<-release
			doc.Append(purchaseMovement(doc, "2025-04-02", "P1", "1", "1"))
			return nil
		})
	}()
	<-inTx

	// WHEN: An import starts meanwhile
	importDone := make(chan error, 1)
	go func() { importDone <- l.Import(context.Background(), bytes.NewReader(art.Data)) }()

	// THEN: The import waits for the commit, then replaces the result
	select {
	case err := <-importDone:
		t.Fatalf("import finished while a commit was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-txDone)
	require.NoError(t, <-importDone)

	assert.Len(t, l.Movements(), 1)
	require.Len(t, *events, 2)
	kinds := []ledger.EventKind{(*events)[0].Kind, (*events)[1].Kind}
	assert.ElementsMatch(t, []ledger.EventKind{ledger.EventCommitted, ledger.EventImported}, kinds)
}

func TestReset_EmptiesAndPersists(t *testing.T) {
	mem := store.NewMemory()
	l := openLedger(t, mem)
	seed(t, l)

	require.NoError(t, l.Reset(context.Background()))

	assert.Empty(t, l.Movements())
	assert.Empty(t, openLedger(t, mem).Products())
}
