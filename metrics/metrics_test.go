package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stockflux/ledger"
	"github.com/warp/stockflux/ledger/store"
	"github.com/warp/stockflux/metrics"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestWatch_CountsLedgerEvents(t *testing.T) {
	// GIVEN: Metrics watching a ledger
	ctx := context.Background()
	mem := store.NewMemory()
	l := ledger.Open(ctx, mem, ledger.Options{})
	m := metrics.New()
	defer m.Watch(l)()

	// WHEN: A product is saved, then a reset fails to persist
	_, err := l.CreateProduct(ctx, ledger.Product{ID: "P1", Name: "Walnut board"})
	require.NoError(t, err)
	mem.FailPuts = errors.New("disk full")
	require.NoError(t, l.Reset(ctx))

	// THEN: Every event is counted
	body := scrape(t, m)
	assert.Contains(t, body, `stockflux_ledger_events_total{kind="product_saved"} 1`)
	assert.Contains(t, body, `stockflux_ledger_events_total{kind="reset"} 1`)
	assert.Contains(t, body, `stockflux_storage_failures_total 1`)
	assert.Contains(t, body, `stockflux_ledger_products 0`)
}

func TestObserve_CountsMovementsByType(t *testing.T) {
	m := metrics.New()

	m.Observe(ledger.Event{Kind: ledger.EventCommitted, Movements: []ledger.Movement{
		{Type: ledger.MovementPurchase}, {Type: ledger.MovementSale}, {Type: ledger.MovementSale},
	}})

	body := scrape(t, m)
	assert.Contains(t, body, `stockflux_movements_appended_total{type="SALE"} 2`)
	assert.Contains(t, body, `stockflux_movements_appended_total{type="PURCHASE"} 1`)
}

func TestObserveRequest(t *testing.T) {
	m := metrics.New()
	m.ObserveRequest(http.MethodGet, http.StatusOK, 5*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `stockflux_http_requests_total{method="GET",status="200"} 1`)
	assert.Contains(t, body, `stockflux_http_request_duration_seconds_count{method="GET"} 1`)
}
