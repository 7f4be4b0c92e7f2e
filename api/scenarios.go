/*
scenarios.go - Demo data loaders for trying the ledger

PURPOSE:

	Provides pre-built data sets that populate an empty ledger with
	realistic activity. Each scenario creates products and appends a batch
	of movements through the factory, exactly like injected drafts.

AVAILABLE SCENARIOS:

	workshop:      Purchases in lots and units, sales, expenses, a loss
	oversold:      A sale larger than the stock, repaired by a late purchase
	cancellations: A mistyped purchase and a sale order, both cancelled

HOW SCENARIOS WORK:
 1. Reset the ledger and the draft queue
 2. Create products
 3. Build and append the movements in one transaction
 4. Optionally cancel some of them

Dates are relative to today so the dashboard's default month shows them.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "workshop"}

NOTE:

	Loading a scenario replaces the ledger. Export first if it matters.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/stockflux/factory"
	"github.com/warp/stockflux/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "workshop",
		Name:        "Workshop",
		Description: "Two weeks of purchases, sales and running costs",
	},
	{
		ID:          "oversold",
		Name:        "Oversold",
		Description: "A sale exceeds the stock; the shortfall is bought afterwards",
	},
	{
		ID:          "cancellations",
		Name:        "Cancellations",
		Description: "Corrections made with cancellation entries",
	},
}

// ListScenarios returns the available demo data sets.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario replaces the ledger with a demo data set.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Ledger.Reset(ctx); err != nil {
		h.fail(w, "Failed to reset ledger", err)
		return
	}
	h.Drafts.Clear()
	h.setScenario("")

	if err := load(ctx, h.Ledger); err != nil {
		h.fail(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.setScenario(req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"scenario":  req.ScenarioID,
		"products":  len(h.Ledger.Products()),
		"movements": len(h.Ledger.Movements()),
	})
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type scenarioLoader func(ctx context.Context, l *ledger.Ledger) error

var scenarioLoaders = map[string]scenarioLoader{
	"workshop":      loadWorkshopScenario,
	"oversold":      loadOversoldScenario,
	"cancellations": loadCancellationsScenario,
}

func num(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// daysAgo formats the date n days before the ledger's today.
func daysAgo(l *ledger.Ledger, n int) string {
	return l.Today().AddDays(-n).String()
}

func createProducts(ctx context.Context, l *ledger.Ledger, products ...ledger.Product) error {
	for _, p := range products {
		if _, err := l.CreateProduct(ctx, p); err != nil {
			return fmt.Errorf("product %s: %w", p.ID, err)
		}
	}
	return nil
}

// appendDrafts builds drafts and appends them in one transaction.
func appendDrafts(ctx context.Context, l *ledger.Ledger, drafts ...factory.Draft) (factory.Result, error) {
	var res factory.Result
	err := l.WithTx(ctx, func(doc *ledger.Document) error {
		var err error
		res, err = factory.Build(doc, drafts, factory.Options{})
		return err
	})
	return res, err
}

func loadWorkshopScenario(ctx context.Context, l *ledger.Ledger) error {
	if err := createProducts(ctx, l,
		ledger.Product{ID: "BOARD-OAK", Name: "Oak board 18mm", UnitsPerLotDefault: num("10"), Descriptions: []string{"1200x400mm"}},
		ledger.Product{ID: "HINGE-BR", Name: "Brass hinge", UnitsPerLotDefault: num("50")},
		ledger.Product{ID: "VARNISH", Name: "Varnish 1L"},
	); err != nil {
		return err
	}

	_, err := appendDrafts(ctx, l,
		factory.PurchaseDraft{Date: daysAgo(l, 14), ProductID: "BOARD-OAK", QtyLots: num("2"), PriceLot: num("180"), Note: "Sawmill order"},
		factory.PurchaseDraft{Date: daysAgo(l, 14), ProductID: "HINGE-BR", QtyLots: num("1"), PriceLot: num("42.50")},
		factory.PurchaseDraft{Date: daysAgo(l, 13), ProductID: "VARNISH", QtyUnits: num("6"), UnitPrice: num("14.90")},
		factory.ExpenseDraft{Date: daysAgo(l, 12), Amount: num("650"), Note: "Workshop rent", Tags: []string{"rent"}},
		factory.SaleDraft{Date: daysAgo(l, 9), Note: "Bookshelf", Lines: []factory.SaleLineDraft{
			{ProductID: "BOARD-OAK", QtyUnits: num("5"), SaleTotal: num("240")},
			{ProductID: "HINGE-BR", QtyUnits: num("4"), SaleTotal: num("12")},
		}},
		factory.LossDraft{Date: daysAgo(l, 7), ProductID: "VARNISH", QtyUnits: num("1"), Note: "Spilled"},
		factory.PurchaseDraft{Date: daysAgo(l, 5), ProductID: "BOARD-OAK", QtyUnits: num("10"), UnitPrice: num("19.50")},
		factory.ExpenseDraft{Date: daysAgo(l, 3), Amount: num("38.20"), Note: "Sanding discs", Tags: []string{"consumables"}},
		factory.SaleDraft{Date: daysAgo(l, 1), Note: "Two shelves", Lines: []factory.SaleLineDraft{
			{ProductID: "BOARD-OAK", QtyUnits: num("4"), SaleTotal: num("190")},
			{ProductID: "VARNISH", QtyUnits: num("1"), SaleTotal: num("25")},
		}},
	)
	return err
}

func loadOversoldScenario(ctx context.Context, l *ledger.Ledger) error {
	if err := createProducts(ctx, l,
		ledger.Product{ID: "MUG", Name: "Stoneware mug"},
	); err != nil {
		return err
	}
	_, err := appendDrafts(ctx, l,
		factory.PurchaseDraft{Date: daysAgo(l, 10), ProductID: "MUG", QtyUnits: num("5"), UnitPrice: num("4")},
		factory.SaleDraft{Date: daysAgo(l, 8), Note: "Market stall", Lines: []factory.SaleLineDraft{
			{ProductID: "MUG", QtyUnits: num("8"), SaleTotal: num("96")},
		}},
		factory.PurchaseDraft{Date: daysAgo(l, 2), ProductID: "MUG", QtyUnits: num("10"), UnitPrice: num("4.40")},
	)
	return err
}

func loadCancellationsScenario(ctx context.Context, l *ledger.Ledger) error {
	if err := createProducts(ctx, l,
		ledger.Product{ID: "CANDLE", Name: "Beeswax candle", UnitsPerLotDefault: num("12")},
	); err != nil {
		return err
	}
	res, err := appendDrafts(ctx, l,
		factory.PurchaseDraft{Date: daysAgo(l, 9), ProductID: "CANDLE", QtyLots: num("2"), PriceLot: num("300"), Note: "Price typed wrong"},
		factory.PurchaseDraft{Date: daysAgo(l, 9), ProductID: "CANDLE", QtyLots: num("2"), PriceLot: num("30")},
		factory.SaleDraft{Date: daysAgo(l, 4), Note: "Order returned", Lines: []factory.SaleLineDraft{
			{ProductID: "CANDLE", QtyUnits: num("6"), SaleTotal: num("27")},
		}},
	)
	if err != nil {
		return err
	}
	if _, err := l.Cancel(ctx, res.Movements[0].MID, "Wrong lot price"); err != nil {
		return err
	}
	_, err = l.CancelSale(ctx, res.Sales[0].SID, "Customer returned the order")
	return err
}
