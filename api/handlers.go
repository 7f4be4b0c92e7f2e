/*
handlers.go - HTTP API handlers for the Stock & Flux ledger

PURPOSE:
  Exposes the ledger, the draft queue and the dashboard via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  the domain packages.

ENDPOINTS:
  Products:
    GET    /api/products                 List products
    POST   /api/products                 Create product
    GET    /api/products/{id}            Get product
    PUT    /api/products/{id}            Update product

  Journal:
    GET    /api/movements                History (type, productId, saleId, tag, from, to, q)
    GET    /api/movements/{mid}          One movement
    POST   /api/movements/{mid}/cancel   Append a CANCEL for it
    GET    /api/sales                    Sale orders
    POST   /api/sales/{sid}/cancel       Cancel every effective line
    GET    /api/valuation/{productId}    Stock level and average cost (asOf)

  Drafts:
    GET    /api/drafts                   Queue with last reports
    POST   /api/drafts                   Queue a draft
    DELETE /api/drafts                   Discard the whole queue
    PUT    /api/drafts/{id}              Replace a draft
    DELETE /api/drafts/{id}              Discard a draft
    POST   /api/drafts/validate          Validate the queue against the ledger
    POST   /api/drafts/inject            Validate and append in one commit

  Dashboard and files:
    GET    /api/dashboard                Figures for from..to (default this month)
    GET    /api/reports/dashboard.xlsx   Same figures as a workbook
    GET    /api/reports/dashboard.pdf    Same figures as a PDF page
    GET    /api/export                   Download the ledger document
    POST   /api/import                   Replace the ledger with a document
    POST   /api/reset                    Empty the ledger

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"} with the status chosen
  by statusFor:
  - 400: Invalid input, rejected import
  - 404: Unknown product, movement, sale or draft
  - 409: Product exists, already cancelled, import in progress
  - 422: Blocked draft batch (details is the report)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The service is meant for a single owner on a trusted
  network.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/stockflux/dashboard"
	"github.com/warp/stockflux/draft"
	"github.com/warp/stockflux/factory"
	"github.com/warp/stockflux/ledger"
	"github.com/warp/stockflux/metrics"
	"github.com/warp/stockflux/report"
)

// maxImportBytes bounds an uploaded document.
const maxImportBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Ledger
	Drafts   *draft.Queue
	Injector *draft.Injector
	Metrics  *metrics.Metrics // optional
	Log      *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with an empty draft queue.
func NewHandler(l *ledger.Ledger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Ledger:   l,
		Drafts:   draft.NewQueue(),
		Injector: draft.NewInjector(l, log),
		Log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Ledger.Products())
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.Product(ledger.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.Ledger.CreateProduct(r.Context(), req.toProduct())
	if err != nil {
		h.fail(w, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProduct replaces name, lot size and descriptions. The id is taken
// from the path.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	if !h.check(w, req) {
		return
	}
	p, err := h.Ledger.UpdateProduct(r.Context(), req.toProduct())
	if err != nil {
		h.fail(w, "Failed to update product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// JOURNAL HANDLERS
// =============================================================================

// ListMovements returns history rows, newest first.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	rows, err := dashboard.History(h.Ledger.Snapshot(), f)
	if err != nil {
		h.fail(w, "Failed to list movements", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) GetMovement(w http.ResponseWriter, r *http.Request) {
	m, err := h.Ledger.Movement(ledger.MovementID(chi.URLParam(r, "mid")))
	if err != nil {
		h.fail(w, "Failed to get movement", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CancelMovement appends a CANCEL dated today.
func (h *Handler) CancelMovement(w http.ResponseWriter, r *http.Request) {
	req, ok := h.cancelRequest(w, r)
	if !ok {
		return
	}
	c, err := h.Ledger.Cancel(r.Context(), ledger.MovementID(chi.URLParam(r, "mid")), req.Note)
	if err != nil {
		h.fail(w, "Failed to cancel movement", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Ledger.Sales())
}

// CancelSale cancels every line of the order that is still effective.
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	req, ok := h.cancelRequest(w, r)
	if !ok {
		return
	}
	cs, err := h.Ledger.CancelSale(r.Context(), ledger.SaleID(chi.URLParam(r, "sid")), req.Note)
	if err != nil {
		h.fail(w, "Failed to cancel sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, cs)
}

// cancelRequest reads an optional {"note"} body.
func (h *Handler) cancelRequest(w http.ResponseWriter, r *http.Request) (CancelRequest, bool) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return req, false
		}
	}
	return req, h.check(w, req)
}

// GetValuation returns a product's stock and average cost as of a day.
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "productId"))
	if _, err := h.Ledger.Product(id); err != nil {
		h.fail(w, "Failed to value product", err)
		return
	}
	asOf := h.Ledger.Today()
	if s := r.URL.Query().Get("asOf"); s != "" {
		d, err := ledger.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid asOf date (use YYYY-MM-DD)", err)
			return
		}
		asOf = d
	}

	v := ledger.NewValuation(h.Ledger.Movements())
	dto := ValuationDTO{ProductID: id, AsOf: asOf, StockLevel: v.StockLevel(id, asOf)}
	if wac, ok := v.WeightedAverageCost(id, asOf); ok {
		cost := ledger.RoundUnitPrice(wac)
		value := ledger.RoundMoney(dto.StockLevel.Mul(wac))
		dto.AverageCost, dto.StockValue = &cost, &value
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// DRAFT HANDLERS
// =============================================================================

func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DraftQueueDTO{Items: toDraftItemDTOs(h.Drafts.Items())})
}

func (h *Handler) AddDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, toDraftItemDTO(h.Drafts.Add(d)))
}

func (h *Handler) ReplaceDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draftRequest(w, r)
	if !ok {
		return
	}
	it, err := h.Drafts.Replace(chi.URLParam(r, "id"), d)
	if err != nil {
		h.fail(w, "Failed to replace draft", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftItemDTO(it))
}

func (h *Handler) RemoveDraft(w http.ResponseWriter, r *http.Request) {
	it, err := h.Drafts.Remove(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to discard draft", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftItemDTO(it))
}

func (h *Handler) ClearDrafts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toDraftItemDTOs(h.Drafts.Clear()))
}

// ValidateDrafts runs the batch rules against the current ledger without
// writing anything.
func (h *Handler) ValidateDrafts(w http.ResponseWriter, r *http.Request) {
	rep := h.Drafts.Validate(h.Ledger.Snapshot())
	if rep.Issues == nil {
		rep.Issues = []draft.Issue{}
	}
	writeJSON(w, http.StatusOK, DraftQueueDTO{
		Items:  toDraftItemDTOs(h.Drafts.Items()),
		Report: &rep,
	})
}

// InjectDrafts appends the whole queue in one commit, or nothing.
func (h *Handler) InjectDrafts(w http.ResponseWriter, r *http.Request) {
	res, err := h.Injector.Inject(r.Context(), h.Drafts)
	if err != nil {
		h.fail(w, "Failed to inject drafts", err)
		return
	}
	warnings := res.Report.Warnings()
	if warnings == nil {
		warnings = []draft.Issue{}
	}
	writeJSON(w, http.StatusCreated, InjectDTO{
		Movements: res.Movements,
		Sales:     res.Sales,
		Warnings:  warnings,
	})
}

// draftRequest decodes {"draft": {...}}. Only the type is checked here.
func (h *Handler) draftRequest(w http.ResponseWriter, r *http.Request) (factory.Draft, bool) {
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	d, err := factory.FromJSON(req.Draft)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported draft", err)
		return nil, false
	}
	return d, true
}

// =============================================================================
// DASHBOARD, REPORTS, EXPORT
// =============================================================================

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	s, ok := h.summary(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) DashboardXLSX(w http.ResponseWriter, r *http.Request) {
	s, ok := h.summary(w, r)
	if !ok {
		return
	}
	rows, err := dashboard.History(h.Ledger.Snapshot(), dashboard.Filter{Range: ledger.Range{From: s.From, To: s.To}})
	if err != nil {
		h.fail(w, "Failed to build report", err)
		return
	}
	data, err := report.BuildXLSX(s, rows)
	if err != nil {
		h.fail(w, "Failed to build report", err)
		return
	}
	writeFile(w, report.ContentTypeXLSX, report.Filename(ledger.DefaultExportPrefix, s, "xlsx"), data)
}

func (h *Handler) DashboardPDF(w http.ResponseWriter, r *http.Request) {
	s, ok := h.summary(w, r)
	if !ok {
		return
	}
	data, err := report.BuildPDF(s)
	if err != nil {
		h.fail(w, "Failed to build report", err)
		return
	}
	writeFile(w, report.ContentTypePDF, report.Filename(ledger.DefaultExportPrefix, s, "pdf"), data)
}

// summary computes the dashboard for ?from=&to=. With neither set the
// current month is used.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) (dashboard.Summary, bool) {
	today := h.Ledger.Today()
	q := r.URL.Query()
	rng := ledger.MonthRange(today)
	if q.Get("from") != "" || q.Get("to") != "" {
		var err error
		if rng, err = parseRange(q.Get("from"), q.Get("to")); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date range (use YYYY-MM-DD)", err)
			return dashboard.Summary{}, false
		}
	}
	s, err := dashboard.Compute(h.Ledger.Snapshot(), rng, today)
	if err != nil {
		h.fail(w, "Failed to compute dashboard", err)
		return dashboard.Summary{}, false
	}
	return s, true
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	art, err := h.Ledger.Export()
	if err != nil {
		h.fail(w, "Failed to export ledger", err)
		return
	}
	writeFile(w, art.ContentType, art.Filename, art.Data)
}

// Import replaces the whole ledger. The draft queue is left alone; its
// drafts will be validated against the new document.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := h.Ledger.Import(r.Context(), body); err != nil {
		h.fail(w, "Failed to import ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"products":  len(h.Ledger.Products()),
		"movements": len(h.Ledger.Movements()),
		"sales":     len(h.Ledger.Sales()),
	})
}

// ResetLedger empties the ledger and the draft queue.
func (h *Handler) ResetLedger(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset ledger", err)
		return
	}
	h.Drafts.Clear()
	h.setScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a domain error to its status. A blocked batch carries its
// report as details.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	var blocked *draft.BlockedError
	if errors.As(err, &blocked) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: message, Details: blocked.Report})
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case ledger.IsNotFound(err), errors.Is(err, draft.ErrItemNotFound):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case ledger.IsClientError(err), errors.Is(err, draft.ErrEmptyQueue):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Details: processValidationErrors(err),
		})
		return false
	}
	return true
}

// processValidationErrors maps each failing field to the rule it broke.
func processValidationErrors(err error) map[string]string {
	out := make(map[string]string)
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		out["_"] = err.Error()
		return out
	}
	for _, ve := range ves {
		out[ve.Field()] = ve.Tag()
	}
	return out
}

// parseFilter reads the history query parameters.
func parseFilter(r *http.Request) (dashboard.Filter, error) {
	q := r.URL.Query()
	f := dashboard.Filter{
		ProductID: ledger.ProductID(q.Get("productId")),
		SaleID:    ledger.SaleID(q.Get("saleId")),
		Tag:       q.Get("tag"),
		Search:    q.Get("q"),
	}
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t == "" {
			continue
		}
		mt := ledger.MovementType(t)
		if !mt.Valid() {
			return f, fmt.Errorf("unknown movement type %q", t)
		}
		f.Types = append(f.Types, mt)
	}
	rng, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		return f, err
	}
	f.Range = rng
	return f, nil
}

// parseRange parses optional bounds; an empty bound stays open.
func parseRange(from, to string) (ledger.Range, error) {
	var rng ledger.Range
	var err error
	if from != "" {
		if rng.From, err = ledger.ParseDate(from); err != nil {
			return rng, err
		}
	}
	if to != "" {
		if rng.To, err = ledger.ParseDate(to); err != nil {
			return rng, err
		}
	}
	return rng, rng.Validate()
}
