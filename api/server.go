/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     chi request logging (debug mode only)
  3. AccessLog:  zap access line + Prometheus request metrics
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the browser UI

ROUTE GROUPS:
  /api/products/*       Product catalogue
  /api/movements/*      Journal history and cancellation
  /api/sales/*          Sale orders
  /api/valuation/*      Point-in-time stock valuation
  /api/drafts/*         Draft queue, validation, injection
  /api/dashboard        Period figures
  /api/reports/*        XLSX / PDF dashboard
  /api/export, import   Whole-ledger transfer
  /api/scenarios/*      Demo data
  /metrics              Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// RequestLog enables chi's console request logger next to the zap
	// access log.
	RequestLog bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	if opts.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: !slices.Contains(origins, "*"),
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpdateProduct)
		})

		r.Route("/movements", func(r chi.Router) {
			r.Get("/", h.ListMovements)
			r.Get("/{mid}", h.GetMovement)
			r.Post("/{mid}/cancel", h.CancelMovement)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Post("/{sid}/cancel", h.CancelSale)
		})

		r.Get("/valuation/{productId}", h.GetValuation)

		r.Route("/drafts", func(r chi.Router) {
			r.Get("/", h.ListDrafts)
			r.Post("/", h.AddDraft)
			r.Delete("/", h.ClearDrafts)
			r.Post("/validate", h.ValidateDrafts)
			r.Post("/inject", h.InjectDrafts)
			r.Put("/{id}", h.ReplaceDraft)
			r.Delete("/{id}", h.RemoveDraft)
		})

		r.Get("/dashboard", h.GetDashboard)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/dashboard.xlsx", h.DashboardXLSX)
			r.Get("/dashboard.pdf", h.DashboardPDF)
		})

		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
		r.Post("/reset", h.ResetLedger)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Stock &amp; Flux</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Stock &amp; Flux API</h1>
<ul>
<li><a href="/api/products">/api/products</a> - Products</li>
<li><a href="/api/movements">/api/movements</a> - Journal</li>
<li><a href="/api/dashboard">/api/dashboard</a> - This month</li>
<li><a href="/api/export">/api/export</a> - Download the ledger</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo data</li>
</ul>
</body>
</html>`))
	})

	return r
}

// accessLog writes one zap line per request and feeds the request metrics.
// Routes are labelled by method only to keep metric cardinality fixed.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if h.Metrics != nil {
			h.Metrics.ObserveRequest(r.Method, status, elapsed)
		}
		h.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
