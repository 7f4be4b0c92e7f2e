/*
Package metrics exposes ledger activity to Prometheus.

PURPOSE:
  The ledger announces every state change as an event. Metrics subscribes
  and counts them; a few gauges read the current document on scrape.

METRICS:
  stockflux_ledger_events_total{kind}           every ledger event
  stockflux_movements_appended_total{type}      appended movements by type
  stockflux_storage_failures_total              commits that could not persist
  stockflux_http_requests_total{method,status}  API requests
  stockflux_http_request_duration_seconds       API latency
  stockflux_ledger_movements / _products / _sales    gauges
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/stockflux/ledger"
)

const metricPrefix = "stockflux_"

// Metrics bundles the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal     *prometheus.CounterVec
	MovementsTotal  *prometheus.CounterVec
	StorageFailures prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_events_total",
				Help: "Ledger events by kind",
			},
			[]string{"kind"},
		),
		MovementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "movements_appended_total",
				Help: "Movements appended to the journal by type",
			},
			[]string{"type"},
		),
		StorageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "storage_failures_total",
			Help: "Commits whose document could not be persisted",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "API requests by method and status",
			},
			[]string{"method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "API latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
	m.registry.MustRegister(
		m.EventsTotal,
		m.MovementsTotal,
		m.StorageFailures,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Watch subscribes to l's events and registers gauges over its document.
// The returned function unsubscribes.
func (m *Metrics) Watch(l *ledger.Ledger) func() {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_movements",
			Help: "Movements in the journal, cancellations included",
		}, func() float64 { return float64(len(l.Movements())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_products",
			Help: "Products in the catalogue",
		}, func() float64 { return float64(len(l.Products())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_sales",
			Help: "Sale orders recorded",
		}, func() float64 { return float64(len(l.Sales())) }),
	)
	return l.Subscribe(m.Observe)
}

// Observe records one ledger event.
func (m *Metrics) Observe(ev ledger.Event) {
	m.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	for _, mv := range ev.Movements {
		m.MovementsTotal.WithLabelValues(string(mv.Type)).Inc()
	}
	if ev.Kind == ledger.EventStorageFailed {
		m.StorageFailures.Inc()
	}
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Registry is exposed for tests and for callers adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
