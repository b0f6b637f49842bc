// Package telemetry exposes Prometheus metrics for sync cycles and the HTTP
// surface.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwatch_cycles_total",
			Help: "Total sync cycles run, labeled by category and outcome.",
		},
		[]string{"category", "status"},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwatch_alerts_total",
			Help: "Total alerts queued for delivery, labeled by category.",
		},
		[]string{"category"},
	)

	deliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfwatch_delivery_failures_total",
			Help: "Total notifier deliveries that returned an error.",
		},
	)

	catalogItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfwatch_catalog_items",
			Help: "Items currently in the catalog document, labeled by category.",
		},
		[]string{"category"},
	)

	cycleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfwatch_cycle_duration_seconds",
			Help:    "Histogram of sync cycle wall time, labeled by category.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"category"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// ObserveCycle records the outcome and duration of one sync cycle.
func ObserveCycle(category string, status string, duration time.Duration) {
	cyclesTotal.WithLabelValues(category, status).Inc()
	cycleDurationSeconds.WithLabelValues(category).Observe(duration.Seconds())
}

// ObserveAlerts counts alerts queued for delivery.
func ObserveAlerts(category string, count int) {
	if count > 0 {
		alertsTotal.WithLabelValues(category).Add(float64(count))
	}
}

// ObserveDeliveryFailure counts one failed notifier delivery.
func ObserveDeliveryFailure() {
	deliveryFailuresTotal.Inc()
}

// SetCatalogSize publishes the current per-category item count.
func SetCatalogSize(category string, count int) {
	catalogItems.WithLabelValues(category).Set(float64(count))
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
