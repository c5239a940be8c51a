// Package metrics exposes Prometheus collectors for the status API and the
// keyword-data provider client.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	rateLimitDelay   *prometheus.HistogramVec
}

// New registers the collectors against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keywordintel_http_requests_total",
			Help: "Status API requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keywordintel_http_request_duration_seconds",
			Help:    "Status API latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keywordintel_provider_requests_total",
			Help: "Keyword-data provider calls, labeled by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keywordintel_provider_request_duration_seconds",
			Help:    "Keyword-data provider latencies, labeled by endpoint.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keywordintel_provider_throttle_seconds",
			Help:    "Time spent waiting on the client-side provider throttle.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"endpoint"}),
	}
	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.providerRequests, m.providerDuration, m.rateLimitDelay,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return m, nil
}

// Handler exposes the default gatherer. Pass a registry to HandlerFor when
// collectors were registered elsewhere.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor exposes g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveProviderCall records one provider round trip.
func (m *Metrics) ObserveProviderCall(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(endpoint, outcome).Inc()
	m.providerDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRateLimitDelay records a throttle wait. Its signature matches
// ratelimit.Observer.
func (m *Metrics) ObserveRateLimitDelay(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelay.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Middleware is a chi middleware that records request counts and latencies.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
