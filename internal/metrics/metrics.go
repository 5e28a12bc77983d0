// Package metrics provides Prometheus instrumentation for the tracker.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRedirect = "redirect"
	OutcomeInvalid  = "invalid"
	OutcomeSkipped  = "skipped"
)

var (
	// AuthAttempts counts authentication operations by method and outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_auth_attempts_total",
		Help: "Authentication operations by method and outcome",
	}, []string{"method", "outcome"})

	// AuthErrors counts classified authentication failures by kind.
	AuthErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_auth_errors_total",
		Help: "Classified authentication failures",
	}, []string{"kind"})

	// WatchlistWrites counts watchlist merge-writes by operation and outcome.
	WatchlistWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_watchlist_writes_total",
		Help: "Watchlist writes by operation and outcome",
	}, []string{"op", "outcome"})

	// WatchlistSubscriptions tracks open watchlist document subscriptions.
	WatchlistSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_watchlist_subscriptions",
		Help: "Number of open watchlist subscriptions",
	})

	// CoinFetches counts market-data fetches by currency and outcome.
	CoinFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_coin_fetches_total",
		Help: "Market-data fetches by currency and outcome",
	}, []string{"currency", "outcome"})

	// CoinFetchLatency tracks market-data fetch latency.
	CoinFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_coin_fetch_latency_seconds",
		Help:    "Market-data fetch latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"currency"})

	// ActiveSessions tracks live session contexts.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_active_sessions",
		Help: "Number of live session contexts",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
