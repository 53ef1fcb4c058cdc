// Package metrics provides Prometheus instrumentation for the session server.
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

var (
	// EventsTotal counts applied inbound events, partitioned by event type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panic_events_total",
		Help: "Total number of applied session events",
	}, []string{"event"})

	// EventsRejected counts dropped events by reason (unauthorized,
	// not_registered, malformed_payload, ...).
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panic_events_rejected_total",
		Help: "Session events dropped without effect",
	}, []string{"reason"})

	// RoundsStarted counts begin-round transitions.
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panic_rounds_started_total",
		Help: "Number of rounds started by hosts",
	})

	// NewsTotal counts news events by direction (up, down, flat).
	NewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panic_news_total",
		Help: "Number of news events triggered",
	}, []string{"direction"})

	// SettlementsTotal counts settled player decisions by decision.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panic_settlements_total",
		Help: "Number of player decisions settled",
	}, []string{"decision"})

	// Price tracks the current asset price.
	Price = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panic_price",
		Help: "Current simulated asset price",
	})

	// Players tracks the number of registered players.
	Players = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panic_players",
		Help: "Number of registered players",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panic_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// SlowClientsDropped counts connections closed because their send queue
	// was full.
	SlowClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panic_slow_clients_dropped_total",
		Help: "WebSocket clients disconnected for not keeping up",
	})

	// JournalErrors counts failed journal writes.
	JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panic_journal_errors_total",
		Help: "Failed journal writes",
	})

	// TransitionLatency tracks state transition plus fan-out time.
	TransitionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panic_transition_latency_seconds",
		Help:    "Session transition latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"event"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panic_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panic_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// unmatchedPath labels requests that no route claimed, so arbitrary URLs
// cannot grow the label set.
const unmatchedPath = "unmatched"

// Middleware returns an HTTP middleware that records request metrics. The
// path label is the chi route pattern, not the raw URL.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern must run after the router has matched the request.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedPath
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return unmatchedPath
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
