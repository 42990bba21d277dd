// Package httpapi exposes the ingestion and retrieval pipelines over HTTP:
// two independent chi routers sharing one middleware chain (network-policy
// allow-list, request logging, panic recovery, Prometheus metrics) and the
// same C1-C9 component wiring constructed once at startup (SPEC_FULL.md §6).
package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// allowedNets is the fixed §6 "Network policy" allow-list: loopback plus
// the three private ranges. Parsed once at package init since the CIDRs
// are constants, not configuration.
var allowedNets []*net.IPNet

func init() {
	for _, cidr := range []string{"127.0.0.1/32", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		allowedNets = append(allowedNets, n)
	}
}

func clientAllowed(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// networkPolicy rejects any client whose source address is not loopback or
// one of the three private ranges, with HTTP 403 (§6).
func networkPolicy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !clientAllowed(r.RemoteAddr) {
			writeError(w, pipelineerr.NewForbidden("httpapi.networkPolicy", "client %s is not in the allow-list", r.RemoteAddr))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code and size,
// and forwards Flush so SSE handlers can stream deltas through the
// middleware chain unbuffered.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Metrics holds the Prometheus collectors shared by both HTTP surfaces.
// Re-implemented against SPEC_FULL.md's actual metrics surface rather than
// carrying OpenTelemetry, which this module does not depend on.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the collectors against reg. Pass
// prometheus.DefaultRegisterer unless tests need an isolated registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ragcore_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ragcore_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// middleware records request count and latency keyed by chi's matched route
// pattern rather than the raw path, so templated routes like
// /v1/documents/{id} don't explode cardinality.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		status := strconv.Itoa(wrapped.statusCode)
		m.requests.WithLabelValues(route, r.Method, status).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// requestLogging logs method, path, status and latency for every request at
// Info level, matching the teacher's slog-based request logging.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger.FromContext(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"size", wrapped.size,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoverPanic converts a panicking handler into a 500 Internal error
// instead of taking down the whole server.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, pipelineerr.NewInternal("httpapi.recoverPanic", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
