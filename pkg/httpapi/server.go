package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragpipe/ragcore/pkg/logger"
)

// Server wraps a net/http.Server bound to one of the two surfaces
// described in §6 (ingestion or retrieval), built from a chi router that
// carries the shared middleware chain: network-policy allow-list, request
// logging, panic recovery, metrics.
type Server struct {
	httpServer *http.Server
	addr       string
}

// ServerOption configures NewServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	metricsRegisterer prometheus.Registerer
	mountMetrics      bool
}

// WithMetricsRegisterer overrides the Prometheus registerer; tests should
// pass an isolated prometheus.NewRegistry() to avoid colliding with other
// Server instances in the same process.
func WithMetricsRegisterer(reg prometheus.Registerer) ServerOption {
	return func(c *serverConfig) { c.metricsRegisterer = reg }
}

// WithoutMetricsEndpoint disables mounting GET /metrics on this surface
// (both surfaces otherwise expose it for Prometheus scraping).
func WithoutMetricsEndpoint() ServerOption {
	return func(c *serverConfig) { c.mountMetrics = false }
}

// routeMounter is satisfied by IngestionAPI and RetrievalAPI.
type routeMounter interface {
	Routes(r chi.Router)
}

// NewServer builds a Server bound to addr, mounting api's routes behind
// the shared middleware chain.
func NewServer(addr string, api routeMounter, opts ...ServerOption) *Server {
	cfg := serverConfig{metricsRegisterer: prometheus.DefaultRegisterer, mountMetrics: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	metrics := NewMetrics(cfg.metricsRegisterer)

	r := chi.NewRouter()
	r.Use(recoverPanic)
	r.Use(networkPolicy)
	r.Use(requestLogging)
	r.Use(metrics.middleware)

	if cfg.mountMetrics {
		r.Handle("/metrics", promhttp.HandlerFor(prometheusGatherer(cfg.metricsRegisterer), promhttp.HandlerOpts{}))
	}

	api.Routes(r)

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// prometheusGatherer returns reg as a Gatherer when possible, falling back
// to the global default registry (the common case: DefaultRegisterer is
// also the DefaultGatherer).
func prometheusGatherer(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// Addr returns the server's configured bind address.
func (s *Server) Addr() string { return s.addr }

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully. Blocking call, matching the teacher's server lifecycle.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		close(errCh)
	}()

	logger.FromContext(ctx).Info("http server starting", "address", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server, bounding the wait at 5 seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logger.FromContext(ctx).Info("http server shutting down", "address", s.addr)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown %s: %w", s.addr, err)
	}
	return nil
}
