// Package api provides the HTTP REST surface of the retrieval service.
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery, rate limit)
//   - ratelimit.go: per-IP token bucket
//   - health.go: health check endpoints (/health, /ready)
//   - ingest.go: document ingestion endpoints
//   - search.go: search, rerank and augment endpoints
//   - admin.go: re-embedding migration and stats endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestone-ai/lodestone/internal/engine"
	"github.com/lodestone-ai/lodestone/internal/worker"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to shut out slow-write
	// clients holding connections open.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Engine *engine.Engine // Required
	Worker *worker.Pool   // Optional: nil makes ingestion embed synchronously
	Pool   *pgxpool.Pool  // Optional: nil disables the DB ping in /ready
	Logger *slog.Logger

	// TrustProxy enables X-Real-IP/X-Forwarded-For for rate limit keys.
	TrustProxy bool

	// RateBurst is the per-IP token bucket size (0 = default 60).
	RateBurst int
}

// Server is the HTTP server for the retrieval REST API.
type Server struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	limiter *rateLimiter

	trustProxy bool
}

// NewServer creates a server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}

	mux := http.NewServeMux()

	NewHealthHandler(cfg.Pool, logger).RegisterRoutes(mux)
	newIngestHandler(cfg.Engine, cfg.Worker, logger).registerRoutes(mux)
	newSearchHandler(cfg.Engine, logger).registerRoutes(mux)
	newAdminHandler(cfg.Engine, cfg.Worker, logger).registerRoutes(mux)

	return &Server{
		mux:        mux,
		logger:     logger,
		limiter:    newRateLimiter(1.0, burst),
		trustProxy: cfg.TrustProxy,
	}
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → rate limit → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		rateLimitMiddleware(s.limiter, s.trustProxy, s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
