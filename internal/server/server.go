// Package server exposes the copier's HTTP + WebSocket control API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
	"github.com/alanyoungcy/polymirror/internal/server/handler"
	"github.com/alanyoungcy/polymirror/internal/server/middleware"
	"github.com/alanyoungcy/polymirror/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit / RateWindow apply per-client throttling when a limiter is
	// provided. Zero values fall back to 60 requests per minute.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Copier    *handler.CopierHandler
	Positions *handler.PositionHandler
	Archives  *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server for the copier.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. limiter may be nil to disable throttling.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Status snapshot.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Copier control.
	mux.HandleFunc("GET /api/copier/policy", handlers.Copier.GetPolicy)
	mux.HandleFunc("PUT /api/copier/policy", handlers.Copier.UpdatePolicy)
	mux.HandleFunc("POST /api/copier/trigger", handlers.Copier.Trigger)
	mux.HandleFunc("POST /api/copier/reset", handlers.Copier.Reset)
	mux.HandleFunc("GET /api/copier/trades", handlers.Copier.ListTrades)
	mux.HandleFunc("GET /api/copier/runs", handlers.Copier.ListRuns)
	mux.HandleFunc("POST /api/copier/redeem", handlers.Copier.Redeem)

	// Archived copy-log snapshots.
	mux.HandleFunc("GET /api/copier/archives", handlers.Archives.ListArchives)
	mux.HandleFunc("GET /api/copier/archives/{path...}", handlers.Archives.GetArchive)

	// Wallet holdings.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is available.
	if limiter != nil {
		limit := cfg.RateLimit
		if limit <= 0 {
			limit = 60
		}
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, limit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
