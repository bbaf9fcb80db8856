// Package server exposes the HTTP control surface for starting, stopping and
// inspecting the trading engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hexvolt/hftbot/internal/engine"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
}

// Controller is the engine surface the HTTP handlers drive.
type Controller interface {
	Start(ctx context.Context, strategies []string) (engine.StartResult, error)
	Stop(ctx context.Context) (engine.StopResult, error)
	Metrics() engine.Metrics
	Running() bool
	ResetDaily()
}

// Server is the headless HTTP API for the engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered. history may be nil when
// no trade journal is configured.
func New(cfg Config, ctrl Controller, history TradeHistory, logger *slog.Logger) *Server {
	h := &controlHandler{ctrl: ctrl, history: history, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("POST /hft/start", h.start)
	mux.HandleFunc("POST /hft/stop", h.stop)
	mux.HandleFunc("GET /hft/status", h.status)
	mux.HandleFunc("GET /hft/metrics", h.metrics)
	mux.HandleFunc("POST /hft/reset-daily", h.resetDaily)
	mux.HandleFunc("GET /hft/trades", h.trades)

	var handler http.Handler = mux
	handler = auth(cfg.APIKey)(handler)
	handler = logging(logger)(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
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
