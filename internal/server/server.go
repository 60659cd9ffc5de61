// Package server exposes the control API: engine lifecycle and live state
// over HTTP, plus a WebSocket stream of engine events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/server/handler"
	"github.com/alanyoungcy/copytraderbot/internal/server/middleware"
	"github.com/alanyoungcy/copytraderbot/internal/server/ws"
)

// Config holds the HTTP server parameters.
type Config struct {
	Port        int
	APIKey      string // empty disables authentication
	CORSOrigins []string

	// Per-client request budget; zero disables API rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates everything the server registers routes for.
type Handlers struct {
	Health  *handler.HealthHandler
	Engines *handler.EngineHandler
	Records *handler.RecordsHandler
}

// Server is the control API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered and the middleware chain
// applied. wsHub and limiter may be nil.
func New(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health is open; everything else sits behind auth.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/engines", handlers.Engines.ListEngines)
	mux.HandleFunc("GET /api/engines/{userID}", handlers.Engines.GetEngine)
	mux.HandleFunc("POST /api/engines/{userID}/start", handlers.Engines.StartEngine)
	mux.HandleFunc("POST /api/engines/{userID}/stop", handlers.Engines.StopEngine)
	mux.HandleFunc("PATCH /api/engines/{userID}/config", handlers.Engines.UpdateConfig)
	mux.HandleFunc("POST /api/engines/{userID}/sell", handlers.Engines.EmergencySell)
	mux.HandleFunc("POST /api/engines/{userID}/sync", handlers.Engines.SyncPositions)
	mux.HandleFunc("GET /api/engines/{userID}/positions", handlers.Engines.ListPositions)
	mux.HandleFunc("GET /api/engines/{userID}/stats", handlers.Engines.GetStats)

	mux.HandleFunc("GET /api/engines/{userID}/trades", handlers.Records.ListTrades)
	mux.HandleFunc("GET /api/engines/{userID}/cashouts", handlers.Records.ListCashouts)
	mux.HandleFunc("GET /api/engines/{userID}/audit", handlers.Records.ListAudit)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start listens and serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("control api listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("control api shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
