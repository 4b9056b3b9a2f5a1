package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/server/handler"
	"github.com/chartbets/chartbets/internal/server/middleware"
	"github.com/chartbets/chartbets/internal/server/ws"
)

// Rate-limit settings for the public API, per client IP.
const (
	rateLimitRequests = 120
	rateLimitWindow   = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminToken  string // if empty, admin routes are open (dev only)
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Admin   *handler.AdminHandler
}

// Server is the HTTP + WebSocket API for the betting markets.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Public routes are rate limited when a limiter is supplied; administrative
// routes additionally require the configured admin token.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	adminOnly := middleware.Auth(cfg.AdminToken)

	// Health check (no auth, no rate limit).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Public market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{song}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{song}/events", handlers.Markets.ListEvents)
	mux.HandleFunc("GET /api/markets/{song}/quote", handlers.Markets.Quote)
	mux.HandleFunc("POST /api/markets/{song}/swap", handlers.Markets.Swap)
	mux.HandleFunc("POST /api/markets/{song}/liquidity", handlers.Markets.AddLiquidity)
	mux.HandleFunc("DELETE /api/markets/{song}/liquidity", handlers.Markets.RemoveLiquidity)
	mux.HandleFunc("POST /api/markets/{song}/resolve", handlers.Markets.Resolve)
	mux.HandleFunc("POST /api/markets/{song}/redeem", handlers.Markets.Redeem)

	// Administrative endpoints.
	mux.Handle("POST /api/markets", adminOnly(http.HandlerFunc(handlers.Admin.CreateMarket)))
	mux.Handle("POST /api/markets/{song}/status", adminOnly(http.HandlerFunc(handlers.Admin.SetMarketStatus)))
	mux.Handle("POST /api/registry/pause", adminOnly(http.HandlerFunc(handlers.Admin.PauseRegistry)))
	mux.Handle("POST /api/registry/unpause", adminOnly(http.HandlerFunc(handlers.Admin.UnpauseRegistry)))
	mux.Handle("POST /api/accounts/credit", adminOnly(http.HandlerFunc(handlers.Admin.CreditAccount)))
	mux.Handle("GET /api/accounts/{addr}/balance", adminOnly(http.HandlerFunc(handlers.Admin.Balance)))
	mux.Handle("POST /api/archive/run", adminOnly(http.HandlerFunc(handlers.Admin.RunArchive)))

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil {
		h = middleware.RateLimit(limiter, rateLimitRequests, rateLimitWindow)(h)
	}
	h = middleware.Logging(logger)(h)
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
