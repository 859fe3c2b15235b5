// Package server exposes the risk engine over HTTP: registry reads, accrual
// triggers, account health and capacity queries, position mutations, and
// liquidation execution.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/server/handler"
	"github.com/mars-protocol/riskengine/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards all routes except the health check. Empty disables auth.
	APIKey string
	// RateLimitPerMinute bounds requests per client IP. Zero disables it.
	RateLimitPerMinute int
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health       *handler.HealthHandler
	Markets      *handler.MarketHandler
	Accounts     *handler.AccountHandler
	Lending      *handler.LendingHandler
	Liquidations *handler.LiquidationHandler
}

// Server is the engine's HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{denom}", handlers.Markets.GetMarket)
	mux.HandleFunc("PUT /api/markets/{denom}/params", handlers.Markets.UpdateParams)
	mux.HandleFunc("POST /api/markets/{denom}/accrue", handlers.Markets.Accrue)

	mux.HandleFunc("GET /api/accounts/{account}/position", handlers.Accounts.GetPosition)
	mux.HandleFunc("GET /api/accounts/{account}/health", handlers.Accounts.GetHealth)
	mux.HandleFunc("GET /api/accounts/{account}/max-borrow", handlers.Accounts.MaxBorrow)
	mux.HandleFunc("GET /api/accounts/{account}/max-withdraw", handlers.Accounts.MaxWithdraw)
	mux.HandleFunc("GET /api/accounts/{account}/max-swap", handlers.Accounts.MaxSwap)
	mux.HandleFunc("GET /api/accounts/{account}/liquidation-price", handlers.Accounts.LiquidationPrice)

	mux.HandleFunc("POST /api/positions/deposit", handlers.Lending.Deposit)
	mux.HandleFunc("POST /api/positions/borrow", handlers.Lending.Borrow)
	mux.HandleFunc("POST /api/positions/repay", handlers.Lending.Repay)
	mux.HandleFunc("POST /api/positions/withdraw", handlers.Lending.Withdraw)

	mux.HandleFunc("POST /api/liquidations", handlers.Liquidations.Liquidate)
	mux.HandleFunc("GET /api/liquidations/recent", handlers.Liquidations.ListRecent)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute)(h)
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

// Start listens for HTTP requests and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
