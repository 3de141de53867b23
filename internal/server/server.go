package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/server/handler"
	"github.com/alanyoungcy/castbet/internal/server/middleware"
	"github.com/alanyoungcy/castbet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	RequireSignatures bool
	SignatureSkew     time.Duration

	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Resolution *handler.ResolutionHandler
	Accounts   *handler.AccountHandler
}

// NewHandlers builds every handler over one ledger.
func NewHandlers(l handler.Ledger, journal domain.JournalStore, deps map[string]handler.Pinger, logger *slog.Logger) Handlers {
	return Handlers{
		Health:     handler.NewHealthHandler(l, deps, logger),
		Markets:    handler.NewMarketHandler(l, journal, logger),
		Resolution: handler.NewResolutionHandler(l),
		Accounts:   handler.NewAccountHandler(l),
	}
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil to disable rate limiting; wsHub may be nil to disable
// the live stream.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/solvency", handlers.Health.Solvency)
	mux.HandleFunc("GET /api/keeper/due", handlers.Health.KeeperDue)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Markets.Quote)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Markets.Positions)
	mux.HandleFunc("GET /api/markets/{id}/history", handlers.Markets.History)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.PlaceBet)

	mux.HandleFunc("POST /api/markets/{id}/propose", handlers.Resolution.Propose)
	mux.HandleFunc("POST /api/markets/{id}/challenge", handlers.Resolution.Challenge)
	mux.HandleFunc("POST /api/markets/{id}/finalize", handlers.Resolution.Finalize)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Resolution.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/void", handlers.Resolution.Void)

	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Accounts.Claim)
	mux.HandleFunc("POST /api/markets/{id}/distribute", handlers.Accounts.Distribute)
	mux.HandleFunc("POST /api/withdrawals/{kind}", handlers.Accounts.Withdraw)
	mux.HandleFunc("GET /api/accounts/{address}/balances", handlers.Accounts.Balances)
	mux.HandleFunc("GET /api/accounts/{address}/positions", handlers.Accounts.Positions)
	mux.HandleFunc("GET /api/roles", handlers.Accounts.Roles)
	mux.HandleFunc("POST /api/operators", handlers.Accounts.GrantOperator)
	mux.HandleFunc("DELETE /api/operators/{address}", handlers.Accounts.RevokeOperator)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Innermost first: identity, then rate limiting keyed by caller, auth,
	// request logging and CORS outermost.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Identity(middleware.IdentityConfig{
		RequireSignatures: cfg.RequireSignatures,
		Skew:              cfg.SignatureSkew,
	})(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
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
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
