package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
	"github.com/alanyoungcy/polyrelate/internal/server/handler"
	"github.com/alanyoungcy/polyrelate/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards mutating routes. Empty disables the check.
	APIKey string
	// RateLimitPerMinute caps requests per client IP. 0 disables the limit.
	RateLimitPerMinute int
	// WriteTimeout bounds a response; discovery and analysis calls run long.
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Relations *handler.RelationHandler
	Search    *handler.SearchHandler
	Snapshots *handler.SnapshotHandler
}

// Server is the HTTP API server for relation queries.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and reg may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, reg *metrics.Registry, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, limiter, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cmp.Or(cfg.WriteTimeout, 120*time.Second),
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes registers every endpoint and wraps the mux in the middleware chain.
func Routes(cfg Config, handlers Handlers, limiter domain.RateLimiter, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", reg.Handler())

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/related", handlers.Relations.GetRelated)
	mux.HandleFunc("POST /api/markets/{id}/relations/discover", handlers.Relations.Discover)
	mux.HandleFunc("DELETE /api/markets/{id}/relations", handlers.Relations.DeleteForMarket)

	// Relations.
	mux.HandleFunc("GET /api/relations/count", handlers.Relations.Count)
	mux.HandleFunc("POST /api/relations", handlers.Relations.Create)
	mux.HandleFunc("POST /api/relations/batch", handlers.Relations.CreateBatch)
	mux.HandleFunc("POST /api/relations/estimate", handlers.Relations.Estimate)
	mux.HandleFunc("POST /api/relations/batch/query", handlers.Relations.BatchQuery)
	mux.HandleFunc("GET /api/relations/graph", handlers.Relations.Graph)
	mux.HandleFunc("GET /api/relations/statistics/{id}", handlers.Relations.Statistics)
	mux.HandleFunc("GET /api/relations/snapshots/latest", handlers.Snapshots.Latest)
	mux.HandleFunc("GET /api/relations/{id1}/{id2}", handlers.Relations.GetBetween)
	mux.HandleFunc("DELETE /api/relations/{id1}/{id2}", handlers.Relations.Delete)
	mux.HandleFunc("GET /api/relations/{id1}/{id2}/analysis", handlers.Relations.Analyze)

	// Search.
	mux.HandleFunc("POST /api/search", handlers.Search.Search)
	mux.HandleFunc("GET /api/search/similar-to-market/{id}", handlers.Search.SimilarToMarket)
	mux.HandleFunc("GET /api/search/proximity-to-market/{id}", handlers.Search.ProximityToMarket)

	var h http.Handler = mux
	h = middleware.WriteAuth(cfg.APIKey)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute, logger)(h)
	h = middleware.Logging(logger, reg)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
