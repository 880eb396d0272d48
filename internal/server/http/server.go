// Package httpserver provides the HTTP REST API of the literature resolver.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/resolver"
)

// Resolver is the engine surface the HTTP server exposes.
// *resolver.Service implements it.
type Resolver interface {
	Search(ctx context.Context, req resolver.SearchRequest) (*resolver.SearchResult, error)
	Recent(ctx context.Context, req resolver.RecentRequest) ([]*domain.Paper, error)
	ExtractCandidates(ctx context.Context, text string, maxResults int) (*resolver.ExtractResult, error)
	Discover(ctx context.Context, topic string, maxResults int) (*resolver.ExtractResult, error)
	Providers(ctx context.Context) []papersources.ProviderStatus
}

// Pinger reports datastore reachability. *database.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	resolver   Resolver
	db         Pinger
	validate   *validator.Validate
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server. db may be nil when the engine runs
// without persistence; metrics may be nil.
func NewServer(cfg Config, svc Resolver, db Pinger, logger zerolog.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		resolver: svc,
		db:       db,
		validate: newValidator(),
		logger:   logger.With().Str("component", "http-server").Logger(),
		metrics:  metrics,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/papers/search", s.searchPapers)
		r.Get("/papers/recent", s.recentPapers)
		r.Post("/candidates/extract", s.extractCandidates)
		r.Post("/candidates/discover", s.discoverCandidates)
		r.Get("/providers", s.listProviders)
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the datastore is reachable. Without a
// datastore the engine runs memory-only and is always ready.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": "unhealthy",
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}
