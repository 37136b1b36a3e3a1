// Package server provides the HTTP API for reunite.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/catalog"
	"github.com/hyperjump/reunite/internal/config"
	"github.com/hyperjump/reunite/internal/models"
)

// Matcher runs the matching pipeline for one item.
type Matcher interface {
	Match(ctx context.Context, itemID string) (*models.FinalVerdict, error)
}

// Catalog is the item store surface the API needs.
type Catalog interface {
	Add(ctx context.Context, collection models.Collection, id string, fields map[string]any) (*models.Record, error)
	Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error)
	Search(ctx context.Context, query string, collection models.Collection, limit int) ([]catalog.Hit, error)
}

// Server is the HTTP server for the reunite API.
type Server struct {
	matcher Matcher
	catalog Catalog
	status  *StatusReporter
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. status may be nil, in which
// case /api/v1/status answers 501.
func NewServer(matcher Matcher, cat Catalog, status *StatusReporter, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		matcher: matcher,
		catalog: cat,
		status:  status,
		config:  cfg,
		logger:  logger,
	}
}

// Handler returns the router with all middleware and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeoutSeconds > 0 {
		r.Use(middleware.Timeout(time.Duration(s.config.RequestTimeoutSeconds) * time.Second))
	}
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/match", s.handleMatch)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/match", s.handleMatch)
		r.Get("/items/search", s.handleSearchItems)
		r.Post("/items/{collection}", s.handleCreateItem)
		r.Get("/items/{collection}/{id}", s.handleGetItem)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
