// Package server provides the HTTP API for Shiori.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

// Answerer answers questions and runs retrieval-only searches.
type Answerer interface {
	Answer(ctx context.Context, question string) (*models.Answer, error)
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// IndexService rebuilds, updates and reports on the index.
type IndexService interface {
	Build(ctx context.Context) (*indexer.BuildReport, error)
	Update(ctx context.Context, paths []string) (*indexer.BuildReport, error)
	Status() indexer.Status
}

// WatchService lists the directories being watched for changes.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the Shiori API.
type Server struct {
	answers Answerer
	index   IndexService
	watch   WatchService
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	// base outlives requests so a build is not cut short by the request timeout
	base context.Context
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(answers Answerer, index IndexService, cfg *config.ServerConfig, logger *zap.Logger, watch WatchService) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		answers: answers,
		index:   index,
		watch:   watch,
		config:  cfg,
		logger:  logger,
		base:    context.Background(),
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Timeout(60*time.Second)).Post("/answer", s.handleAnswer)
		r.With(middleware.Timeout(60*time.Second)).Get("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
		r.Post("/index/build", s.handleBuild)
		r.Post("/index/update", s.handleUpdate)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops. Index rebuilds
// triggered over HTTP run under ctx.
func (s *Server) Start(ctx context.Context) error {
	s.base = ctx
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
