// Package server provides the HTTP API for Osusume.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/recommend"
	"github.com/hyperjump/osusume/internal/refresh"
	"github.com/hyperjump/osusume/internal/storage"
	"github.com/hyperjump/osusume/internal/vector"
)

// Server is the HTTP server for the Osusume API.
type Server struct {
	engine    *recommend.Engine
	pipeline  *refresh.Pipeline
	storage   storage.Storage
	snapshots *vector.Holder
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *recommend.Engine,
	pipeline *refresh.Pipeline,
	store storage.Storage,
	snapshots *vector.Holder,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:    engine,
		pipeline:  pipeline,
		storage:   store,
		snapshots: snapshots,
		config:    cfg,
		logger:    logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/api/v1/recommendations/{id}", s.handleRecommendations)
	r.Get("/api/v1/alerts", s.handleListAlerts)
	r.Get("/api/v1/alerts/{id}", s.handleGetAlert)
	r.Post("/api/v1/refresh", s.handleRefresh)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
