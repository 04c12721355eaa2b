// Package server provides the HTTP API for kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
)

// Recaller answers recall queries.
type Recaller interface {
	Recall(ctx context.Context, query *models.RecallQuery) (*models.RecallResponse, error)
}

// SyncService is the index maintenance side used by the API.
type SyncService interface {
	FullSync(ctx context.Context) (*models.SyncResult, error)
	Status(ctx context.Context) (*models.Status, error)
	ListFiles(ctx context.Context, partialOnly bool) ([]*models.FileRecord, error)
	SwitchPlugin(ctx context.Context, id string) (*models.SyncResult, error)
}

// Notebook reads and writes notebook files.
type Notebook interface {
	Read(path string, from, to int) (*notebook.Excerpt, error)
	WriteFile(ctx context.Context, path, content string) (*notebook.WriteResult, error)
	AppendSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error)
	ReplaceSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error)
	DailyLog(ctx context.Context, text string) (*notebook.WriteResult, error)
}

// Plugins lists the registered embedding plugins.
type Plugins interface {
	Describe(ctx context.Context, health func(id string) (models.PluginHealth, bool)) []models.PluginInfo
}

// Server is the HTTP server for the kioku API.
type Server struct {
	recall   Recaller
	sync     SyncService
	notebook Notebook
	plugins  Plugins
	health   func(id string) (models.PluginHealth, bool)
	metrics  http.Handler
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthSource sets where plugin listings read the last known plugin health.
func WithHealthSource(fn func(id string) (models.PluginHealth, bool)) Option {
	return func(s *Server) { s.health = fn }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	recall Recaller,
	sync SyncService,
	nb Notebook,
	plugins Plugins,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		recall:   recall,
		sync:     sync,
		notebook: nb,
		plugins:  plugins,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/recall", s.handleRecall)
			r.Get("/status", s.handleStatus)
			r.Get("/files", s.handleFiles)
			r.Get("/notebook", s.handleNotebookRead)
			r.Put("/notebook", s.handleNotebookWrite)
			r.Post("/daily", s.handleDailyLog)
			r.Get("/plugins", s.handlePlugins)
		})
		// Full syncs re-embed the notebook and may run for minutes.
		r.Post("/sync", s.handleSync)
		r.Put("/plugins/active", s.handleSetActivePlugin)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
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
