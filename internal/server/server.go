// Package server exposes the HTTP API: codebase lifecycle, the streaming
// chat endpoint, health probes, and metrics exposition.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/askrepo/askrepo/internal/agent"
	"github.com/askrepo/askrepo/internal/config"
	"github.com/askrepo/askrepo/internal/kvstore"
	"github.com/askrepo/askrepo/internal/metrics"
	"github.com/askrepo/askrepo/internal/session"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/internal/vector"
	"github.com/askrepo/askrepo/internal/workflow"
)

// Default limiter settings, used when config leaves them zero.
const (
	DefaultPerIPHourly     = 100
	DefaultAppHourlyFactor = 10
	DefaultConcurrentQuery = 10
	DefaultShutdownTimeout = 30 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	rateLimitWindow        = time.Hour
)

// Deps are the services the handlers run against.
type Deps struct {
	Codebases *store.CodebaseStore
	Index     *vector.Index
	Sessions  *session.Store
	KV        *kvstore.Store
	Engine    *workflow.Engine
	Pipeline  *agent.Pipeline
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg  *config.Config
	deps Deps

	limiter  *rateLimiter
	querySem *semaphore.Weighted

	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server. The limiter and semaphore come up sized from
// config, falling back to the package defaults.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	perIP := cfg.RateLimit.PerIPHourly
	if perIP <= 0 {
		perIP = DefaultPerIPHourly
	}
	appHourly := cfg.RateLimit.AppHourly
	if appHourly <= 0 {
		appHourly = perIP * DefaultAppHourlyFactor
	}
	concurrent := cfg.RateLimit.MaxConcurrentQueries
	if concurrent <= 0 {
		concurrent = DefaultConcurrentQuery
	}

	return &Server{
		cfg:  cfg,
		deps: deps,
		limiter: &rateLimiter{
			kv:      deps.KV,
			enabled: cfg.RateLimit.Enabled,
			perIP:   perIP,
			appWide: appHourly,
			window:  rateLimitWindow,
		},
		querySem: semaphore.NewWeighted(int64(concurrent)),
		logger:   logger,
	}
}

// Handler assembles the route table wrapped in the middleware chain:
// recovery -> cors -> request id -> logging -> mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/codebase/upload", s.handleUpload)
	mux.HandleFunc("GET /api/v1/codebase", s.handleListCodebases)
	mux.HandleFunc("GET /api/v1/codebase/{id}", s.handleGetCodebase)
	mux.HandleFunc("GET /api/v1/codebase/{id}/status", s.handleCodebaseStatus)
	mux.HandleFunc("DELETE /api/v1/codebase/{id}", s.handleDeleteCodebase)
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	if s.cfg.Metrics.Enabled && s.deps.Metrics != nil {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.deps.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = s.logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(s.cfg.Server.AllowedOrigins, handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// Run serves until ctx is cancelled, then drains within the shutdown
// timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: parseDurationOr(s.cfg.Server.ReadTimeout, DefaultReadTimeout),
		// WriteTimeout stays zero: chat responses stream.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", slog.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server_draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		parseDurationOr(s.cfg.Server.ShutdownTimeout, DefaultShutdownTimeout))
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
