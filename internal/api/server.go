// Package api serves the local status HTTP endpoint. It is read-only
// observability for the operator; nothing on the radio path depends on it.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jvasek/meshbot/internal/command"
	"github.com/jvasek/meshbot/internal/log"
	"github.com/jvasek/meshbot/internal/mailbox"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/plugin"
	"github.com/jvasek/meshbot/internal/telemetry"
)

// Config holds the API listener settings.
type Config struct {
	Listen string
	// Key is the bearer token required on every /api route.
	Key string
}

// Server exposes bot state over HTTP.
type Server struct {
	config    Config
	registry  *command.Registry
	box       *mailbox.Store
	tracker   *telemetry.Tracker
	radio     mesh.Interface
	plugins   []plugin.LoadReport
	channel   int
	startedAt time.Time
	logger    *slog.Logger
	server    *http.Server
}

// New creates a Server over the process singletons. plugins is the load
// report from startup; it never changes at runtime.
func New(config Config, reg *command.Registry, box *mailbox.Store, tracker *telemetry.Tracker, radio mesh.Interface, plugins []plugin.LoadReport, channel int) *Server {
	return &Server{
		config:    config,
		registry:  reg,
		box:       box,
		tracker:   tracker,
		radio:     radio,
		plugins:   plugins,
		channel:   channel,
		startedAt: time.Now(),
		logger:    log.WithComponent("api"),
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/status", s.handleStatus)
		r.Get("/commands", s.handleCommands)
		r.Get("/nodes", s.handleNodes)
		r.Get("/mailbox/stats", s.handleMailboxStats)
		r.Get("/plugins", s.handlePlugins)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
