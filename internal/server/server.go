// Package server exposes the monitoring core's one operational surface: a
// thin HTTP collaborator with a /health endpoint and a process-status
// endpoint. It is not part of the domain; nothing under internal/ depends on
// it, only cmd/server wires it alongside the scheduler.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/scheduler"
	"github.com/marketpulse/monitor/internal/store"
)

// Config holds everything Server needs to answer /health and /status.
type Config struct {
	Port      int
	Log       zerolog.Logger
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	DevMode   bool
}

// Server is the health/status HTTP surface. It owns no domain state; every
// handler reads live from Store/Scheduler at request time.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	store       *store.Store
	sched       *scheduler.Scheduler
	startupTime time.Time
}

// New builds a Server with its routes and middleware wired, not yet
// listening.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		store:       cfg.Store,
		sched:       cfg.Scheduler,
		startupTime: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/system", func(r chi.Router) {
		r.Get("/status", s.handleSystemStatus)
	})
}

// Start begins serving. Blocks until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting health server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down health server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
