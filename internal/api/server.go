// Package api exposes the load scheduler over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/loadsched/internal/auth"
	"github.com/mattjoyce/loadsched/internal/engine"
	"github.com/mattjoyce/loadsched/internal/events"
	"github.com/mattjoyce/loadsched/internal/journal"
	"github.com/mattjoyce/loadsched/internal/loader"
)

// Scheduler is the part of the engine the API drives.
type Scheduler interface {
	Load(ctx context.Context, spec engine.LoadSpec) (loader.RequestInfo, error)
	Result(ctx context.Context, id string) (engine.Result, error)
	Results(ctx context.Context, owner string) ([]engine.Result, error)
	Cancel(ctx context.Context, owner string) (queued, inFlight int, err error)
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Serve(ctx context.Context, min loader.Priority) error
	NonCacheStarted(ctx context.Context, url string) error
	NonCacheFinished(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (loader.Snapshot, error)
}

// LoadJournal answers history queries for loads the engine no longer holds.
type LoadJournal interface {
	Get(ctx context.Context, id string) (*journal.Record, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]journal.Record, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	scheduler Scheduler
	journal   LoadJournal
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. journal may be nil when the journal
// is disabled.
func New(config Config, scheduler Scheduler, journal LoadJournal, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		scheduler: scheduler,
		journal:   journal,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams indefinitely
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
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

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeLoadsRW)).Post("/loads", s.handleCreateLoad)
		r.With(s.requireScopes(auth.ScopeLoadsRO)).Get("/loads/{id}", s.handleGetLoad)
		r.With(s.requireScopes(auth.ScopeLoadsRO)).Get("/owners/{owner}/loads", s.handleOwnerLoads)
		r.With(s.requireScopes(auth.ScopeLoadsRW)).Delete("/owners/{owner}", s.handleCancelOwner)
		r.With(s.requireScopes(auth.ScopeLoadsRO)).Get("/hosts", s.handleHosts)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeControlRW))
			r.Post("/suspend", s.handleSuspend)
			r.Post("/resume", s.handleResume)
			r.Post("/serve", s.handleServe)
			r.Post("/noncache/start", s.handleNonCache(true))
			r.Post("/noncache/finish", s.handleNonCache(false))
		})

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// authMiddleware authenticates the bearer token and stores the principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		p, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// requireScopes rejects principals holding none of the scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(p, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
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
