// Package api provides the HTTP API server for the builds dashboard.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/build-feed/internal/api/handlers"
	"github.com/narvanalabs/build-feed/internal/api/health"
	"github.com/narvanalabs/build-feed/internal/api/middleware"
	"github.com/narvanalabs/build-feed/internal/auth"
	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/internal/store"
	"github.com/narvanalabs/build-feed/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Deps are the collaborators the server routes to.
type Deps struct {
	Store   store.Store
	Auth    *auth.Service
	Broker  *events.Broker
	Emitter *events.Emitter
	Metrics *metrics.Recorder
	Health  *health.Checker
}

// Server represents the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	config     *config.Config
	logger     *slog.Logger
}

// NewServer creates a new API server with the given dependencies. A nil
// Emitter publishes straight to Broker; a nil Health checks nothing.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NewEmitter(deps.Broker, nil)
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(Version)
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.APIAddr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(s.deps.Metrics.Middleware)

	r.Get("/health", s.deps.Health.Handler())
	r.Handle("/metrics", s.deps.Metrics.Handler())

	docsHandler := handlers.NewDocsHandler(s.logger)
	r.Get("/docs", docsHandler.ServeSwaggerUI)
	r.Get("/docs/openapi.yaml", docsHandler.ServeOpenAPISpec)

	authHandler := handlers.NewAuthHandler(s.deps.Auth, s.logger)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
	})

	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.deps.Auth, s.logger)
		r.Use(authMiddleware.Authenticate)

		// Long-lived; kept outside the request timeout.
		eventsHandler := handlers.NewEventsHandler(s.deps.Broker, s.deps.Metrics, s.logger)
		r.Get("/events", eventsHandler.Stream)

		buildHandler := handlers.NewBuildHandler(s.deps.Store, s.deps.Emitter, s.logger)
		userHandler := handlers.NewUserHandler(s.deps.Store, s.logger)
		teamHandler := handlers.NewTeamHandler(s.deps.Store, s.logger)
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(30 * time.Second))
			r.Get("/user/profile", userHandler.GetProfile)
			r.Post("/teams", teamHandler.Create)
			r.Get("/teams/{teamID}", teamHandler.Get)
			r.Route("/builds", func(r chi.Router) {
				r.Get("/", buildHandler.List)
				r.Post("/", buildHandler.Create)
				r.Route("/{buildID}", func(r chi.Router) {
					r.Get("/", buildHandler.Get)
					r.Patch("/jobs/{jobID}", buildHandler.UpdateJob)
				})
			})
		})
	})

	s.router = r
}

// Start serves until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// HTTPServer exposes the underlying server for the shutdown coordinator.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
