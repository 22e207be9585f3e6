// Package app serves the builds dashboard: sign-in, sign-out and a live feed
// page whose list is pushed over server-sent events.
package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/build-feed/internal/api/health"
	"github.com/narvanalabs/build-feed/internal/api/middleware"
	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/web/api"
)

// Version is the web server version reported by /health.
var Version = "dev"

// Config configures the dashboard.
type Config struct {
	// Scope is the feed shown when the page carries no scope of its own.
	Scope feed.Scope
	// Limit is the page size of every feed.
	Limit int
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// App is the dashboard HTTP application.
type App struct {
	cfg      Config
	client   *api.Client
	sessions *Sessions
	metrics  *metrics.Recorder
	health   *health.Checker
	logger   *slog.Logger
	router   chi.Router
}

// New creates the dashboard over client. rec may be nil.
func New(cfg Config, client *api.Client, rec *metrics.Recorder, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = feed.DefaultLimit
	}
	if cfg.Scope.Validate() != nil {
		cfg.Scope = feed.LatestScope()
	}
	cfg.Scope = cfg.Scope.Normalize()

	a := &App{
		cfg:      cfg,
		client:   client,
		sessions: NewSessions(),
		metrics:  rec,
		health:   health.NewChecker(Version),
		logger:   logger,
	}
	a.health.AddCritical("api", client)
	rec.RegisterGaugeFunc("web_feed_sessions", "Open live feed streams", func() float64 {
		return float64(a.sessions.Len())
	})
	a.setupRouter()
	return a
}

func (a *App) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(a.logger))
	r.Use(middleware.Recovery(a.logger))
	r.Use(a.metrics.Middleware)

	r.Get("/health", a.health.Handler())
	r.Handle("/metrics", a.metrics.Handler())

	r.Get("/login", a.handleLoginPage)
	r.Post("/login", a.handleLoginSubmit)
	r.Get("/logout", a.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Get("/", a.handleFeedPage)
		r.Get("/feed/stream", a.handleFeedStream)
		r.With(chimiddleware.Timeout(10*time.Second)).Post("/feed/{session}/more", a.handleLoadMore)
		r.With(chimiddleware.Timeout(10*time.Second)).Post("/feed/{session}/scope", a.handleScope)
	})

	a.router = r
}

// Handler returns the application's router.
func (a *App) Handler() http.Handler {
	return a.router
}

// Sessions exposes the open feed streams.
func (a *App) Sessions() *Sessions {
	return a.sessions
}

// Teardown closes every open feed stream.
func (a *App) Teardown() {
	n := a.sessions.TeardownAll()
	if n > 0 {
		a.logger.Info("feed sessions closed", "count", n)
	}
}
