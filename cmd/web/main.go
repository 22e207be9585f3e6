// Package main provides the entry point for the builds dashboard.
package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/internal/shutdown"
	"github.com/narvanalabs/build-feed/pkg/config"
	"github.com/narvanalabs/build-feed/pkg/logger"
	"github.com/narvanalabs/build-feed/web/api"
	"github.com/narvanalabs/build-feed/web/app"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	slog.SetDefault(log.Logger)

	scope := feed.Scope{
		Type:   cfg.Feed.Scope,
		Branch: cfg.Feed.Branch,
		PR:     cfg.Feed.PR,
		Commit: cfg.Feed.Commit,
	}
	if err := scope.Validate(); err != nil {
		log.Error("invalid default feed scope", "error", err)
		os.Exit(1)
	}

	dashboard := app.New(app.Config{
		Scope:         scope,
		Limit:         cfg.Feed.Limit,
		SecureCookies: cfg.SecureCookies,
	}, api.NewClient(cfg.APIURL), metrics.New(nil), log.WithComponent("web").Logger)

	// No write timeout: feed streams stay open for as long as the page does.
	srv := &http.Server{
		Addr:              cfg.WebAddr(),
		Handler:           dashboard.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)
	// Components stop last registered first: feed streams end before the
	// server waits for in-flight requests.
	coord.Register(shutdown.NewHTTPServerComponent("http", srv))
	coord.Register(shutdown.NewTeardownComponent("feeds", dashboard))

	go func() {
		log.Info("starting web server", "addr", srv.Addr, "api", cfg.APIURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("web server error", "error", err)
			coord.Shutdown()
		}
	}()

	coord.WaitForSignal()
	coord.Wait()
	log.Info("web server stopped")
	os.Exit(coord.ExitCode())
}
