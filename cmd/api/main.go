// Package main provides the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/narvanalabs/build-feed/internal/api"
	"github.com/narvanalabs/build-feed/internal/api/health"
	"github.com/narvanalabs/build-feed/internal/auth"
	"github.com/narvanalabs/build-feed/internal/events"
	natsrelay "github.com/narvanalabs/build-feed/internal/events/nats"
	redisrelay "github.com/narvanalabs/build-feed/internal/events/redis"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/internal/shutdown"
	"github.com/narvanalabs/build-feed/internal/store"
	"github.com/narvanalabs/build-feed/internal/store/memory"
	pgstore "github.com/narvanalabs/build-feed/internal/store/postgres"
	"github.com/narvanalabs/build-feed/pkg/config"
	"github.com/narvanalabs/build-feed/pkg/logger"
)

// relay is what the API needs from an event relay.
type relay interface {
	events.Relay
	health.Pinger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	slog.SetDefault(log.Logger)

	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)

	rec := metrics.New(nil)
	checker := health.NewChecker(api.Version)

	st, err := openStore(coord.Context(), cfg, log.WithComponent("store").Logger)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	coord.Register(shutdown.NewCloserComponent("store", st))
	if p, ok := st.(health.Pinger); ok {
		checker.AddCritical("database", p)
	}

	broker := events.NewBroker(log.WithComponent("broker").Logger,
		events.WithPublishHook(rec.EventPublished),
		events.WithDropHook(rec.EventDropped),
	)
	coord.Register(shutdown.NewFuncComponent("broker", func(context.Context) error {
		broker.Close()
		return nil
	}))
	rec.RegisterGaugeFunc("event_subscribers", "Active broker subscriptions", func() float64 {
		return float64(broker.SubscriberCount(""))
	})

	rl, err := openRelay(coord.Context(), cfg, log.WithComponent("relay").Logger)
	if err != nil {
		log.Error("failed to connect event relay", "relay", cfg.Events.Relay, "error", err)
		os.Exit(1)
	}
	var emitterRelay events.Relay
	if rl != nil {
		emitterRelay = rl
		coord.Register(shutdown.NewCloserComponent("relay", rl))
		checker.AddOptional("relay", rl)
		go func() {
			if err := rl.Run(coord.Context(), broker); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event relay stopped", "error", err)
			}
		}()
	}

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, st.Users(), log.WithComponent("auth").Logger)

	server := api.NewServer(cfg, api.Deps{
		Store:   st,
		Auth:    authService,
		Broker:  broker,
		Emitter: events.NewEmitter(broker, emitterRelay),
		Metrics: rec,
		Health:  checker,
	}, log.Logger)
	coord.Register(shutdown.NewHTTPServerComponent("http", server.HTTPServer()))

	go func() {
		if err := server.Start(coord.Context()); err != nil {
			log.Error("server error", "error", err)
			coord.Shutdown()
		}
	}()

	coord.WaitForSignal()
	coord.Wait()
	log.Info("server stopped")
	os.Exit(coord.ExitCode())
}

// openStore connects to PostgreSQL when a DSN is configured and falls back
// to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.DatabaseDSN != "" {
		pg, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log)
		if err != nil {
			return nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := pg.Migrate(migrateCtx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		return pg, nil
	}

	log.Warn("DATABASE_URL not set, using in-memory store")
	mem := memory.New(log)
	if cfg.Seed.Enabled {
		users := make([]memory.SeedUser, len(cfg.Seed.Users))
		for i, u := range cfg.Seed.Users {
			users[i] = memory.SeedUser{Email: u.Email, Password: u.Password, Name: u.Name}
		}
		if err := memory.Seed(ctx, mem, users, cfg.Seed.Builds); err != nil {
			return nil, err
		}
		log.Info("seeded demo data", "users", len(users), "builds", cfg.Seed.Builds)
	}
	return mem, nil
}

func openRelay(ctx context.Context, cfg *config.Config, log *slog.Logger) (relay, error) {
	switch cfg.Events.Relay {
	case "redis":
		return redisrelay.New(ctx, cfg.Events.RedisURL, cfg.Events.Channel, log)
	case "nats":
		return natsrelay.New(cfg.Events.NATSURL, cfg.Events.Channel, log)
	default:
		return nil, nil
	}
}
