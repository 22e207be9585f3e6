//go:build e2e

// Package e2e drives the dashboard in a real browser against an in-process
// API server and web UI backed by the in-memory store.
package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/crypto/bcrypt"

	apiserver "github.com/narvanalabs/build-feed/internal/api"
	"github.com/narvanalabs/build-feed/internal/auth"
	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/store/memory"
	"github.com/narvanalabs/build-feed/pkg/config"
	"github.com/narvanalabs/build-feed/web/api"
	"github.com/narvanalabs/build-feed/web/app"
)

// Demo account created in every environment.
const (
	Email    = "john@gmail.com"
	Password = "test123"
)

// Environment is a running API server and dashboard.
type Environment struct {
	WebURL string
	APIURL string
	Broker *events.Broker
	App    *app.App
}

// Start brings up an environment seeded with the demo account and a few
// builds. Everything is stopped when the test ends.
func Start(t *testing.T) *Environment {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(logger)
	st.Users().(*memory.UserStore).SetCost(bcrypt.MinCost)
	err := memory.Seed(context.Background(), st, []memory.SeedUser{{Email: Email, Password: Password, Name: "John"}}, 6)
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	cfg := config.LoadWithDefaults()
	broker := events.NewBroker(logger)
	apiSrv := httptest.NewServer(apiserver.NewServer(cfg, apiserver.Deps{
		Store:  st,
		Auth:   auth.NewService(&auth.Config{JWTSecret: []byte(cfg.JWTSecret), TokenExpiry: time.Hour}, st.Users(), logger),
		Broker: broker,
	}, logger).Router())

	dashboard := app.New(app.Config{Scope: feed.LatestScope(), Limit: 5}, api.NewClient(apiSrv.URL), nil, logger)
	webSrv := httptest.NewServer(dashboard.Handler())

	t.Cleanup(func() {
		dashboard.Teardown()
		webSrv.Close()
		apiSrv.Close()
		broker.Close()
	})

	return &Environment{WebURL: webSrv.URL, APIURL: apiSrv.URL, Broker: broker, App: dashboard}
}

// Browser is a headless Chrome bound to one test.
type Browser struct {
	*rod.Browser
	timeout time.Duration
}

// NewBrowser launches headless Chrome and closes it when the test ends.
func NewBrowser(t *testing.T) *Browser {
	t.Helper()

	u, err := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Launch()
	if err != nil {
		t.Fatalf("failed to launch Chrome: %v", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		t.Fatalf("failed to connect to Chrome: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Logf("browser close error: %v", err)
		}
	})
	return &Browser{Browser: b, timeout: 20 * time.Second}
}

// Open navigates a fresh page to url and waits for it to load.
func (b *Browser) Open(url string) (*rod.Page, error) {
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	page = page.Timeout(b.timeout)
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, err
	}
	return page, nil
}
