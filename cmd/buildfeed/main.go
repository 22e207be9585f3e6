// Package main provides buildfeed, a terminal client for the builds API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/narvanalabs/build-feed/pkg/config"
	"github.com/narvanalabs/build-feed/pkg/logger"
	"github.com/narvanalabs/build-feed/web/api"
)

// Global is shared by every command.
type Global struct {
	Ctx    context.Context
	Config *config.Config
	Logger *slog.Logger
}

// CLI is the root command line.
type CLI struct {
	APIURL    string `name:"api-url" help:"Builds API base URL (defaults to API_URL)"`
	AuthToken string `name:"token" env:"BUILDFEED_TOKEN" help:"Bearer token from the login command"`
	Verbose   bool   `short:"v" help:"Enable debug logging"`

	Login LoginCmd `cmd:"" help:"Sign in and print a bearer token"`
	Token TokenCmd `cmd:"" help:"Mint a token locally from JWT_SECRET"`
	List  ListCmd  `cmd:"" help:"Print one page of builds"`
	Watch WatchCmd `cmd:"" help:"Follow the live feed"`
}

func (c *CLI) client(g *Global) *api.Client {
	url := g.Config.APIURL
	if c.APIURL != "" {
		url = c.APIURL
	}
	return api.NewClient(url).WithToken(c.AuthToken)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("buildfeed"),
		kong.Description("Follow builds from the terminal."),
		kong.UsageOnError(),
	)

	cfg, err := config.LoadClient()
	kctx.FatalIfErrorf(err)

	level := logger.ParseLevel(cfg.LogLevel)
	if cli.Verbose {
		level = slog.LevelDebug
	}
	log := logger.NewWithWriter(os.Stderr, level, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = kctx.Run(&Global{Ctx: ctx, Config: cfg, Logger: log.Logger}, &cli)
	kctx.FatalIfErrorf(err)
}
