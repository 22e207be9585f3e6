package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/narvanalabs/build-feed/internal/auth"
	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/web/api"
)

// ScopeFlags selects the feed. Unset flags fall back to the FEED_* settings.
type ScopeFlags struct {
	Branch string `help:"Only builds of this branch"`
	PR     int    `help:"Only builds of this pull request"`
	Commit string `help:"Only builds of this commit"`
	Limit  int    `short:"n" help:"Page size (defaults to FEED_LIMIT)"`
}

func (f ScopeFlags) scope(g *Global) (feed.Scope, error) {
	var s feed.Scope
	switch {
	case f.Branch != "":
		s = feed.Scope{Type: feed.ScopeBranch, Branch: f.Branch}
	case f.PR != 0:
		s = feed.Scope{Type: feed.ScopePR, PR: f.PR}
	case f.Commit != "":
		s = feed.Scope{Type: feed.ScopeCommit, Commit: f.Commit}
	default:
		fc := g.Config.Feed
		s = feed.Scope{Type: fc.Scope, Branch: fc.Branch, PR: fc.PR, Commit: fc.Commit}
	}
	if err := s.Validate(); err != nil {
		return feed.Scope{}, err
	}
	return s.Normalize(), nil
}

func (f ScopeFlags) limit(g *Global) int {
	if f.Limit > 0 {
		return f.Limit
	}
	return g.Config.Feed.Limit
}

// LoginCmd exchanges credentials for a token.
type LoginCmd struct {
	Email    string `arg:"" help:"Account email"`
	Password string `env:"BUILDFEED_PASSWORD" help:"Password (read from stdin when empty)"`
}

func (c *LoginCmd) Run(g *Global, root *CLI) error {
	password := c.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	token, err := root.client(g).Login(g.Ctx, c.Email, password)
	if errors.Is(err, api.ErrUnauthorized) {
		return errors.New("invalid credentials")
	}
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// TokenCmd signs a token with the server secret, for scripts and local
// testing against a development API.
type TokenCmd struct {
	User   string        `default:"admin" help:"User ID for the token"`
	Email  string        `default:"admin@localhost" help:"Email for the token"`
	Secret string        `env:"JWT_SECRET" help:"JWT secret"`
	Expiry time.Duration `default:"8760h" help:"Token lifetime"`
}

func (c *TokenCmd) Run(_ *Global) error {
	if len(c.Secret) < 32 {
		return errors.New("JWT secret must be at least 32 characters (use --secret or JWT_SECRET)")
	}
	svc := auth.NewService(&auth.Config{JWTSecret: []byte(c.Secret), TokenExpiry: c.Expiry}, nil, nil)
	token, err := svc.GenerateToken(c.User, c.Email, "")
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// ListCmd prints one page of the feed.
type ListCmd struct {
	ScopeFlags
	Offset int `help:"Builds to skip"`
}

func (c *ListCmd) Run(g *Global, root *CLI) error {
	scope, err := c.scope(g)
	if err != nil {
		return err
	}
	builds, err := root.client(g).ListBuilds(g.Ctx, scope, c.limit(g), c.Offset)
	if err != nil {
		return err
	}
	return printBuilds(os.Stdout, builds, time.Now())
}

// WatchCmd runs a feed synchronizer and reprints the list on every change.
type WatchCmd struct {
	ScopeFlags
	More int `help:"Extra pages to load after the first"`
}

func (c *WatchCmd) Run(g *Global, root *CLI) error {
	scope, err := c.scope(g)
	if err != nil {
		return err
	}

	svc := api.NewBuildsService(root.client(g), g.Logger)
	sync := feed.New(svc, feed.WithLogger(g.Logger), feed.WithLimit(c.limit(g)))
	defer sync.Teardown()

	if err := sync.Initialize(scope); err != nil {
		return err
	}
	return watch(g.Ctx, sync, c.More, os.Stdout)
}
