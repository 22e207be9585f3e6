package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/pkg/config"
)

func TestPrintBuilds(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-90 * time.Second)
	builds := []models.Build{{
		ID: 42, Branch: "main", Commit: "0123456789abcdef", PR: 7,
		Status: models.BuildStatusRunning, StartTime: &start,
		Jobs: []models.Job{{ID: 1, Image: "golang:1.24", Env: "GOOS=linux", Status: models.JobStatusRunning, StartTime: &start}},
	}}

	var out bytes.Buffer
	require.NoError(t, printBuilds(&out, builds, now))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "#42")
	assert.Contains(t, lines[0], "main (PR #7)")
	assert.Contains(t, lines[0], "0123456")
	assert.NotContains(t, lines[0], "0123456789")
	assert.Contains(t, lines[0], "running")
	assert.Contains(t, lines[1], "golang:1.24 GOOS=linux")
}

func TestDescribeScope(t *testing.T) {
	assert.Equal(t, "latest", describeScope(feed.LatestScope()))
	assert.Equal(t, "branch dev", describeScope(feed.Scope{Type: feed.ScopeBranch, Branch: "dev"}))
	assert.Equal(t, "pr #3", describeScope(feed.Scope{Type: feed.ScopePR, PR: 3}))
	assert.Equal(t, "commit abc", describeScope(feed.Scope{Type: feed.ScopeCommit, Commit: "abc"}))
}

func TestScopeFlags(t *testing.T) {
	g := &Global{Config: &config.Config{Feed: config.FeedConfig{Limit: 5, Scope: "branch", Branch: "main"}}}

	s, err := ScopeFlags{}.scope(g)
	require.NoError(t, err)
	assert.Equal(t, feed.Scope{Type: feed.ScopeBranch, Branch: "main"}, s)
	assert.Equal(t, 5, ScopeFlags{}.limit(g))

	s, err = ScopeFlags{PR: 9, Limit: 2}.scope(g)
	require.NoError(t, err)
	assert.Equal(t, feed.Scope{Type: feed.ScopePR, PR: 9}, s)
	assert.Equal(t, 2, ScopeFlags{Limit: 2}.limit(g))

	g.Config.Feed = config.FeedConfig{Scope: "pr"}
	_, err = ScopeFlags{}.scope(g)
	assert.ErrorIs(t, err, feed.ErrInvalidScope)
}

type fakeLoader struct {
	updates chan feed.State
	loads   int
}

func (f *fakeLoader) Updates() <-chan feed.State { return f.updates }

func (f *fakeLoader) LoadMore() (bool, error) {
	f.loads++
	return true, nil
}

func TestWatchLoadsRequestedPages(t *testing.T) {
	f := &fakeLoader{updates: make(chan feed.State, 8)}
	scope := feed.LatestScope()
	f.updates <- feed.State{Scope: scope, FetchingBuilds: true}
	f.updates <- feed.State{Scope: scope, Builds: []models.Build{{ID: 3}}}
	f.updates <- feed.State{Scope: scope, Builds: []models.Build{{ID: 3}}, FetchingMore: true}
	f.updates <- feed.State{Scope: scope, Builds: []models.Build{{ID: 3}, {ID: 2}}}
	f.updates <- feed.State{Scope: scope, Builds: []models.Build{{ID: 3}, {ID: 2}, {ID: 1}}}
	close(f.updates)

	var out bytes.Buffer
	require.NoError(t, watch(context.Background(), f, 2, &out))
	assert.Equal(t, 2, f.loads)
	assert.Equal(t, 5, strings.Count(out.String(), "== latest"))
	assert.Contains(t, out.String(), "(loading)")
	assert.Contains(t, out.String(), "(loading more)")
}
