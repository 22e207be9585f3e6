package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/models"
)

// **Feature: build-feed, Property 18: Page passthrough**
// *For any* page of builds returned by the backend, ListBuilds SHALL return the
// same builds in the same order, with timestamps equal to the instants sent,
// and SHALL send the scope, limit and offset it was given.
func TestPropertyListBuildsPassthrough(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("builds and query survive the round trip", prop.ForAll(
		func(n int, offset int, branch string, seconds int64) bool {
			page := make([]models.Build, n)
			for i := range page {
				start := base.Add(time.Duration(seconds+int64(i)) * time.Second)
				page[i] = models.Build{
					ID:        uint64(n - i),
					Branch:    branch,
					Commit:    "c0ffee",
					Status:    models.BuildStatusRunning,
					CreatedAt: start,
					StartTime: &start,
					Jobs: []models.Job{{
						ID: uint64(i + 1), BuildID: uint64(n - i), Status: models.JobStatusRunning, StartTime: &start,
					}},
				}
			}

			queries := make(chan url.Values, 1)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/builds" || r.Header.Get("Authorization") != "Bearer tok" {
					http.NotFound(w, r)
					return
				}
				queries <- r.URL.Query()
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(page)
			}))
			defer server.Close()

			scope := feed.Scope{Type: feed.ScopeBranch, Branch: branch}
			got, err := NewClient(server.URL).WithToken("tok").ListBuilds(context.Background(), scope, 5, offset)
			if err != nil || len(got) != n {
				return false
			}
			for i := range page {
				if got[i].ID != page[i].ID || !got[i].StartTime.Equal(*page[i].StartTime) {
					return false
				}
				if !got[i].Jobs[0].StartTime.Equal(*page[i].Jobs[0].StartTime) {
					return false
				}
			}
			q := <-queries
			return q.Get("type") == feed.ScopeBranch &&
				q.Get("branch") == branch &&
				q.Get("limit") == "5" &&
				q.Get("offset") == strconv.Itoa(offset)
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 50),
		gen.RegexMatch("[a-z]{1,10}(/[a-z]{1,5})?"),
		gen.Int64Range(0, 1<<20),
	))

	properties.TestingRun(t)
}

func TestClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"UNAUTHORIZED","message":"invalid email or password","request_id":"r1"}`))
		default:
			http.Error(w, "gateway exploded", http.StatusBadGateway)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Login(context.Background(), "john@gmail.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
	assert.Equal(t, "r1", apiErr.RequestID)

	_, err = client.GetBuild(context.Background(), 1)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "gateway exploded", apiErr.Message)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestEventsURL(t *testing.T) {
	u, err := NewClient("https://ci.example.com/").WithToken("a b").EventsURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://ci.example.com/v1/events?token=a+b", u)

	u, err = NewClient("http://localhost:8080").EventsURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/events", u)
}
