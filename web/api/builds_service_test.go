package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apiserver "github.com/narvanalabs/build-feed/internal/api"
	"github.com/narvanalabs/build-feed/internal/auth"
	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/internal/store/memory"
	"github.com/narvanalabs/build-feed/pkg/config"
)

const waitFor = 3 * time.Second

// startAPI runs a real API server over a memory store and returns a client
// logged in as john@gmail.com together with the server's broker.
func startAPI(t *testing.T) (*Client, *events.Broker) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(logger)
	st.Users().(*memory.UserStore).SetCost(bcrypt.MinCost)
	_, err := st.Users().Create(context.Background(), "john@gmail.com", "test123", "John")
	require.NoError(t, err)

	cfg := config.LoadWithDefaults()
	authSvc := auth.NewService(&auth.Config{JWTSecret: []byte(cfg.JWTSecret), TokenExpiry: time.Hour}, st.Users(), logger)
	broker := events.NewBroker(logger)

	server := apiserver.NewServer(cfg, apiserver.Deps{
		Store:   st,
		Auth:    authSvc,
		Broker:  broker,
		Metrics: metrics.New(nil),
	}, logger)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		srv.Close()
		broker.Close()
	})

	client := NewClient(srv.URL)
	token, err := client.Login(context.Background(), "john@gmail.com", "test123")
	require.NoError(t, err)
	return client.WithToken(token), broker
}

func createBuild(t *testing.T, c *Client, branch string) *models.Build {
	t.Helper()
	b, err := c.CreateBuild(context.Background(), NewBuild{
		Branch: branch,
		Commit: "abc1234",
		Jobs:   []NewJob{{Image: "golang:1.24"}, {Image: "golang:1.23", Env: "CGO_ENABLED=0"}},
	})
	require.NoError(t, err)
	return b
}

func TestBuildsServiceDeliversHubEvents(t *testing.T) {
	client, hub := startAPI(t)
	svc := NewBuildsService(client, nil)

	builds := svc.BuildEvents()
	jobs := svc.JobEvents()
	require.NoError(t, svc.SubscribeToBuildsEvents())
	require.NoError(t, svc.SubscribeToJobEvents())
	require.Eventually(t, func() bool { return hub.SubscriberCount("") == 2 }, waitFor, 10*time.Millisecond)

	b := createBuild(t, client, "main")
	select {
	case got := <-builds.Events():
		assert.Equal(t, b.ID, got.ID)
		assert.Len(t, got.Jobs, 2)
	case <-time.After(waitFor):
		t.Fatal("build_created not delivered")
	}

	_, err := client.UpdateJob(context.Background(), b.ID, b.Jobs[1].ID, JobUpdate{Status: models.JobStatusRunning})
	require.NoError(t, err)
	select {
	case ev := <-jobs.Events():
		assert.Equal(t, b.Jobs[1].ID, ev.JobID)
		assert.Equal(t, models.JobStatusRunning, ev.Status)
	case <-time.After(waitFor):
		t.Fatal("job_updated not delivered")
	}

	svc.UnsubscribeAll()
	_, open := <-builds.Events()
	assert.False(t, open)
	_, open = <-jobs.Events()
	assert.False(t, open)
	assert.Eventually(t, func() bool { return hub.SubscriberCount("") == 0 }, waitFor, 10*time.Millisecond)

	// Idempotent.
	svc.UnsubscribeAll()
}

func TestBuildsServiceRejectsBadToken(t *testing.T) {
	client, _ := startAPI(t)
	svc := NewBuildsService(client.WithToken("not-a-token"), nil)

	err := svc.SubscribeToBuildsEvents()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Find(context.Background(), feed.LatestScope(), 5, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUnsubscribeAllAbortsPendingDial(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	svc := NewBuildsService(NewClient(srv.URL).WithToken("token"), nil)

	errs := make(chan error, 1)
	go func() { errs <- svc.SubscribeToBuildsEvents() }()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	svc.UnsubscribeAll()

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("dial was not aborted")
	}
	assert.Less(t, time.Since(start), time.Second)

	// Nothing dials after the service is released.
	assert.ErrorIs(t, svc.SubscribeToJobEvents(), context.Canceled)
}

func snapshot(t *testing.T, s *feed.Synchronizer) feed.State {
	t.Helper()
	st, err := s.Snapshot()
	require.NoError(t, err)
	return st
}

func TestSynchronizerOverLiveAPI(t *testing.T) {
	client, hub := startAPI(t)

	var older []*models.Build
	for i := 0; i < 6; i++ {
		older = append(older, createBuild(t, client, "main"))
	}

	sync := feed.New(NewBuildsService(client, nil), feed.WithLimit(5))
	t.Cleanup(sync.Teardown)
	require.NoError(t, sync.Initialize(feed.LatestScope()))

	require.Eventually(t, func() bool {
		st := snapshot(t, sync)
		return !st.Busy() && len(st.Builds) == 5
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return hub.SubscriberCount("") == 2 }, waitFor, 10*time.Millisecond)

	st := snapshot(t, sync)
	assert.Equal(t, older[5].ID, st.Builds[0].ID)
	assert.Equal(t, older[1].ID, st.Builds[4].ID)
	assert.False(t, st.Exhausted)

	fresh := createBuild(t, client, "feature/x")
	require.Eventually(t, func() bool {
		st := snapshot(t, sync)
		return len(st.Builds) == 6 && st.Builds[0].ID == fresh.ID
	}, waitFor, 10*time.Millisecond)

	start := time.Now().UTC().Truncate(time.Second)
	_, err := client.UpdateJob(context.Background(), fresh.ID, fresh.Jobs[0].ID, JobUpdate{
		Status: models.JobStatusRunning, StartTime: &start,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job := snapshot(t, sync).Builds[0].Jobs[0]
		return job.Status == models.JobStatusRunning && job.StartTime != nil && job.StartTime.Equal(start)
	}, waitFor, 10*time.Millisecond)

	// The offset counts fetched items only, so the next page overlaps by one
	// and the duplicate is skipped.
	started, err := sync.LoadMore()
	require.NoError(t, err)
	assert.True(t, started)
	require.Eventually(t, func() bool {
		st := snapshot(t, sync)
		return !st.Busy() && st.Exhausted
	}, waitFor, 10*time.Millisecond)

	st = snapshot(t, sync)
	require.Len(t, st.Builds, 7)
	assert.Equal(t, older[0].ID, st.Builds[6].ID)

	sync.Teardown()
	assert.Eventually(t, func() bool { return hub.SubscriberCount("") == 0 }, waitFor, 10*time.Millisecond)
}
