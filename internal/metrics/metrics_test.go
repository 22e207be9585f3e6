package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/build-feed/internal/feed"
)

func TestRecorderFeedCounters(t *testing.T) {
	r := New(prom.NewRegistry())

	r.PageFetched(5)
	r.PageFetched(3)
	r.PageFailed()
	r.StaleDiscarded()
	r.EventHandled("job_updated", feed.Applied)
	r.EventHandled("job_updated", feed.DroppedStale)
	r.EventHandled("job_updated", feed.DroppedStale)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.pagesFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pagesFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.staleDiscards))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.feedEvents.WithLabelValues("job_updated", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.feedEvents.WithLabelValues("job_updated", "applied")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.PageFetched(1)
	r.EventDropped("builds")
	r.ConnectionOpened()
	r.EventHandled("build_created", feed.Applied)

	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := New(nil)

	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/builds/{buildID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Handle("/metrics", r.Handler())

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/builds/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("/builds/{buildID}", "GET", "404")))

	r.EventDropped("jobs")
	r.RegisterGaugeFunc("broker_subscribers", "Current broker subscribers", func() float64 { return 4 })

	srv := httptest.NewServer(router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `buildfeed_events_dropped_total{topic="jobs"} 1`)
	assert.Contains(t, string(body), "buildfeed_broker_subscribers 4")
}
