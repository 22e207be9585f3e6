// Package metrics exports Prometheus metrics for the API server, the event
// broker and feed synchronizers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narvanalabs/build-feed/internal/feed"
)

const namespace = "buildfeed"

// Recorder holds every collector. A nil *Recorder is valid and records nothing.
// It implements feed.Recorder.
type Recorder struct {
	reg *prom.Registry

	httpRequests *prom.CounterVec
	httpDuration *prom.HistogramVec

	eventsPublished *prom.CounterVec
	eventsDropped   *prom.CounterVec
	wsConnections   prom.Gauge

	pagesFetched  prom.Counter
	pageItems     prom.Histogram
	pagesFailed   prom.Counter
	staleDiscards prom.Counter
	feedEvents    *prom.CounterVec
}

var _ feed.Recorder = (*Recorder)(nil)

// New creates a Recorder and registers its collectors on reg, plus the Go
// and process collectors. A nil reg gets a fresh registry.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{reg: reg}

	r.httpRequests = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status code",
	}, []string{"route", "method", "code"})
	r.httpDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern",
		Buckets:   prom.DefBuckets,
	}, []string{"route"})
	r.eventsPublished = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events published to the local broker by topic",
	}, []string{"topic"})
	r.eventsDropped = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped for slow subscribers by topic",
	}, []string{"topic"})
	r.wsConnections = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Open event websocket connections",
	})
	r.pagesFetched = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "pages_fetched_total",
		Help:      "Pages merged into a feed",
	})
	r.pageItems = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "page_items",
		Help:      "Builds returned per fetched page",
		Buckets:   prom.LinearBuckets(0, 5, 6),
	})
	r.pagesFailed = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "pages_failed_total",
		Help:      "Page fetches that failed",
	})
	r.staleDiscards = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "stale_pages_total",
		Help:      "Page results discarded because the feed was reconfigured",
	})
	r.feedEvents = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "events_total",
		Help:      "Live events handled by a feed, by kind and outcome",
	}, []string{"kind", "outcome"})

	reg.MustRegister(
		r.httpRequests, r.httpDuration,
		r.eventsPublished, r.eventsDropped, r.wsConnections,
		r.pagesFetched, r.pageItems, r.pagesFailed, r.staleDiscards, r.feedEvents,
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// RegisterGaugeFunc exports fn as a gauge sampled at scrape time.
func (r *Recorder) RegisterGaugeFunc(name, help string, fn func() float64) {
	if r == nil {
		return
	}
	r.reg.MustRegister(prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so ids in paths do not explode label cardinality.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpRequests.WithLabelValues(route, req.Method, strconv.Itoa(status)).Inc()
		r.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EventPublished counts a broker publish.
func (r *Recorder) EventPublished(topic string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(topic).Inc()
}

// EventDropped counts an event dropped for a slow subscriber. It matches
// the broker's drop hook signature.
func (r *Recorder) EventDropped(topic string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(topic).Inc()
}

// ConnectionOpened and ConnectionClosed track websocket clients.
func (r *Recorder) ConnectionOpened() {
	if r == nil {
		return
	}
	r.wsConnections.Inc()
}

func (r *Recorder) ConnectionClosed() {
	if r == nil {
		return
	}
	r.wsConnections.Dec()
}

// PageFetched implements feed.Recorder.
func (r *Recorder) PageFetched(items int) {
	if r == nil {
		return
	}
	r.pagesFetched.Inc()
	r.pageItems.Observe(float64(items))
}

// PageFailed implements feed.Recorder.
func (r *Recorder) PageFailed() {
	if r == nil {
		return
	}
	r.pagesFailed.Inc()
}

// StaleDiscarded implements feed.Recorder.
func (r *Recorder) StaleDiscarded() {
	if r == nil {
		return
	}
	r.staleDiscards.Inc()
}

// EventHandled implements feed.Recorder.
func (r *Recorder) EventHandled(kind string, outcome feed.Outcome) {
	if r == nil {
		return
	}
	r.feedEvents.WithLabelValues(kind, outcome.String()).Inc()
}
