package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/narvanalabs/build-feed/internal/models"
)

// ErrClosed is returned by Synchronizer methods called after Teardown.
var ErrClosed = errors.New("feed: synchronizer closed")

const defaultQueueSize = 64

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the activity recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Synchronizer) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLimit sets the page size.
func WithLimit(limit int) Option {
	return func(s *Synchronizer) {
		s.limit = limit
	}
}

// inflight is the page fetch currently outstanding for the live generation.
type inflight struct {
	req    Request
	cancel context.CancelFunc
}

// Synchronizer maintains one feed. All state transitions run on a single
// goroutine fed by a queue, so page results and live events never interleave
// inside a transition. Observers read deep copies through Snapshot and
// Updates.
type Synchronizer struct {
	svc      BuildsService
	logger   *slog.Logger
	recorder Recorder
	limit    int

	ctx    context.Context
	cancel context.CancelFunc

	queue    chan func()
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	subs    handles
	updates chan State

	// Owned by the run goroutine.
	state       State
	initialized bool
	active      bool
	pending     *inflight
}

// New starts a Synchronizer over svc. Nothing is fetched or subscribed until
// Initialize.
func New(svc BuildsService, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		svc:      svc,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		queue:    make(chan func(), defaultQueueSize),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		updates:  make(chan State, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "feed")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = NewState(LatestScope(), s.limit)

	go s.run()
	return s
}

func (s *Synchronizer) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case fn := <-s.queue:
			select {
			case <-s.stop:
				return
			default:
			}
			fn()
		}
	}
}

// do runs fn on the queue and waits for it.
func (s *Synchronizer) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.queue <- func() { fn(); close(done) }:
	case <-s.stop:
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-s.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// post enqueues fn without waiting. It reports false once torn down.
func (s *Synchronizer) post(fn func()) bool {
	select {
	case s.queue <- fn:
		return true
	case <-s.stop:
		return false
	}
}

// Initialize resets the feed to scope, starts the first page fetch and, on
// the first call, activates the live subscriptions. Results of fetches issued
// before the reset are discarded.
func (s *Synchronizer) Initialize(scope Scope) error {
	return s.do(func() { s.initialize(scope) })
}

// Reconfigure initializes again only when scope, once normalized, differs
// from the current one. It reports whether a reset happened.
func (s *Synchronizer) Reconfigure(scope Scope) (bool, error) {
	var changed bool
	err := s.do(func() {
		if s.initialized && s.state.Scope.Normalize() == scope.Normalize() {
			return
		}
		changed = true
		s.initialize(scope)
	})
	return changed, err
}

// LoadMore requests the next page. It reports false without side effects when
// a fetch is already in flight, pagination is exhausted or the feed was never
// initialized.
func (s *Synchronizer) LoadMore() (bool, error) {
	var issued bool
	err := s.do(func() {
		if !s.initialized {
			return
		}
		issued = s.fetch()
		if issued {
			s.publish()
		}
	})
	return issued, err
}

// Snapshot returns a deep copy of the current state.
func (s *Synchronizer) Snapshot() (State, error) {
	var out State
	err := s.do(func() { out = s.state.Clone() })
	return out, err
}

// Updates delivers the latest state after every change. Intermediate states
// may be skipped by slow readers. The channel is closed by Teardown.
func (s *Synchronizer) Updates() <-chan State {
	return s.updates
}

// Teardown stops the queue, releases every live subscription and tells the
// service to unsubscribe. It is safe before Initialize and on repeated calls;
// once it returns no further transition runs.
func (s *Synchronizer) Teardown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.stopped

		s.cancel()
		s.subs.releaseAll()
		s.svc.UnsubscribeAll()
		close(s.updates)

		s.logger.Debug("feed torn down")
	})
}

func (s *Synchronizer) initialize(scope Scope) {
	if s.pending != nil {
		s.pending.cancel()
		s.pending = nil
	}

	s.state = Reset(s.state, scope)
	s.initialized = true

	s.fetch()
	if !s.active {
		s.activate()
	}
	s.publish()
}

// activate acquires both live streams on the queue and asks the service to
// start them from another goroutine, since starting may dial the hub.
func (s *Synchronizer) activate() {
	s.active = true

	builds := s.svc.BuildEvents()
	s.subs.add(builds.Release)
	go forward(s, builds.Events(), func(b models.Build) Event { return BuildCreated{Build: b} })

	jobs := s.svc.JobEvents()
	s.subs.add(jobs.Release)
	go forward(s, jobs.Events(), func(e models.JobEvent) Event { return JobUpdated{Event: e} })

	go s.subscribe()
}

func (s *Synchronizer) subscribe() {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.svc.SubscribeToBuildsEvents(); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("subscribing to build events", "error", err)
	}
	if s.ctx.Err() != nil {
		return
	}
	if err := s.svc.SubscribeToJobEvents(); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("subscribing to job events", "error", err)
	}
}

// forward moves events from a subscription onto the queue, one at a time, so
// per-stream order is kept.
func forward[T any](s *Synchronizer, events <-chan T, wrap func(T) Event) {
	for {
		select {
		case <-s.stop:
			return
		case v, ok := <-events:
			if !ok {
				return
			}
			ev := wrap(v)
			if !s.post(func() { s.handle(ev) }) {
				return
			}
		}
	}
}

func (s *Synchronizer) handle(ev Event) {
	next, outcome := Apply(s.state, ev)
	s.recorder.EventHandled(Kind(ev), outcome)
	if !outcome.Changed() {
		s.logger.Debug("event dropped", "kind", Kind(ev), "reason", outcome.String())
		return
	}
	s.state = next
	s.publish()
}

// fetch starts the next page fetch if the state allows one.
func (s *Synchronizer) fetch() bool {
	next, req, ok := BeginFetch(s.state)
	if !ok {
		return false
	}
	s.state = next

	ctx, cancel := context.WithCancel(s.ctx)
	s.pending = &inflight{req: req, cancel: cancel}

	go func() {
		builds, err := s.svc.Find(ctx, req.Scope, req.Limit, req.Offset)
		s.post(func() { s.complete(req, builds, err) })
	}()
	return true
}

func (s *Synchronizer) complete(req Request, builds []models.Build, err error) {
	if s.pending != nil && s.pending.req == req {
		s.pending.cancel()
		s.pending = nil
	}

	if err != nil {
		next, ok := FailPage(s.state, req, err)
		if !ok {
			s.recorder.StaleDiscarded()
			return
		}
		s.state = next
		s.recorder.PageFailed()
		s.logger.Warn("fetching builds", "offset", req.Offset, "error", err)
		s.publish()
		return
	}

	next, ok := CompletePage(s.state, req, builds)
	if !ok {
		s.recorder.StaleDiscarded()
		s.logger.Debug("stale page discarded", "generation", req.Generation, "current", s.state.Generation)
		return
	}
	s.state = next
	s.recorder.PageFetched(len(builds))
	s.publish()
}

// publish offers the current state to Updates, replacing an unread one.
func (s *Synchronizer) publish() {
	snap := s.state.Clone()
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}
