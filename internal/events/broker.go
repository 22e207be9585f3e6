// Package events provides in-process fan-out of build and job events.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/build-feed/internal/models"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 100

// Subscription is a single subscriber's stream. It satisfies
// feed.Subscription.
type Subscription[T any] struct {
	ID        string
	Owner     string
	Topic     string
	CreatedAt time.Time

	ch      chan T
	once    sync.Once
	release func()
}

// Events returns the delivery channel. It is closed on release.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Release stops delivery and closes the channel. Safe to call repeatedly.
func (s *Subscription[T]) Release() {
	s.once.Do(s.release)
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHook is called with the topic whenever an event is dropped for a
// slow subscriber.
func WithDropHook(fn func(topic string)) BrokerOption {
	return func(b *Broker) {
		b.onDrop = fn
	}
}

// WithPublishHook is called with the topic for every published event.
func WithPublishHook(fn func(topic string)) BrokerOption {
	return func(b *Broker) {
		b.onPublish = fn
	}
}

// Broker manages build and job subscriptions and publishing.
type Broker struct {
	mu     sync.RWMutex
	builds map[string]*Subscription[models.Build]
	jobs   map[string]*Subscription[models.JobEvent]
	closed bool

	buffer    int
	onDrop    func(topic string)
	onPublish func(topic string)
	logger    *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		builds: make(map[string]*Subscription[models.Build]),
		jobs:   make(map[string]*Subscription[models.JobEvent]),
		buffer: DefaultBuffer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscribeBuilds subscribes owner to created builds.
func (b *Broker) SubscribeBuilds(owner string) *Subscription[models.Build] {
	return subscribe(b, b.builds, owner, models.TopicBuilds)
}

// SubscribeJobs subscribes owner to job updates.
func (b *Broker) SubscribeJobs(owner string) *Subscription[models.JobEvent] {
	return subscribe(b, b.jobs, owner, models.TopicJobs)
}

func subscribe[T any](b *Broker, set map[string]*Subscription[T], owner, topic string) *Subscription[T] {
	sub := &Subscription[T]{
		ID:        uuid.NewString(),
		Owner:     owner,
		Topic:     topic,
		CreatedAt: time.Now(),
		ch:        make(chan T, b.buffer),
	}
	sub.release = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := set[sub.ID]; ok {
			delete(set, sub.ID)
			close(sub.ch)
			b.logger.Debug("subscriber removed", "subscriber_id", sub.ID, "topic", topic)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}

	set[sub.ID] = sub
	b.logger.Debug("subscriber added",
		"subscriber_id", sub.ID,
		"owner", owner,
		"topic", topic,
	)
	return sub
}

// PublishBuild sends a created build to every build subscriber. It never
// blocks; full subscribers miss the event.
func (b *Broker) PublishBuild(build models.Build) int {
	return publish(b, b.builds, build.Clone, models.TopicBuilds, "build_id", build.ID)
}

// PublishJob sends a job event to every job subscriber.
func (b *Broker) PublishJob(ev models.JobEvent) int {
	return publish(b, b.jobs, func() models.JobEvent { return ev }, models.TopicJobs, "build_id", ev.BuildID)
}

// publish returns the number of subscribers the value was delivered to.
func publish[T any](b *Broker, set map[string]*Subscription[T], value func() T, topic string, attrs ...any) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.onPublish != nil {
		b.onPublish(topic)
	}

	delivered := 0
	for _, sub := range set {
		select {
		case sub.ch <- value():
			delivered++
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				append([]any{"subscriber_id", sub.ID, "topic", topic}, attrs...)...,
			)
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
	return delivered
}

// Deliver publishes a wire envelope locally. Relays use it as their sink.
func (b *Broker) Deliver(env models.Envelope) error {
	switch env.Type {
	case models.KindBuildCreated:
		var build models.Build
		if err := json.Unmarshal(env.Data, &build); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		b.PublishBuild(build)
	case models.KindJobUpdated:
		var ev models.JobEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		b.PublishJob(ev)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	return nil
}

// ReleaseOwner releases every subscription held by owner.
func (b *Broker) ReleaseOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := releaseOwner(b.builds, owner) + releaseOwner(b.jobs, owner)
	if n > 0 {
		b.logger.Debug("owner released", "owner", owner, "subscriptions", n)
	}
	return n
}

func releaseOwner[T any](set map[string]*Subscription[T], owner string) int {
	n := 0
	for id, sub := range set {
		if sub.Owner == owner {
			delete(set, id)
			close(sub.ch)
			n++
		}
	}
	return n
}

// SubscriberCount returns the number of active subscribers on a topic. An
// empty topic counts all.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch topic {
	case models.TopicBuilds:
		return len(b.builds)
	case models.TopicJobs:
		return len(b.jobs)
	default:
		return len(b.builds) + len(b.jobs)
	}
}

// Close releases every subscription. Later subscriptions start closed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.builds {
		delete(b.builds, id)
		close(sub.ch)
	}
	for id, sub := range b.jobs {
		delete(b.jobs, id)
		close(sub.ch)
	}
}
