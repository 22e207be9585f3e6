package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/models"
)

const dialTimeout = 10 * time.Second

// BuildsService serves one feed.Synchronizer: pages come from the HTTP API,
// live events from a lazily dialed EventSocket fanned out through a private
// broker.
type BuildsService struct {
	client *Client
	broker *events.Broker
	owner  string
	logger *slog.Logger

	// ctx bounds socket dials; UnsubscribeAll cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	socket *EventSocket
}

var _ feed.BuildsService = (*BuildsService)(nil)

// NewBuildsService creates a service for a single synchronizer.
func NewBuildsService(client *Client, logger *slog.Logger) *BuildsService {
	if logger == nil {
		logger = slog.Default()
	}
	owner := "feed:" + uuid.NewString()
	logger = logger.With("owner", owner)
	ctx, cancel := context.WithCancel(context.Background())
	return &BuildsService{
		client: client,
		broker: events.NewBroker(logger),
		owner:  owner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Find fetches one page through the HTTP API.
func (s *BuildsService) Find(ctx context.Context, scope feed.Scope, limit, offset int) ([]models.Build, error) {
	return s.client.ListBuilds(ctx, scope, limit, offset)
}

// BuildEvents returns a new stream of created builds.
func (s *BuildsService) BuildEvents() feed.Subscription[models.Build] {
	return s.broker.SubscribeBuilds(s.owner)
}

// JobEvents returns a new stream of job updates.
func (s *BuildsService) JobEvents() feed.Subscription[models.JobEvent] {
	return s.broker.SubscribeJobs(s.owner)
}

// SubscribeToBuildsEvents asks the hub for the builds topic.
func (s *BuildsService) SubscribeToBuildsEvents() error {
	return s.subscribe(models.TopicBuilds)
}

// SubscribeToJobEvents asks the hub for the jobs topic.
func (s *BuildsService) SubscribeToJobEvents() error {
	return s.subscribe(models.TopicJobs)
}

func (s *BuildsService) subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return err
	}
	if s.socket == nil {
		ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
		defer cancel()
		socket, err := DialEvents(ctx, s.client, s.broker, s.logger)
		if err != nil {
			if cerr := s.ctx.Err(); cerr != nil {
				return cerr
			}
			return err
		}
		s.socket = socket
	}
	return s.socket.Subscribe(topic)
}

// UnsubscribeAll releases every stream handed out, aborts a dial in progress
// and closes the socket. The service cannot subscribe again afterwards.
func (s *BuildsService) UnsubscribeAll() {
	s.cancel()
	s.broker.ReleaseOwner(s.owner)

	s.mu.Lock()
	socket := s.socket
	s.socket = nil
	s.mu.Unlock()

	if socket != nil {
		if err := socket.Close(); err != nil {
			s.logger.Debug("closing event socket", "error", err)
		}
	}
}
