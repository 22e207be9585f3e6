// Package redis relays build events between instances over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/models"
)

// DefaultChannel is the Redis channel envelopes are published on.
const DefaultChannel = "build-feed:events"

// Relay implements events.Relay with Redis PUBLISH/SUBSCRIBE.
type Relay struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New connects to the Redis server at url (redis://host:port/db).
func New(ctx context.Context, url, channel string, logger *slog.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client, channel, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, channel string, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, channel: channel, logger: logger}
}

// Publish sends env to every subscribed instance.
func (r *Relay) Publish(ctx context.Context, env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and delivers envelopes to sink until ctx is
// done. Undecodable messages are logged and skipped.
func (r *Relay) Run(ctx context.Context, sink events.Sink) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Info("redis relay subscribed", "channel", r.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env models.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping undecodable relay message", "channel", msg.Channel, "error", err)
				continue
			}
			if err := sink.Deliver(env); err != nil {
				r.logger.Warn("relay delivery failed", "type", env.Type, "error", err)
			}
		}
	}
}

// Ping checks the connection to Redis.
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}

var _ events.Relay = (*Relay)(nil)
