// Package nats relays build events between instances over NATS core pub/sub.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/models"
)

// DefaultSubject is the subject envelopes are published on.
const DefaultSubject = "buildfeed.events"

// Relay implements events.Relay over a NATS connection.
type Relay struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// New connects to the NATS server at url.
func New(url, subject string, logger *slog.Logger) (*Relay, error) {
	conn, err := nats.Connect(url, nats.Name("build-feed"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewWithConn(conn, subject, logger), nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(conn *nats.Conn, subject string, logger *slog.Logger) *Relay {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{conn: conn, subject: subject, logger: logger}
}

// Publish sends env on the subject.
func (r *Relay) Publish(_ context.Context, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

// Run subscribes to the subject and delivers envelopes to sink until ctx is
// done.
func (r *Relay) Run(ctx context.Context, sink events.Sink) error {
	msgs := make(chan *nats.Msg, 256)
	sub, err := r.conn.ChanSubscribe(r.subject, msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Debug("nats unsubscribe", "error", err)
		}
	}()

	r.logger.Info("nats relay subscribed", "subject", r.subject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			var env models.Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				r.logger.Warn("dropping undecodable relay message", "subject", msg.Subject, "error", err)
				continue
			}
			if err := sink.Deliver(env); err != nil {
				r.logger.Warn("relay delivery failed", "type", env.Type, "error", err)
			}
		}
	}
}

// Ping reports whether the connection is up.
func (r *Relay) Ping(_ context.Context) error {
	if status := r.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	return nil
}

// Close drains and closes the connection.
func (r *Relay) Close() error {
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return err
	}
	return nil
}

var _ events.Relay = (*Relay)(nil)
