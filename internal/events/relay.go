package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/narvanalabs/build-feed/internal/models"
)

// ErrUnknownKind is returned for envelopes of a kind no one handles.
var ErrUnknownKind = errors.New("unknown event kind")

// Sink receives envelopes from a relay.
type Sink interface {
	Deliver(env models.Envelope) error
}

// Relay carries envelopes between instances. Every instance, including the
// publisher, receives what is published.
type Relay interface {
	Publish(ctx context.Context, env models.Envelope) error
	// Run delivers relayed envelopes to sink until ctx is done.
	Run(ctx context.Context, sink Sink) error
	Close() error
}

// Emitter is the write side used by mutation handlers. Without a relay it
// publishes straight to the local broker.
type Emitter struct {
	broker *Broker
	relay  Relay
}

// NewEmitter creates an emitter. relay may be nil.
func NewEmitter(broker *Broker, relay Relay) *Emitter {
	return &Emitter{broker: broker, relay: relay}
}

// BuildCreated announces a new build.
func (e *Emitter) BuildCreated(ctx context.Context, build models.Build) error {
	if e.relay == nil {
		e.broker.PublishBuild(build)
		return nil
	}
	return e.emit(ctx, models.KindBuildCreated, build)
}

// JobUpdated announces a job transition.
func (e *Emitter) JobUpdated(ctx context.Context, ev models.JobEvent) error {
	if e.relay == nil {
		e.broker.PublishJob(ev)
		return nil
	}
	return e.emit(ctx, models.KindJobUpdated, ev)
}

func (e *Emitter) emit(ctx context.Context, kind string, data any) error {
	env, err := models.NewEnvelope(kind, data)
	if err != nil {
		return err
	}
	if err := e.relay.Publish(ctx, env); err != nil {
		return fmt.Errorf("relaying %s: %w", kind, err)
	}
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(env models.Envelope) error

// Deliver calls f.
func (f SinkFunc) Deliver(env models.Envelope) error { return f(env) }
