package feed

import (
	"context"

	"github.com/narvanalabs/build-feed/internal/models"
)

// Subscription is a live stream of T. Release stops delivery and may be
// called any number of times.
type Subscription[T any] interface {
	Events() <-chan T
	Release()
}

// BuildsService is the collaborator a Synchronizer pulls pages from and
// receives live events through. One instance serves one Synchronizer, since
// UnsubscribeAll drops every stream the instance holds.
type BuildsService interface {
	// Find returns up to limit builds for scope, newest first, skipping offset.
	Find(ctx context.Context, scope Scope, limit, offset int) ([]models.Build, error)

	BuildEvents() Subscription[models.Build]
	JobEvents() Subscription[models.JobEvent]

	// SubscribeToBuildsEvents and SubscribeToJobEvents ask the upstream to
	// start delivering to the streams above.
	SubscribeToBuildsEvents() error
	SubscribeToJobEvents() error

	UnsubscribeAll()
}

// Recorder observes a Synchronizer.
type Recorder interface {
	PageFetched(items int)
	PageFailed()
	StaleDiscarded()
	EventHandled(kind string, outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) PageFetched(int)              {}
func (nopRecorder) PageFailed()                  {}
func (nopRecorder) StaleDiscarded()              {}
func (nopRecorder) EventHandled(string, Outcome) {}
