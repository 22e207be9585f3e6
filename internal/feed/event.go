package feed

import (
	"github.com/narvanalabs/build-feed/internal/models"
)

// Event is a live change to a feed. The set of implementations is closed:
// BuildCreated and JobUpdated.
type Event interface {
	kind() string
}

// BuildCreated announces a new build, always newer than anything paginated.
type BuildCreated struct {
	Build models.Build
}

// JobUpdated carries a single job's state transition.
type JobUpdated struct {
	Event models.JobEvent
}

func (BuildCreated) kind() string { return models.KindBuildCreated }
func (JobUpdated) kind() string   { return models.KindJobUpdated }

// Kind returns the wire kind of ev, or "" for nil.
func Kind(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.kind()
}

// Outcome reports what Apply did with an event.
type Outcome int

const (
	// Applied means the state changed.
	Applied Outcome = iota
	// Replaced means a redelivered build superseded the entry with its id.
	Replaced
	// DroppedUnknownBuild means no build in the feed matched.
	DroppedUnknownBuild
	// DroppedUnknownJob means the build had no job with the event's id.
	DroppedUnknownJob
	// DroppedStale means a sequenced event was not newer than the job.
	DroppedStale
	// DroppedMalformed means the event could not be interpreted.
	DroppedMalformed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Replaced:
		return "replaced"
	case DroppedUnknownBuild:
		return "unknown_build"
	case DroppedUnknownJob:
		return "unknown_job"
	case DroppedStale:
		return "stale"
	case DroppedMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Changed reports whether the outcome altered the state.
func (o Outcome) Changed() bool {
	return o == Applied || o == Replaced
}

// Apply folds a live event into s. Dropped events return s unchanged; they
// are never errors because the feed may simply not hold the build yet.
func Apply(s State, ev Event) (State, Outcome) {
	switch e := ev.(type) {
	case BuildCreated:
		return applyBuildCreated(s, e.Build)
	case JobUpdated:
		return applyJobUpdated(s, e.Event)
	default:
		return s, DroppedMalformed
	}
}

// applyBuildCreated puts b at the head of the list. A build whose id is
// already listed is removed from its old position first.
func applyBuildCreated(s State, b models.Build) (State, Outcome) {
	outcome := Applied
	builds := make([]models.Build, 0, len(s.Builds)+1)
	builds = append(builds, b.Clone())
	for _, existing := range s.Builds {
		if existing.ID == b.ID {
			outcome = Replaced
			continue
		}
		builds = append(builds, existing)
	}
	s.Builds = builds
	return s, outcome
}

// applyJobUpdated overwrites the job's status and timing. When a job that had
// finished is reopened, the parent's aggregate timing no longer holds and is
// cleared until the server recomputes it.
func applyJobUpdated(s State, ev models.JobEvent) (State, Outcome) {
	start, err := models.ParseTimestamp(ev.StartTime)
	if err != nil {
		return s, DroppedMalformed
	}
	end, err := models.ParseTimestamp(ev.EndTime)
	if err != nil {
		return s, DroppedMalformed
	}

	bi := s.Index(ev.BuildID)
	if bi < 0 {
		return s, DroppedUnknownBuild
	}
	build := s.Builds[bi]

	ji := build.JobIndex(ev.JobID)
	if ji < 0 {
		return s, DroppedUnknownJob
	}
	job := build.Jobs[ji]

	if ev.Seq != 0 && ev.Seq <= job.Version {
		return s, DroppedStale
	}

	if job.EndTime != nil && end == nil {
		build.StartTime = nil
		build.EndTime = nil
	}

	job.StartTime = start
	job.EndTime = end
	job.Status = ev.Status
	if ev.Seq != 0 {
		job.Version = ev.Seq
	}

	jobs := make([]models.Job, len(build.Jobs))
	copy(jobs, build.Jobs)
	jobs[ji] = job
	build.Jobs = jobs

	builds := make([]models.Build, len(s.Builds))
	copy(builds, s.Builds)
	builds[bi] = build
	s.Builds = builds

	return s, Applied
}
