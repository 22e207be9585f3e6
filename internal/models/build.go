package models

import "time"

// BuildStatus represents the aggregate state of a build.
type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusPassing   BuildStatus = "passing"
	BuildStatusFailing   BuildStatus = "failing"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// JobStatus represents the state of a single job within a build.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPassing   JobStatus = "passing"
	JobStatusFailing   JobStatus = "failing"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status has finished.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusPassing, JobStatusFailing, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Build is a single CI run with its ordered jobs.
type Build struct {
	ID        uint64      `json:"id"`
	Branch    string      `json:"branch"`
	Commit    string      `json:"commit"`
	PR        int         `json:"pr,omitempty"`
	Message   string      `json:"message,omitempty"`
	Status    BuildStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	StartTime *time.Time  `json:"startTime"`
	EndTime   *time.Time  `json:"endTime"`
	Jobs      []Job       `json:"jobs"`
}

// Job is one unit of work inside a build. Version increases with every
// persisted status change and is echoed as Seq on job events.
type Job struct {
	ID        uint64     `json:"id"`
	BuildID   uint64     `json:"buildID"`
	Image     string     `json:"image,omitempty"`
	Env       string     `json:"env,omitempty"`
	Status    JobStatus  `json:"status"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Version   uint64     `json:"version"`
}

// Clone returns a deep copy of the build, including its jobs and timestamps.
func (b Build) Clone() Build {
	out := b
	out.StartTime = cloneTime(b.StartTime)
	out.EndTime = cloneTime(b.EndTime)
	if b.Jobs != nil {
		out.Jobs = make([]Job, len(b.Jobs))
		for i, j := range b.Jobs {
			out.Jobs[i] = j.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	out := j
	out.StartTime = cloneTime(j.StartTime)
	out.EndTime = cloneTime(j.EndTime)
	return out
}

// JobIndex returns the position of the job with the given id, or -1.
func (b *Build) JobIndex(jobID uint64) int {
	for i := range b.Jobs {
		if b.Jobs[i].ID == jobID {
			return i
		}
	}
	return -1
}

// Recompute derives the aggregate status and timing of a build from its jobs.
// Start is the earliest job start; end is set only when every job is terminal.
func (b *Build) Recompute() {
	if len(b.Jobs) == 0 {
		return
	}

	var start, end *time.Time
	allDone := true
	anyRunning := false
	anyFailing := false
	anyCancelled := false

	for _, j := range b.Jobs {
		if j.StartTime != nil && (start == nil || j.StartTime.Before(*start)) {
			start = cloneTime(j.StartTime)
		}
		if j.EndTime != nil && (end == nil || j.EndTime.After(*end)) {
			end = cloneTime(j.EndTime)
		}
		if !j.Status.IsTerminal() {
			allDone = false
		}
		switch j.Status {
		case JobStatusRunning:
			anyRunning = true
		case JobStatusFailing:
			anyFailing = true
		case JobStatusCancelled:
			anyCancelled = true
		}
	}

	b.StartTime = start
	if allDone {
		b.EndTime = end
	} else {
		b.EndTime = nil
	}

	switch {
	case !allDone && (anyRunning || start != nil):
		b.Status = BuildStatusRunning
	case !allDone:
		b.Status = BuildStatusQueued
	case anyFailing:
		b.Status = BuildStatusFailing
	case anyCancelled:
		b.Status = BuildStatusCancelled
	default:
		b.Status = BuildStatusPassing
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
