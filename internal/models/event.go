package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds carried in an Envelope.
const (
	KindBuildCreated = "build_created"
	KindJobUpdated   = "job_updated"
	KindSubscribe    = "subscribe"
	KindUnsubscribe  = "unsubscribe"
)

// Topics a websocket client can subscribe to.
const (
	TopicBuilds = "builds"
	TopicJobs   = "jobs"
)

// JobEvent describes a single job's state transition as delivered on the live
// stream. Timestamps are RFC 3339 strings; an empty string means absent.
type JobEvent struct {
	BuildID   uint64    `json:"buildID"`
	JobID     uint64    `json:"jobID"`
	Status    JobStatus `json:"status"`
	StartTime string    `json:"startTime,omitempty"`
	EndTime   string    `json:"endTime,omitempty"`
	Seq       uint64    `json:"seq,omitempty"`
}

// NewJobEvent builds the live event for the current state of a job.
func NewJobEvent(job Job) JobEvent {
	return JobEvent{
		BuildID:   job.BuildID,
		JobID:     job.ID,
		Status:    job.Status,
		StartTime: FormatTimestamp(job.StartTime),
		EndTime:   FormatTimestamp(job.EndTime),
		Seq:       job.Version,
	}
}

// FormatTimestamp renders an optional time for the wire.
func FormatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses an optional wire timestamp. Empty input yields nil.
func ParseTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return &t, nil
}

// Envelope is the frame exchanged over the event socket and the relays.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TopicRequest is the payload of subscribe and unsubscribe frames.
type TopicRequest struct {
	Topic string `json:"topic"`
}

// NewEnvelope marshals data into an envelope of the given kind.
func NewEnvelope(kind string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", kind, err)
	}
	return Envelope{Type: kind, Data: raw}, nil
}
