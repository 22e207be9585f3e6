// Package feed keeps an ordered, newest-first list of builds consistent while
// it is filled from two independent sources: paginated fetches that append
// older builds and a live stream that prepends new builds and patches jobs.
//
// The reconciliation rules live in pure functions over State so they can be
// tested without any transport. Synchronizer runs those functions on a single
// queue and owns the live subscriptions.
package feed

import (
	"github.com/narvanalabs/build-feed/internal/models"
)

// DefaultLimit is the page size used when none is configured.
const DefaultLimit = 5

// Scope selects which builds a feed shows. The synchronizer never interprets
// it; it is handed to BuildsService.Find unchanged.
type Scope struct {
	Type   string `json:"type" yaml:"type"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
	PR     int    `json:"pr,omitempty" yaml:"pr,omitempty"`
	Commit string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// Scope types understood by the builds API.
const (
	ScopeLatest = "latest"
	ScopeBranch = "branch"
	ScopePR     = "pr"
	ScopeCommit = "commit"
)

// LatestScope is the default feed configuration.
func LatestScope() Scope {
	return Scope{Type: ScopeLatest}
}

// State is the complete observable state of one feed.
type State struct {
	Scope          Scope          `json:"scope"`
	Builds         []models.Build `json:"builds"`
	Limit          int            `json:"limit"`
	Offset         int            `json:"offset"`
	FetchingBuilds bool           `json:"fetchingBuilds"`
	FetchingMore   bool           `json:"fetchingMore"`
	Exhausted      bool           `json:"exhausted"`
	Error          string         `json:"error,omitempty"`
	Generation     uint64         `json:"generation"`
}

// Request identifies a page fetch and the generation it was issued under.
type Request struct {
	Generation uint64
	Scope      Scope
	Limit      int
	Offset     int
}

// NewState returns an empty feed for scope. A non-positive limit falls back to
// DefaultLimit.
func NewState(scope Scope, limit int) State {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return State{Scope: scope, Limit: limit}
}

// Busy reports whether a page fetch is in flight.
func (s State) Busy() bool {
	return s.FetchingBuilds || s.FetchingMore
}

// HasMore reports whether further pages may exist.
func (s State) HasMore() bool {
	return !s.Exhausted
}

// Index returns the position of the build with the given id, or -1.
func (s State) Index(buildID uint64) int {
	for i := range s.Builds {
		if s.Builds[i].ID == buildID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy that shares no memory with s.
func (s State) Clone() State {
	out := s
	if s.Builds != nil {
		out.Builds = make([]models.Build, len(s.Builds))
		for i, b := range s.Builds {
			out.Builds[i] = b.Clone()
		}
	}
	return out
}

// Reset empties the feed for a new scope and starts a new generation, so any
// fetch issued before the reset can be recognised as stale.
func Reset(s State, scope Scope) State {
	return State{
		Scope:      scope,
		Limit:      s.Limit,
		Generation: s.Generation + 1,
	}
}

// BeginFetch marks the next page as in flight and returns its request. It
// refuses while another fetch is in flight or once pagination is exhausted.
func BeginFetch(s State) (State, Request, bool) {
	if s.Busy() || s.Exhausted {
		return s, Request{}, false
	}

	if s.Offset == 0 {
		s.FetchingBuilds = true
	} else {
		s.FetchingMore = true
	}

	return s, Request{
		Generation: s.Generation,
		Scope:      s.Scope,
		Limit:      s.Limit,
		Offset:     s.Offset,
	}, true
}

// stale reports whether req was issued for a state other than s.
func stale(s State, req Request) bool {
	return req.Generation != s.Generation || req.Offset != s.Offset
}

// CompletePage appends a fetched page. Builds already present are skipped,
// the offset advances by the number of items returned and a short page marks
// the feed exhausted. Results of a stale request leave s untouched and the
// second return value is false.
func CompletePage(s State, req Request, page []models.Build) (State, bool) {
	if stale(s, req) {
		return s, false
	}

	s.FetchingBuilds = false
	s.FetchingMore = false
	s.Error = ""

	builds := make([]models.Build, len(s.Builds), len(s.Builds)+len(page))
	copy(builds, s.Builds)

	seen := make(map[uint64]struct{}, len(builds)+len(page))
	for _, b := range builds {
		seen[b.ID] = struct{}{}
	}
	for _, b := range page {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		builds = append(builds, b.Clone())
	}

	s.Builds = builds
	s.Offset += len(page)
	if len(page) < s.Limit {
		s.Exhausted = true
	}

	return s, true
}

// FailPage records a failed fetch. Entries are kept, the busy flags clear and
// nothing is retried.
func FailPage(s State, req Request, err error) (State, bool) {
	if stale(s, req) {
		return s, false
	}

	s.FetchingBuilds = false
	s.FetchingMore = false
	if err != nil {
		s.Error = err.Error()
	}

	return s, true
}
