package app

import (
	"sync"

	"github.com/narvanalabs/build-feed/internal/feed"
)

type session struct {
	userID string
	feed   *feed.Synchronizer
}

// Sessions tracks the synchronizer behind every open feed stream so
// "load more" requests can reach it.
type Sessions struct {
	mu sync.RWMutex
	m  map[string]session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]session)}
}

// Add registers f under id for userID.
func (s *Sessions) Add(id, userID string, f *feed.Synchronizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = session{userID: userID, feed: f}
}

// Get returns the synchronizer for id if userID owns it.
func (s *Sessions) Get(id, userID string) (*feed.Synchronizer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.m[id]
	if !ok || sess.userID != userID {
		return nil, false
	}
	return sess.feed, true
}

// Remove forgets id. It does not tear the synchronizer down.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// TeardownAll tears down and forgets every session.
func (s *Sessions) TeardownAll() int {
	s.mu.Lock()
	all := s.m
	s.m = make(map[string]session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.feed.Teardown()
	}
	return len(all)
}
