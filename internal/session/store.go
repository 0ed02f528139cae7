package session

import (
	"sort"
	"time"
)

// Store is the in-memory registry of joined sessions keyed by connection id.
// It is not safe for concurrent use.
type Store struct {
	sessions map[string]Session
	now      func() time.Time
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Join registers id under name. The boolean is true when id was not joined
// before; a repeat join keeps the original JoinedAt and replaces the name.
func (s *Store) Join(id, name string) (Session, bool) {
	if existing, ok := s.sessions[id]; ok {
		existing.DisplayName = name
		s.sessions[id] = existing
		return existing, false
	}
	sess := Session{ID: id, DisplayName: name, JoinedAt: s.now()}
	s.sessions[id] = sess
	return sess, true
}

// Leave removes id and returns the departed session, if any.
func (s *Store) Leave(id string) (Session, bool) {
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return sess, ok
}

// Get looks up a joined session.
func (s *Store) Get(id string) (Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// Len returns the number of joined sessions.
func (s *Store) Len() int {
	return len(s.sessions)
}

// List returns every session ordered by join time, then id.
func (s *Store) List() []Session {
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Clear drops every session.
func (s *Store) Clear() {
	s.sessions = make(map[string]Session)
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
