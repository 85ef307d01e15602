// Package session holds the per-actor transient state shared by all flows:
// the bounded TTL-evicted session store, the sliding-window rate limiter and
// the ephemeral message tracker.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Default bounds for the session store.
const (
	DefaultTTL      = time.Hour
	DefaultCapacity = 1000
)

// NoExclude is passed to EvictExpired/EnforceCapacity when no actor needs
// protection from the sweep.
const NoExclude int64 = 0

type entry struct {
	data       map[string]string
	createdAt  time.Time
	accessedAt time.Time
}

// Store is the conversation state store: a mutex-guarded map of per-actor
// field values with access timestamps. Flow handlers never see the raw map;
// all access goes through Begin/Get/Set/Touch/Delete.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*entry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithCapacity overrides the session capacity cap.
func WithCapacity(capacity int) StoreOption {
	return func(s *Store) { s.capacity = capacity }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store with the given options.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[int64]*entry),
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("Session store created", "ttl", s.ttl, "capacity", s.capacity)
	return s
}

// Begin clears any prior entry for the actor and creates an empty one.
// Preserve lists field values carried over from the old session (the photo
// reference survives re-initialization).
func (s *Store) Begin(actor int64, preserve ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make(map[string]string)
	if old, ok := s.sessions[actor]; ok {
		for _, key := range preserve {
			if v, ok := old.data[key]; ok {
				kept[key] = v
			}
		}
	}
	now := s.now()
	s.sessions[actor] = &entry{data: kept, createdAt: now, accessedAt: now}
	slog.Debug("Session begun", "actor", actor, "preserved", len(kept))
}

// Exists reports whether the actor has a session.
func (s *Store) Exists(actor int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[actor]
	return ok
}

// Get returns a session field value; ok is false when the actor has no
// session or the field is unset.
func (s *Store) Get(actor int64, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[actor]
	if !ok {
		return "", false
	}
	v, ok := e.data[key]
	return v, ok
}

// Set stores a session field value, creating the session if absent.
func (s *Store) Set(actor int64, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[actor]
	if !ok {
		now := s.now()
		e = &entry{data: make(map[string]string), createdAt: now, accessedAt: now}
		s.sessions[actor] = e
	}
	e.data[key] = value
	e.accessedAt = s.now()
}

// SetIfEmpty stores a value only when the field is currently unset or empty.
// Used by the forwarded-message merge, which never overwrites collected data.
func (s *Store) SetIfEmpty(actor int64, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[actor]
	if !ok {
		now := s.now()
		e = &entry{data: make(map[string]string), createdAt: now, accessedAt: now}
		s.sessions[actor] = e
	}
	if e.data[key] == "" {
		e.data[key] = value
	}
	e.accessedAt = s.now()
}

// Unset removes a single field from the actor's session.
func (s *Store) Unset(actor int64, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[actor]; ok {
		delete(e.data, key)
		e.accessedAt = s.now()
	}
}

// Values returns a copy of the actor's field values.
func (s *Store) Values(actor int64) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[actor]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}
	return out
}

// Touch refreshes the actor's access timestamp. Handlers call this before
// triggering a cleanup that excludes the actor, so the sweep can never evict
// the session about to be written.
func (s *Store) Touch(actor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[actor]; ok {
		e.accessedAt = s.now()
	}
}

// Delete removes the actor's session entirely.
func (s *Store) Delete(actor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, actor)
	slog.Debug("Session deleted", "actor", actor)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictExpired removes sessions older than the TTL, never touching the
// excluded actor. Returns the number of evicted sessions.
func (s *Store) EvictExpired(exclude int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for actor, e := range s.sessions {
		if actor == exclude {
			continue
		}
		if e.accessedAt.Before(cutoff) {
			delete(s.sessions, actor)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("Session store evicted expired sessions", "evicted", evicted, "remaining", len(s.sessions))
	}
	return evicted
}

// EnforceCapacity evicts oldest-accessed sessions while over the capacity
// cap, never touching the excluded actor. Returns the number evicted.
func (s *Store) EnforceCapacity(exclude int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for len(s.sessions) > s.capacity {
		var oldest int64
		var oldestAt time.Time
		found := false
		for actor, e := range s.sessions {
			if actor == exclude {
				continue
			}
			if !found || e.accessedAt.Before(oldestAt) {
				oldest, oldestAt, found = actor, e.accessedAt, true
			}
		}
		if !found {
			break
		}
		delete(s.sessions, oldest)
		evicted++
	}
	if evicted > 0 {
		slog.Debug("Session store enforced capacity", "evicted", evicted, "remaining", len(s.sessions))
	}
	return evicted
}
