package session

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(clock *fakeClock, opts ...StoreOption) *Store {
	opts = append([]StoreOption{WithClock(clock.now)}, opts...)
	return NewStore(opts...)
}

func TestStoreBeginClearsPriorEntry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock)

	s.Set(1, "fullname", "Ivan Ivanov")
	s.Begin(1)
	if _, ok := s.Get(1, "fullname"); ok {
		t.Error("Begin should clear prior field values")
	}
	if !s.Exists(1) {
		t.Error("Begin should create an empty session")
	}
}

func TestStoreBeginPreservesListedFields(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock)

	s.Set(1, "photo_file_id", "file123")
	s.Set(1, "fullname", "Ivan")
	s.Begin(1, "photo_file_id")

	if v, ok := s.Get(1, "photo_file_id"); !ok || v != "file123" {
		t.Errorf("photo reference should survive Begin, got (%q, %v)", v, ok)
	}
	if _, ok := s.Get(1, "fullname"); ok {
		t.Error("unlisted fields should not survive Begin")
	}
}

func TestStoreSetIfEmptyNeverOverwrites(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock)

	s.Set(1, "fullname", "Ivan")
	s.SetIfEmpty(1, "fullname", "Other")
	s.SetIfEmpty(1, "telegram_id", "12345")

	if v, _ := s.Get(1, "fullname"); v != "Ivan" {
		t.Errorf("SetIfEmpty overwrote filled field: %q", v)
	}
	if v, _ := s.Get(1, "telegram_id"); v != "12345" {
		t.Errorf("SetIfEmpty did not fill empty field: %q", v)
	}
}

func TestStoreEvictExpired(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock, WithTTL(time.Hour))

	s.Set(1, "k", "v")
	s.Set(2, "k", "v")
	clock.advance(time.Hour + time.Minute)
	s.Set(3, "k", "v")

	if evicted := s.EvictExpired(NoExclude); evicted != 2 {
		t.Errorf("expected 2 evictions, got %d", evicted)
	}
	if !s.Exists(3) {
		t.Error("fresh session should survive")
	}
}

func TestStoreEvictExpiredExcludesServedActor(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock, WithTTL(time.Hour))

	s.Set(1, "k", "v")
	clock.advance(2 * time.Hour)

	if evicted := s.EvictExpired(1); evicted != 0 {
		t.Errorf("excluded actor was evicted (%d)", evicted)
	}
	if !s.Exists(1) {
		t.Error("excluded actor must keep its session")
	}
}

func TestStoreTouchBeforeCleanupProtectsSession(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock, WithTTL(time.Hour))

	s.Set(1, "k", "v")
	clock.advance(2 * time.Hour)

	// The race-protection contract: touch the served actor, then sweep with
	// it excluded.
	s.Touch(1)
	s.EvictExpired(1)
	if !s.Exists(1) {
		t.Error("touched session was evicted")
	}

	// After the actor is done, a later sweep may evict normally.
	clock.advance(2 * time.Hour)
	s.EvictExpired(NoExclude)
	if s.Exists(1) {
		t.Error("stale session should be evicted once unprotected")
	}
}

func TestStoreEnforceCapacityEvictsOldestAccessed(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock, WithCapacity(2))

	s.Set(1, "k", "v")
	clock.advance(time.Minute)
	s.Set(2, "k", "v")
	clock.advance(time.Minute)
	s.Set(3, "k", "v")

	if evicted := s.EnforceCapacity(NoExclude); evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	if s.Exists(1) {
		t.Error("oldest-accessed session should be evicted first")
	}
	if !s.Exists(2) || !s.Exists(3) {
		t.Error("newer sessions should survive capacity enforcement")
	}
}

func TestStoreEnforceCapacityExcludesServedActor(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock, WithCapacity(1))

	s.Set(1, "k", "v")
	clock.advance(time.Minute)
	s.Set(2, "k", "v")

	s.EnforceCapacity(1)
	if !s.Exists(1) {
		t.Error("excluded actor must survive capacity enforcement even when oldest")
	}
}

func TestStoreValuesReturnsCopy(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock)

	s.Set(1, "fullname", "Ivan")
	values := s.Values(1)
	values["fullname"] = "mutated"
	if v, _ := s.Get(1, "fullname"); v != "Ivan" {
		t.Error("Values must return a copy, not the live map")
	}
}
