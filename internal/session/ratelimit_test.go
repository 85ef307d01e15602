package session

import (
	"testing"
	"time"
)

func TestRateLimiterAdmitsUnderLimit(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewRateLimiter(WithRateLimit(3), WithRateWindow(time.Minute), WithRateClock(clock.now))

	for i := 0; i < 3; i++ {
		if ok, _ := r.Allow(1); !ok {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
}

func TestRateLimiterRejectsOverLimitWithWaitHint(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewRateLimiter(WithRateLimit(30), WithRateWindow(time.Minute), WithRateClock(clock.now))

	for i := 0; i < 30; i++ {
		r.Allow(1)
		clock.advance(time.Second)
	}
	ok, wait := r.Allow(1)
	if ok {
		t.Fatal("31st rapid request should be rejected")
	}
	// Oldest timestamp is 30s old: wait = 60s - 30s + 1s.
	if want := 31 * time.Second; wait != want {
		t.Errorf("wait hint = %v, want %v", wait, want)
	}
}

func TestRateLimiterAdmitsAfterOldestAgesOut(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewRateLimiter(WithRateLimit(2), WithRateWindow(time.Minute), WithRateClock(clock.now))

	r.Allow(1)
	r.Allow(1)
	if ok, _ := r.Allow(1); ok {
		t.Fatal("over-limit request should be rejected")
	}
	clock.advance(time.Minute + time.Second)
	if ok, _ := r.Allow(1); !ok {
		t.Error("request should be admitted once the window slides past the oldest timestamp")
	}
}

func TestRateLimiterIsolatesActors(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewRateLimiter(WithRateLimit(1), WithRateWindow(time.Minute), WithRateClock(clock.now))

	r.Allow(1)
	if ok, _ := r.Allow(2); !ok {
		t.Error("one actor's window must not affect another's")
	}
}

func TestRateLimiterSweepRemovesEmptyWindows(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewRateLimiter(WithRateLimit(5), WithRateWindow(time.Minute), WithRateClock(clock.now))

	r.Allow(1)
	r.Allow(2)
	clock.advance(2 * time.Minute)
	r.Allow(2)

	if removed := r.Sweep(); removed != 1 {
		t.Errorf("expected 1 idle actor removed, got %d", removed)
	}
}
