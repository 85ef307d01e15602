package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error for an invalid expression")
	}
}

func TestSchedulerAddInterval(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddInterval(10*time.Minute, func() {}); err != nil {
		t.Errorf("Expected no error adding interval job, got %v", err)
	}
	if err := s.AddInterval(100*time.Millisecond, func() {}); err == nil {
		t.Error("Expected sub-second interval to be rejected")
	}
}
