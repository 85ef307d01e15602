// Package scheduler runs the background maintenance jobs: session eviction,
// rate-limiter sweeps and the liveness heartbeat.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Panics in jobs are
// recovered so a failing sweep cannot take the process down.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddInterval schedules a task on a fixed interval. Intervals under a second
// are rejected.
func (s *Scheduler) AddInterval(every time.Duration, task func()) error {
	if every < time.Second {
		return fmt.Errorf("interval %s is too short", every)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", every), task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
