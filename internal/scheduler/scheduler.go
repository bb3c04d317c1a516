// Package scheduler drives the periodic background jobs: escalation
// deadline sweeps and delivery stat rollups.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper advances every alert whose escalation deadline has passed.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type Scheduler struct {
	c       *cron.Cron
	sweeper Sweeper
}

// New builds a scheduler with the sweep job registered at the given
// interval. Job failures are logged and never stop the schedule.
func New(sweeper Sweeper, sweepInterval time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		c:       cron.New(cron.WithLocation(time.UTC)),
		sweeper: sweeper,
	}

	spec := fmt.Sprintf("@every %s", sweepInterval)
	if _, err := s.c.AddFunc(spec, s.runSweep); err != nil {
		return nil, fmt.Errorf("error scheduling sweep job: %w", err)
	}
	return s, nil
}

// AddJob registers an extra periodic job, for stat rollups and the like.
func (s *Scheduler) AddJob(spec string, job func()) error {
	if _, err := s.c.AddFunc(spec, job); err != nil {
		return fmt.Errorf("error scheduling job %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.sweeper.Sweep(ctx); err != nil {
		// Fail open: a broken cycle must not block the next one.
		slog.Error("escalation sweep failed", "error", err)
	}
}

func (s *Scheduler) Start() {
	s.c.Start()
	slog.Info("scheduler started", "jobs", len(s.c.Entries()))
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}
