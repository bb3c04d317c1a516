package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int64
	err   error
}

func (s *countingSweeper) Sweep(context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestScheduler_SweepRunsPeriodically(t *testing.T) {
	sw := &countingSweeper{}
	s, err := New(sw, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for sw.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweep ran %d times, want at least 2", sw.calls.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestScheduler_SweepFailureDoesNotStopSchedule(t *testing.T) {
	sw := &countingSweeper{err: errors.New("db unavailable")}
	s, err := New(sw, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.After(4 * time.Second)
	for sw.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweep ran %d times after errors, want at least 2", sw.calls.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s, err := New(&countingSweeper{}, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.AddJob("not a cron spec", func() {}); err == nil {
		t.Error("expected an error for a malformed schedule spec")
	}
}
