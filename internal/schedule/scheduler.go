// Package schedule triggers pipeline runs on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// jobTimeout bounds a single scheduled invocation so a hung run cannot
// overlap the next slot indefinitely.
const jobTimeout = 30 * time.Minute

// Scheduler manages periodic pipeline runs.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]cron.EntryID
}

// New creates a Scheduler in the given timezone (e.g. "UTC",
// "Europe/Lisbon").
func New(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		jobs: make(map[string]cron.EntryID),
	}, nil
}

// AddJob registers a job under a standard 5-field cron expression,
// e.g. "0 9 * * *" for 9:00 daily.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	entryID, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		slog.Info("scheduled job starting", "job", name)
		start := time.Now()
		if err := job(ctx); err != nil {
			slog.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		slog.Info("scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%s): %w", name, expr, err)
	}
	s.jobs[name] = entryID
	slog.Info("job scheduled", "job", name, "schedule", expr)
	return nil
}

// RemoveJob unregisters a job by name.
func (s *Scheduler) RemoveJob(name string) {
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
	}
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
