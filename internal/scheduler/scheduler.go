// Package scheduler runs recurring jobs on durable interval schedules. Each
// job gets its own goroutine, so at most one run of a given job is ever in
// flight, and the next fire time is persisted so restarts resume the cadence
// instead of resetting it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskforge/internal/bus"
	"taskforge/internal/domain"
	"taskforge/internal/events"
	"taskforge/internal/repo"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	Repo repo.Repo
	Bus  *bus.Bus
	Now  func() time.Time

	jobs []Job
}

func New(r repo.Repo, b *bus.Bus) *Scheduler {
	return &Scheduler{Repo: r, Bus: b, Now: time.Now}
}

func (s *Scheduler) Register(j Job) {
	s.jobs = append(s.jobs, j)
}

// Run registers the durable schedule rows and drives every job until the
// context is cancelled. It blocks until all job goroutines have drained.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, j := range s.jobs {
		trigger := fmt.Sprintf("interval:%s", j.Interval)
		if _, err := s.Repo.UpsertScheduleJob(ctx, j.Name, trigger); err != nil {
			return fmt.Errorf("register job %s: %w", j.Name, err)
		}
	}

	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.runJob(ctx, j)
		}(j)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	for {
		wait := s.untilNextRun(ctx, j)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		if ctx.Err() != nil {
			return
		}

		row, err := s.Repo.GetScheduleJob(ctx, j.Name)
		if err == nil && !row.Enabled {
			s.advance(ctx, j)
			continue
		}

		s.execute(ctx, j)
		s.advance(ctx, j)
	}
}

// untilNextRun honors a persisted fire time. A missing or past next_run_at
// means the job is due immediately.
func (s *Scheduler) untilNextRun(ctx context.Context, j Job) time.Duration {
	row, err := s.Repo.GetScheduleJob(ctx, j.Name)
	if err != nil || row.NextRunAt == nil {
		return 0
	}
	next, err := time.Parse(time.RFC3339, *row.NextRunAt)
	if err != nil {
		return 0
	}
	return next.Sub(s.Now())
}

func (s *Scheduler) advance(ctx context.Context, j Job) {
	next := s.Now().Add(j.Interval).UTC().Format(time.RFC3339)
	if err := s.Repo.SetScheduleNextRun(ctx, j.Name, next); err != nil {
		slog.Error("persist job schedule failed", "job", j.Name, "err", err)
	}
}

// execute runs the job body. Errors and panics are turned into events so the
// loop keeps running no matter what the job does.
func (s *Scheduler) execute(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled job panicked", "job", j.Name, "panic", r)
			s.Bus.Publish(domain.Event{
				Type:     events.TypeSchedulerJobError,
				Category: events.CategoryScheduler,
				Message:  fmt.Sprintf("Job %s panicked", j.Name),
				Payload:  map[string]any{"job": j.Name, "panic": fmt.Sprint(r)},
			})
		}
	}()

	if err := j.Run(ctx); err != nil {
		slog.Error("scheduled job failed", "job", j.Name, "err", err)
		s.Bus.Publish(domain.Event{
			Type:     events.TypeSchedulerJobError,
			Category: events.CategoryScheduler,
			Message:  fmt.Sprintf("Job %s failed", j.Name),
			Payload:  map[string]any{"job": j.Name, "error": err.Error()},
		})
		return
	}
	s.Bus.Publish(domain.Event{
		Type:     events.TypeSchedulerJobRun,
		Category: events.CategoryScheduler,
		Message:  fmt.Sprintf("Job %s ran", j.Name),
		Payload:  map[string]any{"job": j.Name},
	})
}
