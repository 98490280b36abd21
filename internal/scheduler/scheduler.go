// Package scheduler runs named background tasks on cron schedules using
// the gocron library.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TaskFunc is one schedulable unit of work.
type TaskFunc func(ctx context.Context) error

// Job pairs a task with its cron expression (six fields, seconds first).
type Job struct {
	Schedule string
	Task     TaskFunc
}

// Scheduler manages scheduled tasks. Tasks run under a scheduler-owned
// context that Stop cancels, so shutdown interrupts in-flight work.
type Scheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]Job
	log       *slog.Logger
	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
}

// New creates a scheduler for the given named jobs.
func New(jobs map[string]Job, log *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      jobs,
		log:       log.With("component", "scheduler"),
	}, nil
}

// Start registers all jobs and starts the scheduler's ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	scheduled := 0
	for name, job := range s.jobs {
		if job.Schedule == "" {
			s.log.Warn("Job has empty schedule, skipping", "job", name)
			continue
		}

		_, err := s.scheduler.NewJob(
			gocron.CronJob(job.Schedule, true),
			gocron.NewTask(func(ctx context.Context, name string, task TaskFunc) {
				s.log.Info("Running scheduled job", "job", name)
				start := time.Now()
				if taskErr := task(ctx); taskErr != nil {
					s.log.Error("Scheduled job failed", "job", name, "error", taskErr)
				}
				s.log.Info("Finished scheduled job", "job", name, "duration", time.Since(start))
			}, runCtx, name, job.Task),
			gocron.WithName(name),
		)
		if err != nil {
			s.log.Error("Failed to schedule job", "job", name, "schedule", job.Schedule, "error", err)
			continue
		}

		s.log.Info("Scheduled job", "job", name, "schedule", job.Schedule)
		scheduled++
	}

	s.scheduler.Start()
	s.running = true
	s.log.Info("Scheduler started", "jobs_scheduled", scheduled)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	// Cancel before Shutdown so waiting for running jobs cannot block on a
	// task that only finishes when its context does.
	s.cancel()
	err := s.scheduler.Shutdown()
	s.running = false
	if err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}
