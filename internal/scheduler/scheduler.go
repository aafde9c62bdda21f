// Package scheduler runs background tasks on fixed intervals using the
// gocron library.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Task is a background task invocation. Errors are logged by the wrapper;
// a failing iteration never unschedules the task.
type Task func(ctx context.Context) error

// Scheduler manages scheduled tasks using the gocron library.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a new scheduler instance using gocron.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
	}, nil
}

// AddEvery schedules a task at a fixed interval, with an immediate first
// run.
func (s *Scheduler) AddEvery(name string, every time.Duration, task Task) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(
			func(ctx context.Context, taskName string) {
				s.logger.Debug("Running scheduled task", "task_name", taskName)
				startTime := time.Now()
				if taskErr := task(ctx); taskErr != nil {
					s.logger.Error("Scheduled task failed", "task_name", taskName, "error", taskErr)
				}
				s.logger.Debug("Finished scheduled task", "task_name", taskName, "duration", time.Since(startTime))
			},
			context.Background(),
			name,
		),
		gocron.WithName(name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule task %q: %w", name, err)
	}
	s.logger.Info("Scheduled task", "task_name", name, "every", every)
	return nil
}

// Start begins the scheduler's internal ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started")
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs to
// complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}
	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}
	s.running = false
	return err
}
