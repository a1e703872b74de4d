// Package scheduler runs the vault cycle tick and the maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler manages background jobs. Runs of the same job never overlap:
// a tick still in progress when the next one fires causes that one to be
// skipped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	jobs   []string
	log    zerolog.Logger
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Strs("jobs", s.Jobs()).Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return. Swaps already
// in flight finish on their own detached context.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule. Schedules accept six fields
// (with seconds) or descriptors:
//   - "0 */5 * * * *" every 5 minutes
//   - "@every 1m"
//   - "@daily"
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(job); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, job.Name(), err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job.Name())
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately on the scheduler's context
func (s *Scheduler) RunNow(job Job) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	if err := job.Run(s.ctx); err != nil {
		return err
	}
	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	return nil
}

// Jobs returns the registered job names
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.jobs...)
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
