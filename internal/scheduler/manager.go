package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// Job is a periodic escrow maintenance task.
type Job interface {
	Name() string
	Schedule() gocron.JobDefinition
	Execute(ctx context.Context)
}

// Manager runs Jobs on a gocron scheduler. A run that overlaps the previous
// one of the same job is skipped.
type Manager struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewManager(logger *slog.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{scheduler: s, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// Register adds jobs to the scheduler.
func (m *Manager) Register(jobs ...Job) error {
	for _, job := range jobs {
		job := job
		_, err := m.scheduler.NewJob(
			job.Schedule(),
			gocron.NewTask(func() { job.Execute(m.ctx) }),
			gocron.WithName(job.Name()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("register job %s: %w", job.Name(), err)
		}
		m.logger.Info("scheduled job registered", "job", job.Name())
	}
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then shuts it down.
func (m *Manager) Run(ctx context.Context) error {
	m.scheduler.Start()
	m.logger.Info("scheduler started", "jobs", len(m.scheduler.Jobs()))
	<-ctx.Done()
	return m.Stop()
}

// Stop cancels running jobs and shuts the scheduler down.
func (m *Manager) Stop() error {
	m.cancel()
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	m.logger.Info("scheduler stopped")
	return nil
}
