package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/rails"
)

type PollConfirmationArgs struct {
	ContributionID uint64 `json:"contribution_id"`
}

func (PollConfirmationArgs) Kind() string { return "poll_confirmation" }

func (PollConfirmationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 25,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRetryable,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	}
}

// Poller polls one contribution's rail and applies the answer.
type Poller interface {
	PollOnce(ctx context.Context, id uint64) (rails.Confirmation, error)
}

// PollConfirmationWorker follows a submitted contribution until its rail
// answers. Pending answers snooze the job instead of burning attempts.
type PollConfirmationWorker struct {
	river.WorkerDefaults[PollConfirmationArgs]
	poller   Poller
	interval time.Duration
	logger   *slog.Logger
}

func NewPollConfirmationWorker(p Poller, interval time.Duration, logger *slog.Logger) *PollConfirmationWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollConfirmationWorker{poller: p, interval: interval, logger: logger}
}

func (w *PollConfirmationWorker) Work(ctx context.Context, job *river.Job[PollConfirmationArgs]) error {
	id := job.Args.ContributionID
	conf, err := w.poller.PollOnce(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, rails.ErrNothingToPoll),
		errors.Is(err, escrow.ErrContributionNotFound),
		errors.Is(err, rails.ErrNoAdapter):
		return river.JobCancel(err)
	case errors.Is(err, escrow.ErrInvalidStateTransition):
		// Someone else moved the contribution on; nothing left to follow.
		w.logger.Info("poll job superseded", "contribution_id", id, "error", err)
		return nil
	default:
		return fmt.Errorf("poll contribution %d: %w", id, err)
	}

	if conf.State == rails.StillPending {
		return river.JobSnooze(w.interval)
	}
	w.logger.Info("poll job done", "job_id", job.ID, "contribution_id", id, "state", conf.State)
	return nil
}
