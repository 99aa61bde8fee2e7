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
	"github.com/fundverse/backend/internal/models"
)

type SettleCampaignArgs struct {
	CampaignID uint64 `json:"campaign_id"`
}

func (SettleCampaignArgs) Kind() string { return "settle_campaign" }

// InsertOpts collapses duplicate settlement requests for a campaign while one
// is still queued or running.
func (SettleCampaignArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 10,
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

// Settler runs settlement for one campaign.
type Settler interface {
	SettleCampaign(ctx context.Context, campaignID uint64) (models.SettlementReport, error)
}

type SettleCampaignWorker struct {
	river.WorkerDefaults[SettleCampaignArgs]
	settler Settler
	logger  *slog.Logger
}

func NewSettleCampaignWorker(s Settler, logger *slog.Logger) *SettleCampaignWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettleCampaignWorker{settler: s, logger: logger}
}

func (w *SettleCampaignWorker) Timeout(*river.Job[SettleCampaignArgs]) time.Duration {
	return 5 * time.Minute
}

// Work settles the campaign. A partial failure is returned so River retries;
// settlement only touches what is left on each run. A campaign that is not
// resolved or does not exist cancels the job.
func (w *SettleCampaignWorker) Work(ctx context.Context, job *river.Job[SettleCampaignArgs]) error {
	id := job.Args.CampaignID
	report, err := w.settler.SettleCampaign(ctx, id)
	var partial *escrow.SettlementPartialFailure
	switch {
	case err == nil:
		w.logger.Info("settlement job done",
			"job_id", job.ID, "campaign_id", id, "outcome", report.Outcome,
			"released", len(report.Released), "refunded", len(report.Refunded))
		return nil
	case errors.Is(err, escrow.ErrCampaignNotResolved), errors.Is(err, escrow.ErrCampaignNotFound):
		w.logger.Warn("settlement job cancelled", "job_id", job.ID, "campaign_id", id, "error", err)
		return river.JobCancel(err)
	case errors.As(err, &partial):
		w.logger.Warn("settlement job partial", "job_id", job.ID, "campaign_id", id,
			"attempt", job.Attempt, "failed", partial.FailedIDs)
		return err
	default:
		return fmt.Errorf("settle campaign %d: %w", id, err)
	}
}
