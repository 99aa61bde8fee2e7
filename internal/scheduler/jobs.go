package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
)

// ---------------------------------------------------------------------------
// Confirmation sweep
// ---------------------------------------------------------------------------

// Sweeper polls contributions that are waiting on their rail.
type Sweeper interface {
	Sweep(ctx context.Context, limit int) (rails.SweepResult, error)
}

type ConfirmationSweepJob struct {
	sweeper  Sweeper
	interval time.Duration
	limit    int
	logger   *slog.Logger
}

func NewConfirmationSweepJob(s Sweeper, interval time.Duration, limit int, logger *slog.Logger) *ConfirmationSweepJob {
	return &ConfirmationSweepJob{sweeper: s, interval: interval, limit: limit, logger: logger}
}

func (j *ConfirmationSweepJob) Name() string { return "confirmation_sweep" }

func (j *ConfirmationSweepJob) Schedule() gocron.JobDefinition { return gocron.DurationJob(j.interval) }

func (j *ConfirmationSweepJob) Execute(ctx context.Context) {
	res, err := j.sweeper.Sweep(ctx, j.limit)
	if err != nil {
		j.logger.Error("confirmation sweep", "error", err)
		return
	}
	if res.Polled > 0 {
		j.logger.Info("confirmation sweep",
			"polled", res.Polled, "confirmed", res.Confirmed, "failed", res.Failed,
			"pending", res.Pending, "errors", res.Errors)
	}
}

// ---------------------------------------------------------------------------
// Settlement sweep
// ---------------------------------------------------------------------------

// OpenLedger lists campaigns that still hold unsettled contributions.
type OpenLedger interface {
	OpenCampaigns(ctx context.Context) ([]uint64, error)
}

// SettleFunc settles or enqueues settlement for one campaign.
type SettleFunc func(ctx context.Context, campaignID uint64) error

// SettlementSweepJob settles every resolved campaign that still has Pending
// or Held contributions.
type SettlementSweepJob struct {
	ledger    OpenLedger
	campaigns escrow.CampaignService
	settle    SettleFunc
	interval  time.Duration
	logger    *slog.Logger
}

func NewSettlementSweepJob(ledger OpenLedger, campaigns escrow.CampaignService, settle SettleFunc, interval time.Duration, logger *slog.Logger) *SettlementSweepJob {
	return &SettlementSweepJob{ledger: ledger, campaigns: campaigns, settle: settle, interval: interval, logger: logger}
}

func (j *SettlementSweepJob) Name() string { return "settlement_sweep" }

func (j *SettlementSweepJob) Schedule() gocron.JobDefinition { return gocron.DurationJob(j.interval) }

func (j *SettlementSweepJob) Execute(ctx context.Context) {
	ids, err := j.ledger.OpenCampaigns(ctx)
	if err != nil {
		j.logger.Error("settlement sweep: list open campaigns", "error", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		c, err := j.campaigns.Campaign(ctx, id)
		if err != nil {
			j.logger.Warn("settlement sweep: campaign lookup", "campaign_id", id, "error", err)
			continue
		}
		if !c.Resolved() {
			continue
		}
		var partial *escrow.SettlementPartialFailure
		if err := j.settle(ctx, id); err != nil && !errors.As(err, &partial) {
			j.logger.Error("settlement sweep", "campaign_id", id, "error", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Reverse transfer sweep
// ---------------------------------------------------------------------------

// ReverseSweeper drives pending native refunds to a final state.
type ReverseSweeper interface {
	SweepReverse(ctx context.Context, limit int) (int, error)
}

type ReverseSweepJob struct {
	sweeper  ReverseSweeper
	interval time.Duration
	limit    int
	logger   *slog.Logger
}

func NewReverseSweepJob(s ReverseSweeper, interval time.Duration, limit int, logger *slog.Logger) *ReverseSweepJob {
	return &ReverseSweepJob{sweeper: s, interval: interval, limit: limit, logger: logger}
}

func (j *ReverseSweepJob) Name() string { return "reverse_transfer_sweep" }

func (j *ReverseSweepJob) Schedule() gocron.JobDefinition { return gocron.DurationJob(j.interval) }

func (j *ReverseSweepJob) Execute(ctx context.Context) {
	n, err := j.sweeper.SweepReverse(ctx, j.limit)
	if err != nil {
		j.logger.Error("reverse transfer sweep", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("reverse transfer sweep", "finalized", n)
	}
}

// ---------------------------------------------------------------------------
// Summary audit
// ---------------------------------------------------------------------------

// Auditor refolds a campaign's summary and reports whether the cache drifted.
type Auditor interface {
	OpenLedger
	ReconcileSummary(ctx context.Context, campaignID uint64) (models.EscrowSummary, bool, error)
}

type SummaryAuditJob struct {
	auditor  Auditor
	interval time.Duration
	logger   *slog.Logger
}

func NewSummaryAuditJob(a Auditor, interval time.Duration, logger *slog.Logger) *SummaryAuditJob {
	return &SummaryAuditJob{auditor: a, interval: interval, logger: logger}
}

func (j *SummaryAuditJob) Name() string { return "summary_audit" }

func (j *SummaryAuditJob) Schedule() gocron.JobDefinition { return gocron.DurationJob(j.interval) }

// Execute audits the open campaigns and returns nothing; drift is logged and
// already repaired by ReconcileSummary.
func (j *SummaryAuditJob) Execute(ctx context.Context) {
	ids, err := j.auditor.OpenCampaigns(ctx)
	if err != nil {
		j.logger.Error("summary audit: list open campaigns", "error", err)
		return
	}
	drifted := 0
	for _, id := range ids {
		sum, drift, err := j.auditor.ReconcileSummary(ctx, id)
		if err != nil {
			j.logger.Warn("summary audit", "campaign_id", id, "error", err)
			continue
		}
		if drift {
			drifted++
			j.logger.Error("escrow summary drift repaired", "campaign_id", id,
				"pending", sum.TotalPending, "held", sum.TotalHeld)
		}
	}
	j.logger.Debug("summary audit", "campaigns", len(ids), "drifted", drifted)
}
