package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/fundverse/backend/internal/models"
)

// errAlreadyTerminal marks a contribution that reached a terminal state
// between planning and execution; settlement skips it.
var errAlreadyTerminal = errors.New("already terminal")

type settleAction struct {
	id      uint64
	release bool
}

// SettleCampaign drives every non-terminal contribution of a resolved
// campaign to Released or Refunded. A succeeded campaign releases Held and
// refunds Pending contributions; a failed one refunds both. Contributions
// that could not be moved are listed in the report and the returned error is
// a *SettlementPartialFailure. Re-running only touches what is left.
func (e *Engine) SettleCampaign(ctx context.Context, campaignID uint64) (models.SettlementReport, error) {
	start := e.now()
	campaign, err := e.campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return models.SettlementReport{}, err
	}
	if !campaign.Resolved() {
		return models.SettlementReport{}, fmt.Errorf("%w: campaign %d is %s", ErrCampaignNotResolved, campaignID, campaign.Resolution)
	}
	success := campaign.Resolution == models.ResolutionSucceeded
	report := models.SettlementReport{
		CampaignID: campaignID,
		Outcome:    models.OutcomeFailure,
		Released:   []uint64{},
		Refunded:   []uint64{},
		Failed:     []uint64{},
	}
	if success {
		report.Outcome = models.OutcomeSuccess
	}

	defer e.deliver(ctx)
	st, unlock, err := e.exclusive(ctx, campaignID)
	if err != nil {
		return models.SettlementReport{}, err
	}
	defer unlock()
	st.markSettled()

	cs, err := e.store.ListByCampaign(ctx, campaignID)
	if err != nil {
		return models.SettlementReport{}, fmt.Errorf("list contributions: %w", err)
	}
	plan := planSettlement(cs, success)
	if len(plan) == 0 {
		e.logger.Info("campaign already settled", "campaign_id", campaignID)
		return report, nil
	}

	workers := e.cfg.SettlementWorkers
	if workers > len(plan) {
		workers = len(plan)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return models.SettlementReport{}, fmt.Errorf("settlement pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(a settleAction, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil && a.release:
			report.Released = append(report.Released, a.id)
		case err == nil:
			report.Refunded = append(report.Refunded, a.id)
		case errors.Is(err, errAlreadyTerminal):
		default:
			report.Failed = append(report.Failed, a.id)
			if report.Errors == nil {
				report.Errors = make(map[uint64]string)
			}
			report.Errors[a.id] = err.Error()
		}
	}

	for _, a := range plan {
		a := a
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			record(a, e.settleOne(ctx, st, a))
		})
		if submitErr != nil {
			wg.Done()
			record(a, fmt.Errorf("schedule settlement: %w", submitErr))
		}
	}
	wg.Wait()

	sortIDs(report.Released)
	sortIDs(report.Refunded)
	sortIDs(report.Failed)

	e.metrics.SettlementRuns.With("outcome", report.Outcome).Add(1)
	e.metrics.SettledContributions.With("result", "released").Add(float64(len(report.Released)))
	e.metrics.SettledContributions.With("result", "refunded").Add(float64(len(report.Refunded)))
	e.metrics.SettledContributions.With("result", "failed").Add(float64(len(report.Failed)))
	e.metrics.SettlementDuration.Observe(e.now().Sub(start).Seconds())

	e.logger.Info("campaign settled",
		"campaign_id", campaignID, "outcome", report.Outcome,
		"released", len(report.Released), "refunded", len(report.Refunded), "failed", len(report.Failed),
		"duration", e.now().Sub(start))

	if len(report.Failed) > 0 {
		return report, &SettlementPartialFailure{CampaignID: campaignID, FailedIDs: append([]uint64(nil), report.Failed...)}
	}
	return report, nil
}

func planSettlement(cs []models.Contribution, success bool) []settleAction {
	var plan []settleAction
	for _, c := range cs {
		switch c.Status {
		case models.StatusHeld:
			plan = append(plan, settleAction{id: c.ID, release: success})
		case models.StatusPending:
			plan = append(plan, settleAction{id: c.ID})
		}
	}
	return plan
}

// settleOne re-reads the contribution under its lock; the campaign section is
// already held exclusively.
func (e *Engine) settleOne(ctx context.Context, st *campaignState, a settleAction) error {
	return e.locked(ctx, st, a.id, func(st *campaignState, c *models.Contribution) error {
		if c.Status.Terminal() {
			return errAlreadyTerminal
		}
		if a.release {
			return e.release(ctx, st, c)
		}
		return e.refund(ctx, st, c)
	})
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
