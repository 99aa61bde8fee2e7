package escrow

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/fundverse/backend/internal/models"
)

// EscrowSummary returns the campaign's per-status totals. A single process
// serves them from its cache; with a CampaignLocker they are folded from the
// store inside the shared section, since other processes move contributions
// this cache never sees.
func (e *Engine) EscrowSummary(ctx context.Context, campaignID uint64) (models.EscrowSummary, error) {
	if e.locker != nil {
		_, unlock, err := e.shared(ctx, campaignID)
		if err != nil {
			return models.EscrowSummary{}, err
		}
		defer unlock()
		cs, err := e.store.ListByCampaign(ctx, campaignID)
		if err != nil {
			return models.EscrowSummary{}, err
		}
		sum, _, err := foldSummary(campaignID, cs)
		return sum, err
	}
	st := e.state(campaignID)
	if !st.isLoaded() {
		_, unlock, err := e.exclusive(ctx, campaignID)
		if err != nil {
			return models.EscrowSummary{}, err
		}
		unlock()
	}
	return st.snapshot(), nil
}

// ReconcileSummary refolds the campaign from the store and replaces the
// cache. It reports whether the cache had drifted from the store.
func (e *Engine) ReconcileSummary(ctx context.Context, campaignID uint64) (models.EscrowSummary, bool, error) {
	st, unlock, err := e.exclusive(ctx, campaignID)
	if err != nil {
		return models.EscrowSummary{}, false, err
	}
	defer unlock()

	cs, err := e.store.ListByCampaign(ctx, campaignID)
	if err != nil {
		return models.EscrowSummary{}, false, err
	}
	fresh, committed, err := foldSummary(campaignID, cs)
	if err != nil {
		return models.EscrowSummary{}, false, err
	}
	cached := st.snapshot()
	drift := cached != fresh
	if drift {
		e.metrics.SummaryDrift.Add(1)
		e.logger.Warn("escrow summary drift repaired",
			"campaign_id", campaignID, "cached", cached, "stored", fresh)
	}
	st.load(fresh, committed)
	return fresh, drift, nil
}

// UnifiedFunding sums Held and Released amounts per rail. Raw rail units are
// kept; Normalized is only filled for rails with a configured exponent.
func (e *Engine) UnifiedFunding(ctx context.Context, campaignID uint64) (models.UnifiedFunding, error) {
	campaign, err := e.campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return models.UnifiedFunding{}, err
	}
	cs, err := e.store.ListByCampaign(ctx, campaignID)
	if err != nil {
		return models.UnifiedFunding{}, err
	}
	uf, err := foldFunding(campaignID, cs)
	if err != nil {
		return models.UnifiedFunding{}, err
	}
	uf.TotalGoal = campaign.Goal
	if len(e.cfg.UnitExponents) > 0 {
		uf.Normalized = &models.NormalizedAmount{
			Native:      e.normalize(models.RailNative, uf.NativeRaised),
			Traditional: e.normalize(models.RailTraditional, uf.TraditionalRaised),
			Equity:      e.normalize(models.RailEquity, uf.EquityRaised),
		}
	}
	return uf, nil
}

func foldFunding(campaignID uint64, cs []models.Contribution) (models.UnifiedFunding, error) {
	uf := models.UnifiedFunding{CampaignID: campaignID}
	for i := range cs {
		c := &cs[i]
		if c.Status != models.StatusHeld && c.Status != models.StatusReleased {
			continue
		}
		var target *uint64
		switch c.Rail() {
		case models.RailNative:
			target = &uf.NativeRaised
		case models.RailTraditional:
			target = &uf.TraditionalRaised
		case models.RailEquity:
			target = &uf.EquityRaised
		default:
			continue
		}
		var err error
		if *target, err = checkedAdd(*target, c.Amount); err != nil {
			return models.UnifiedFunding{}, err
		}
	}
	total, err := checkedAdd(uf.NativeRaised, uf.TraditionalRaised)
	if err != nil {
		return models.UnifiedFunding{}, err
	}
	if uf.TotalRaised, err = checkedAdd(total, uf.EquityRaised); err != nil {
		return models.UnifiedFunding{}, err
	}
	return uf, nil
}

func (e *Engine) normalize(rail models.Rail, raw uint64) string {
	exp, ok := e.cfg.UnitExponents[rail]
	if !ok {
		return ""
	}
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -exp)
	return d.StringFixed(exp)
}
