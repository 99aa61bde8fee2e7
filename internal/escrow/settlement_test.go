package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/fundverse/backend/internal/models"
)

// ---------------------------------------------------------------------------
// 1. Scenario C: successful campaign releases held funds
// ---------------------------------------------------------------------------

func TestSettleSuccessfulCampaign(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a := f.hold(t, 100, models.MethodNativeLedger)
	b := f.hold(t, 50, models.MethodNativeLedger)
	f.resolve(t, models.ResolutionSucceeded)

	report, err := f.engine.SettleCampaign(ctx, testCampaign)
	if err != nil {
		t.Fatalf("SettleCampaign: %v", err)
	}
	want := models.SettlementReport{
		CampaignID: testCampaign,
		Outcome:    models.OutcomeSuccess,
		Released:   []uint64{a, b},
		Refunded:   []uint64{},
		Failed:     []uint64{},
	}
	if diff := cmp.Diff(want, report, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	s := f.summary(t)
	if s.TotalReleased != 150 || s.TotalHeld != 0 {
		t.Errorf("summary: released=%d held=%d, want 150/0", s.TotalReleased, s.TotalHeld)
	}
}

func TestSettleSuccessRefundsUnconfirmed(t *testing.T) {
	f := newFixture(t, Config{})
	held := f.hold(t, 100, models.MethodCardRail)
	late := f.record(t, 30, models.MethodCardRail)
	f.resolve(t, models.ResolutionSucceeded)

	report, err := f.engine.SettleCampaign(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("SettleCampaign: %v", err)
	}
	if len(report.Released) != 1 || report.Released[0] != held {
		t.Errorf("released: got %v, want [%d]", report.Released, held)
	}
	if len(report.Refunded) != 1 || report.Refunded[0] != late {
		t.Errorf("refunded: got %v, want [%d]", report.Refunded, late)
	}
}

// ---------------------------------------------------------------------------
// 2. Scenario D: failed campaign refunds pending and held
// ---------------------------------------------------------------------------

func TestSettleFailedCampaign(t *testing.T) {
	rev := &fakeReverser{}
	f := newFixture(t, Config{}, WithReverser(models.RailNative, rev))
	pending := f.record(t, 30, models.MethodBankTransfer)
	held := f.hold(t, 100, models.MethodNativeLedger)
	f.resolve(t, models.ResolutionFailed)

	report, err := f.engine.SettleCampaign(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("SettleCampaign: %v", err)
	}
	if len(report.Released) != 0 {
		t.Errorf("failed campaign released %v", report.Released)
	}
	if diff := cmp.Diff([]uint64{pending, held}, report.Refunded); diff != "" {
		t.Errorf("refunded (-want +got):\n%s", diff)
	}
	if got := f.status(t, pending); got != models.StatusRefunded {
		t.Errorf("pending contribution: got %s, want refunded", got)
	}
	s := f.summary(t)
	if s.TotalRefunded != 130 || s.TotalReleased != 0 {
		t.Errorf("summary: %+v", s)
	}
}

// ---------------------------------------------------------------------------
// 3. Idempotence and partial failure
// ---------------------------------------------------------------------------

func TestSettleIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.hold(t, 100, models.MethodOtherLabeled)
	f.record(t, 20, models.MethodOtherLabeled)
	f.resolve(t, models.ResolutionSucceeded)

	if _, err := f.engine.SettleCampaign(ctx, testCampaign); err != nil {
		t.Fatalf("first SettleCampaign: %v", err)
	}
	before, _ := f.engine.ContributionsByCampaign(ctx, testCampaign)
	sumBefore := f.summary(t)

	report, err := f.engine.SettleCampaign(ctx, testCampaign)
	if err != nil {
		t.Fatalf("second SettleCampaign: %v", err)
	}
	if !report.Empty() {
		t.Errorf("second run not empty: %+v", report)
	}
	after, _ := f.engine.ContributionsByCampaign(ctx, testCampaign)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("second run mutated contributions (-before +after):\n%s", diff)
	}
	if f.summary(t) != sumBefore {
		t.Errorf("second run changed the summary")
	}
}

func TestSettlePartialFailureIsResumable(t *testing.T) {
	rev := &fakeReverser{}
	f := newFixture(t, Config{SettlementWorkers: 2}, WithReverser(models.RailNative, rev))
	ctx := context.Background()

	ok1 := f.hold(t, 10, models.MethodNativeLedger)
	bad := f.hold(t, 20, models.MethodNativeLedger)
	ok2 := f.hold(t, 30, models.MethodWalletRail)
	rev.setFail(bad, true)
	f.resolve(t, models.ResolutionFailed)

	report, err := f.engine.SettleCampaign(ctx, testCampaign)
	var partial *SettlementPartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("got %v, want *SettlementPartialFailure", err)
	}
	if diff := cmp.Diff([]uint64{bad}, partial.FailedIDs); diff != "" {
		t.Errorf("failed ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{ok1, ok2}, report.Refunded); diff != "" {
		t.Errorf("refunded (-want +got):\n%s", diff)
	}
	if report.Errors[bad] == "" {
		t.Errorf("no reason recorded for %d", bad)
	}
	if got := f.status(t, bad); got != models.StatusHeld {
		t.Errorf("failed contribution: got %s, want held", got)
	}

	rev.setFail(bad, false)
	report, err = f.engine.SettleCampaign(ctx, testCampaign)
	if err != nil {
		t.Fatalf("retry SettleCampaign: %v", err)
	}
	if diff := cmp.Diff([]uint64{bad}, report.Refunded); diff != "" {
		t.Errorf("retry refunded (-want +got):\n%s", diff)
	}

	cs, _ := f.engine.ContributionsByCampaign(ctx, testCampaign)
	for _, c := range cs {
		if !c.Status.Terminal() {
			t.Errorf("contribution %d left in %s", c.ID, c.Status)
		}
	}
}

func TestSettleRequiresResolution(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.hold(t, 10, models.MethodOtherLabeled)

	_, err := f.engine.SettleCampaign(context.Background(), testCampaign)
	if !errors.Is(err, ErrCampaignNotResolved) {
		t.Fatalf("got %v, want ErrCampaignNotResolved", err)
	}
	if got := f.status(t, id); got != models.StatusHeld {
		t.Errorf("status: got %s, want held", got)
	}
}

func TestSettleManyContributions(t *testing.T) {
	f := newFixture(t, Config{SettlementWorkers: 4})
	var total uint64
	for i := 1; i <= 200; i++ {
		amount := uint64(i)
		if i%3 == 0 {
			f.record(t, amount, models.MethodOtherLabeled)
		} else {
			f.hold(t, amount, models.MethodOtherLabeled)
		}
		total += amount
	}
	f.resolve(t, models.ResolutionSucceeded)

	report, err := f.engine.SettleCampaign(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("SettleCampaign: %v", err)
	}
	if len(report.Released)+len(report.Refunded) != 200 {
		t.Errorf("settled %d of 200", len(report.Released)+len(report.Refunded))
	}
	s := f.summary(t)
	if s.TotalReleased+s.TotalRefunded != total || s.TotalPending != 0 || s.TotalHeld != 0 {
		t.Errorf("summary after bulk settlement: %+v", s)
	}
}

// ---------------------------------------------------------------------------
// 4. A settled campaign stays settled
// ---------------------------------------------------------------------------

func TestResolutionIsFinalAfterSettlement(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a := f.hold(t, 100, models.MethodOtherLabeled)
	b := f.hold(t, 50, models.MethodOtherLabeled)
	f.resolve(t, models.ResolutionSucceeded)
	if _, err := f.engine.SettleCampaign(ctx, testCampaign); err != nil {
		t.Fatalf("SettleCampaign: %v", err)
	}

	c, _ := f.campaigns.Campaign(ctx, testCampaign)
	for _, res := range []string{models.ResolutionOpen, models.ResolutionFailed} {
		flip := c
		flip.Resolution = res
		if err := f.campaigns.PutCampaign(ctx, flip); !errors.Is(err, ErrResolutionFinal) {
			t.Errorf("PutCampaign %s: got %v, want ErrResolutionFinal", res, err)
		}
	}
	if err := f.campaigns.PutCampaign(ctx, c); err != nil {
		t.Errorf("PutCampaign with the same resolution: %v", err)
	}

	_, err := f.engine.RecordContribution(ctx, NewContribution{CampaignID: testCampaign, Amount: 30, Method: models.MethodOtherLabeled})
	if !errors.Is(err, ErrCampaignClosed) {
		t.Fatalf("record after settlement: got %v, want ErrCampaignClosed", err)
	}
	report, err := f.engine.SettleCampaign(ctx, testCampaign)
	if err != nil || len(report.Refunded) != 0 || len(report.Released) != 0 {
		t.Errorf("second settle: %+v, %v", report, err)
	}
	for _, id := range []uint64{a, b} {
		if got := f.status(t, id); got != models.StatusReleased {
			t.Errorf("contribution %d: got %s, want released", id, got)
		}
	}
}

// flipCampaigns lets a test change a resolution without the read model's guard.
type flipCampaigns struct {
	mu sync.Mutex
	c  models.Campaign
}

func (f *flipCampaigns) Campaign(_ context.Context, id uint64) (models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.c.ID {
		return models.Campaign{}, ErrCampaignNotFound
	}
	return f.c, nil
}

func (f *flipCampaigns) set(resolution string) {
	f.mu.Lock()
	f.c.Resolution = resolution
	f.mu.Unlock()
}

func TestRecordRefusedOnceSettlementRan(t *testing.T) {
	campaigns := &flipCampaigns{c: models.Campaign{ID: testCampaign, Resolution: models.ResolutionOpen}}
	e := NewEngine(NewMemoryStore(), campaigns, Config{}, WithClock(newStepClock().Now))
	ctx := context.Background()
	in := NewContribution{CampaignID: testCampaign, Amount: 10, Method: models.MethodOtherLabeled}
	if _, err := e.RecordContribution(ctx, in); err != nil {
		t.Fatalf("RecordContribution: %v", err)
	}

	campaigns.set(models.ResolutionFailed)
	if _, err := e.SettleCampaign(ctx, testCampaign); err != nil {
		t.Fatalf("SettleCampaign: %v", err)
	}
	campaigns.set(models.ResolutionOpen)
	if _, err := e.RecordContribution(ctx, in); !errors.Is(err, ErrCampaignClosed) {
		t.Errorf("record on a settled campaign: got %v, want ErrCampaignClosed", err)
	}
}
