package rails_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
	"github.com/fundverse/backend/internal/rails/native"
)

type fakeAdapter struct {
	rail models.Rail

	mu        sync.Mutex
	submits   int
	ref       string
	submitErr error
	conf      rails.Confirmation
	pollErr   error
}

func (a *fakeAdapter) Rail() models.Rail { return a.rail }

func (a *fakeAdapter) Submit(_ context.Context, c models.Contribution, _ json.RawMessage) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits++
	if a.submitErr != nil {
		return "", a.submitErr
	}
	return a.ref, nil
}

func (a *fakeAdapter) Poll(context.Context, models.Contribution) (rails.Confirmation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conf, a.pollErr
}

type harness struct {
	engine  *escrow.Engine
	adapter *fakeAdapter
	rec     *rails.Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	campaigns := escrow.NewStaticCampaigns(models.Campaign{ID: 1, Goal: 1000, Resolution: models.ResolutionOpen})
	engine := escrow.NewEngine(escrow.NewMemoryStore(), campaigns, escrow.Config{}, escrow.WithLogger(logger))
	adapter := &fakeAdapter{rail: models.RailNative, ref: "7"}
	validator, err := rails.NewParamsValidator()
	require.NoError(t, err)
	rec := rails.NewReconciler(engine, rails.NewRegistry(adapter), validator, nil, logger)
	return &harness{engine: engine, adapter: adapter, rec: rec}
}

func (h *harness) record(t *testing.T, amount uint64) uint64 {
	t.Helper()
	id, err := h.engine.RecordContribution(context.Background(), escrow.NewContribution{
		CampaignID: 1,
		Backer:     uuid.New(),
		Amount:     amount,
		Method:     models.MethodNativeLedger,
	})
	require.NoError(t, err)
	return id
}

var nativeParams = json.RawMessage(`{"from_account":"acct-backer"}`)

// ---------------------------------------------------------------------------
// 1. Submit attaches the rail reference once
// ---------------------------------------------------------------------------

func TestSubmitAttachesReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)

	ref, err := h.rec.Submit(ctx, id, nativeParams)
	require.NoError(t, err)
	assert.Equal(t, "7", ref)

	again, err := h.rec.Submit(ctx, id, nativeParams)
	require.NoError(t, err)
	assert.Equal(t, "7", again)
	assert.Equal(t, 1, h.adapter.submits, "second submit must not reach the rail")

	c, err := h.engine.Contribution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "7", c.RailReference)
	assert.Equal(t, models.StatusPending, c.Status)
}

func TestSubmitRejectsInvalidParams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)

	_, err := h.rec.Submit(ctx, id, json.RawMessage(`{"from":"x"}`))
	require.ErrorIs(t, err, rails.ErrInvalidParams)
	assert.Zero(t, h.adapter.submits)

	c, _ := h.engine.Contribution(ctx, id)
	assert.Zero(t, c.RailFailures, "params errors are not rail failures")
}

func TestSubmitRecordsRailFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)
	h.adapter.submitErr = errors.New("ledger unreachable")

	_, err := h.rec.Submit(ctx, id, nativeParams)
	require.ErrorIs(t, err, escrow.ErrRailConfirmationFailed)

	c, _ := h.engine.Contribution(ctx, id)
	assert.Equal(t, 1, c.RailFailures)
	assert.Contains(t, c.LastRailError, "ledger unreachable")
	assert.Empty(t, c.RailReference)
}

func TestSubmitRequiresPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)
	require.NoError(t, h.engine.Refund(ctx, id))

	_, err := h.rec.Submit(ctx, id, nativeParams)
	require.ErrorIs(t, err, escrow.ErrInvalidStateTransition)
}

// slowLedger holds every InitiateTransfer until release is closed.
type slowLedger struct {
	entered chan struct{}
	release chan struct{}

	mu        sync.Mutex
	initiated int
}

func newSlowLedger() *slowLedger {
	return &slowLedger{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (l *slowLedger) InitiateTransfer(ctx context.Context, _ native.TransferRequest) (string, error) {
	l.mu.Lock()
	l.initiated++
	l.mu.Unlock()
	l.entered <- struct{}{}
	select {
	case <-l.release:
		return "tx-1", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *slowLedger) TransferStatus(context.Context, string) (native.TransferStatus, error) {
	return native.TransferStatus{State: native.LedgerPending}, nil
}

func (l *slowLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initiated
}

func TestConcurrentSubmitMovesMoneyOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	campaigns := escrow.NewStaticCampaigns(models.Campaign{ID: 1, Goal: 1000, Resolution: models.ResolutionOpen})
	engine := escrow.NewEngine(escrow.NewMemoryStore(), campaigns, escrow.Config{}, escrow.WithLogger(logger))
	ledger := newSlowLedger()
	adapter := native.NewAdapter(ledger, native.NewMemoryStore(), "escrow-main", logger)
	rec := rails.NewReconciler(engine, rails.NewRegistry(adapter), nil, nil, logger)
	ctx := context.Background()
	id, err := engine.RecordContribution(ctx, escrow.NewContribution{
		CampaignID: 1, Backer: uuid.New(), Amount: 100, Method: models.MethodNativeLedger,
	})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		refs [2]string
		errs [2]error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		refs[0], errs[0] = rec.Submit(ctx, id, nativeParams)
	}()
	<-ledger.entered
	go func() {
		defer wg.Done()
		refs[1], errs[1] = rec.Submit(ctx, id, nativeParams)
	}()
	time.Sleep(20 * time.Millisecond)
	close(ledger.release)
	wg.Wait()

	assert.Equal(t, 1, ledger.count(), "one contribution, one ledger transfer")
	c, err := engine.Contribution(ctx, id)
	require.NoError(t, err)
	for i := range errs {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], rails.ErrSubmitInProgress)
			continue
		}
		assert.Equal(t, c.RailReference, refs[i])
	}
	assert.NotEmpty(t, c.RailReference)
	assert.Zero(t, c.RailFailures)
}

func TestSubmitAcrossReconcilersSharesTransfer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	campaigns := escrow.NewStaticCampaigns(models.Campaign{ID: 1, Goal: 1000, Resolution: models.ResolutionOpen})
	engine := escrow.NewEngine(escrow.NewMemoryStore(), campaigns, escrow.Config{}, escrow.WithLogger(logger))
	ledger := newSlowLedger()
	transfers := native.NewMemoryStore()
	first := rails.NewReconciler(engine, rails.NewRegistry(native.NewAdapter(ledger, transfers, "escrow-main", logger)), nil, nil, logger)
	second := rails.NewReconciler(engine, rails.NewRegistry(native.NewAdapter(ledger, transfers, "escrow-main", logger)), nil, nil, logger)
	ctx := context.Background()
	id, err := engine.RecordContribution(ctx, escrow.NewContribution{
		CampaignID: 1, Backer: uuid.New(), Amount: 100, Method: models.MethodNativeLedger,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	var ref string
	go func() {
		var err error
		ref, err = first.Submit(ctx, id, nativeParams)
		done <- err
	}()
	<-ledger.entered

	_, err = second.Submit(ctx, id, nativeParams)
	require.ErrorIs(t, err, rails.ErrSubmitInProgress)

	close(ledger.release)
	require.NoError(t, <-done)

	again, err := second.Submit(ctx, id, nativeParams)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, 1, ledger.count())
	c, _ := engine.Contribution(ctx, id)
	assert.Zero(t, c.RailFailures, "an in-progress submit is not a rail failure")
}

// ---------------------------------------------------------------------------
// 2. PollOnce applies rail outcomes
// ---------------------------------------------------------------------------

func TestPollOnceConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)
	_, err := h.rec.Submit(ctx, id, nativeParams)
	require.NoError(t, err)

	h.adapter.conf = rails.Confirmation{State: rails.Confirmed, Amount: 50}
	conf, err := h.rec.PollOnce(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rails.Confirmed, conf.State)

	sum, err := h.engine.EscrowSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), sum.TotalHeld)
	assert.Zero(t, sum.TotalPending)

	_, err = h.rec.PollOnce(ctx, id)
	require.ErrorIs(t, err, rails.ErrNothingToPoll)
}

func TestPollOnceAmountMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)
	_, err := h.rec.Submit(ctx, id, nativeParams)
	require.NoError(t, err)

	h.adapter.conf = rails.Confirmation{State: rails.Confirmed, Amount: 49}
	_, err = h.rec.PollOnce(ctx, id)
	require.ErrorIs(t, err, escrow.ErrAmountMismatch)

	c, _ := h.engine.Contribution(ctx, id)
	assert.Equal(t, models.StatusPending, c.Status)
}

func TestPollOnceRecordsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)
	_, err := h.rec.Submit(ctx, id, nativeParams)
	require.NoError(t, err)

	h.adapter.conf = rails.Confirmation{State: rails.Failed, Reason: "insufficient funds"}
	conf, err := h.rec.PollOnce(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rails.Failed, conf.State)

	c, _ := h.engine.Contribution(ctx, id)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, "insufficient funds", c.LastRailError)
	assert.Empty(t, c.RailReference, "failed reference is cleared for resubmission")

	h.adapter.ref = "8"
	ref, err := h.rec.Submit(ctx, id, nativeParams)
	require.NoError(t, err)
	assert.Equal(t, "8", ref)
}

func TestPollOnceTransportError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.record(t, 50)
	_, err := h.rec.Submit(ctx, id, nativeParams)
	require.NoError(t, err)

	h.adapter.pollErr = io.ErrUnexpectedEOF
	_, err = h.rec.PollOnce(ctx, id)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	c, _ := h.engine.Contribution(ctx, id)
	assert.Zero(t, c.RailFailures)
	assert.Equal(t, "7", c.RailReference)
}

func TestPollOnceWithoutReference(t *testing.T) {
	h := newHarness(t)
	id := h.record(t, 50)

	_, err := h.rec.PollOnce(context.Background(), id)
	require.ErrorIs(t, err, rails.ErrNothingToPoll)
}

// ---------------------------------------------------------------------------
// 3. Sweep
// ---------------------------------------------------------------------------

func TestSweepCountsOutcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := h.record(t, 10)
		_, err := h.rec.Submit(ctx, id, nativeParams)
		require.NoError(t, err)
	}
	h.record(t, 10) // never submitted

	h.adapter.conf = rails.Confirmation{State: rails.Confirmed, Amount: 10}
	res, err := h.rec.Sweep(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, rails.SweepResult{Polled: 3, Confirmed: 3}, res)

	sum, _ := h.engine.EscrowSummary(ctx, 1)
	assert.Equal(t, uint64(30), sum.TotalHeld)
	assert.Equal(t, uint64(10), sum.TotalPending)
}

func TestRegistryUnknownRail(t *testing.T) {
	reg := rails.NewRegistry(&fakeAdapter{rail: models.RailNative})
	_, err := reg.For(models.MethodCardRail)
	require.ErrorIs(t, err, rails.ErrNoAdapter)

	a, err := reg.For(models.MethodNativeLedger)
	require.NoError(t, err)
	assert.Equal(t, models.RailNative, a.Rail())
	assert.Empty(t, reg.Reversers())
}
