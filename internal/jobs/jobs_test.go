package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/require"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSettler struct {
	calls  []uint64
	report models.SettlementReport
	err    error
}

func (f *fakeSettler) SettleCampaign(_ context.Context, id uint64) (models.SettlementReport, error) {
	f.calls = append(f.calls, id)
	return f.report, f.err
}

type fakePoller struct {
	conf rails.Confirmation
	err  error
}

func (f *fakePoller) PollOnce(context.Context, uint64) (rails.Confirmation, error) {
	return f.conf, f.err
}

type fakeInserter struct {
	args []river.JobArgs
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.args))}}, nil
}

func settleJob(id uint64) *river.Job[SettleCampaignArgs] {
	return &river.Job[SettleCampaignArgs]{JobRow: &rivertype.JobRow{ID: 1, Attempt: 1}, Args: SettleCampaignArgs{CampaignID: id}}
}

func pollJob(id uint64) *river.Job[PollConfirmationArgs] {
	return &river.Job[PollConfirmationArgs]{JobRow: &rivertype.JobRow{ID: 2, Attempt: 1}, Args: PollConfirmationArgs{ContributionID: id}}
}

// ---------------------------------------------------------------------------
// 1. Settlement worker
// ---------------------------------------------------------------------------

func TestSettleWorkerSuccess(t *testing.T) {
	s := &fakeSettler{report: models.SettlementReport{CampaignID: 4, Outcome: models.OutcomeSuccess, Released: []uint64{1}}}
	w := NewSettleCampaignWorker(s, quiet)
	require.NoError(t, w.Work(context.Background(), settleJob(4)))
	require.Equal(t, []uint64{4}, s.calls)
	require.Equal(t, 5*time.Minute, w.Timeout(nil))
}

func TestSettleWorkerPartialFailureRetries(t *testing.T) {
	s := &fakeSettler{err: &escrow.SettlementPartialFailure{CampaignID: 4, FailedIDs: []uint64{9}}}
	err := NewSettleCampaignWorker(s, quiet).Work(context.Background(), settleJob(4))
	var partial *escrow.SettlementPartialFailure
	require.ErrorAs(t, err, &partial)
	require.Equal(t, []uint64{9}, partial.FailedIDs)
}

func TestSettleWorkerUnresolvedCancels(t *testing.T) {
	s := &fakeSettler{err: fmt.Errorf("%w: campaign 4 is open", escrow.ErrCampaignNotResolved)}
	err := NewSettleCampaignWorker(s, quiet).Work(context.Background(), settleJob(4))
	require.Error(t, err)
	require.Len(t, s.calls, 1)
}

func TestSettleWorkerStoreError(t *testing.T) {
	s := &fakeSettler{err: errors.New("db down")}
	err := NewSettleCampaignWorker(s, quiet).Work(context.Background(), settleJob(4))
	require.ErrorContains(t, err, "settle campaign 4")
}

// ---------------------------------------------------------------------------
// 2. Poll worker
// ---------------------------------------------------------------------------

func TestPollWorker(t *testing.T) {
	tests := []struct {
		name    string
		poller  *fakePoller
		wantErr bool
	}{
		{"confirmed", &fakePoller{conf: rails.Confirmation{State: rails.Confirmed, Amount: 10}}, false},
		{"failed", &fakePoller{conf: rails.Confirmation{State: rails.Failed, Reason: "declined"}}, false},
		{"pending snoozes", &fakePoller{conf: rails.Confirmation{State: rails.StillPending}}, true},
		{"nothing to poll cancels", &fakePoller{err: rails.ErrNothingToPoll}, true},
		{"superseded", &fakePoller{err: fmt.Errorf("%w: held -> held", escrow.ErrInvalidStateTransition)}, false},
		{"transport", &fakePoller{err: errors.New("timeout")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewPollConfirmationWorker(tt.poller, time.Second, quiet)
			err := w.Work(context.Background(), pollJob(3))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 3. Queue
// ---------------------------------------------------------------------------

func TestQueue(t *testing.T) {
	ins := &fakeInserter{}
	q := NewQueue(ins)
	ctx := context.Background()

	id, err := q.EnqueueSettlement(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
	id, err = q.EnqueuePoll(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, int64(2), id)

	require.Equal(t, SettleCampaignArgs{CampaignID: 5}, ins.args[0])
	require.Equal(t, PollConfirmationArgs{ContributionID: 8}, ins.args[1])
	require.Equal(t, "settle_campaign", ins.args[0].Kind())

	ins.err = errors.New("pool closed")
	_, err = q.EnqueueSettlement(ctx, 5)
	require.ErrorContains(t, err, "enqueue settlement")
}

func TestUniqueInsertOpts(t *testing.T) {
	opts := SettleCampaignArgs{}.InsertOpts()
	require.True(t, opts.UniqueOpts.ByArgs)
	require.Contains(t, opts.UniqueOpts.ByState, rivertype.JobStateRunning)
	require.True(t, PollConfirmationArgs{}.InsertOpts().UniqueOpts.ByArgs)
}
