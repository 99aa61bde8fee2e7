package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Inserter is the part of *river.Client the queue needs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Queue enqueues escrow jobs on River.
type Queue struct {
	client Inserter
}

func NewQueue(client Inserter) *Queue {
	return &Queue{client: client}
}

// EnqueueSettlement queues a settlement run and returns its job id. A request
// for a campaign that already has one queued returns the existing job.
func (q *Queue) EnqueueSettlement(ctx context.Context, campaignID uint64) (int64, error) {
	res, err := q.client.Insert(ctx, SettleCampaignArgs{CampaignID: campaignID}, nil)
	if err != nil {
		return 0, fmt.Errorf("enqueue settlement: %w", err)
	}
	return res.Job.ID, nil
}

// EnqueuePoll queues confirmation polling for a submitted contribution.
func (q *Queue) EnqueuePoll(ctx context.Context, contributionID uint64) (int64, error) {
	res, err := q.client.Insert(ctx, PollConfirmationArgs{ContributionID: contributionID}, nil)
	if err != nil {
		return 0, fmt.Errorf("enqueue poll: %w", err)
	}
	return res.Job.ID, nil
}

// Register adds the escrow workers to workers.
func Register(workers *river.Workers, settle *SettleCampaignWorker, poll *PollConfirmationWorker) {
	river.AddWorker(workers, settle)
	river.AddWorker(workers, poll)
}
