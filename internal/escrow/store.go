package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/models"
)

// Store persists contributions. Implementations must assign monotonic ids on
// Insert, never delete rows, and apply status changes with compare-and-set
// semantics so that two writers racing on one contribution cannot both win.
type Store interface {
	Insert(ctx context.Context, c *models.Contribution) error
	Get(ctx context.Context, id uint64) (*models.Contribution, error)
	ListByCampaign(ctx context.Context, campaignID uint64) ([]models.Contribution, error)
	ListByBacker(ctx context.Context, backer uuid.UUID) ([]models.Contribution, error)
	ListByMethod(ctx context.Context, method models.Method) ([]models.Contribution, error)

	// CompareAndSetStatus moves id from -> to, stamping at as the confirmation
	// time (first escrow decision) and, for terminal states, the settlement
	// time. Returns ErrStaleState if the stored status is not from.
	CompareAndSetStatus(ctx context.Context, id uint64, from, to models.EscrowStatus, at time.Time) error

	// SetRailReference stores ref on a Pending contribution without a
	// reference. Returns ErrStaleState otherwise.
	SetRailReference(ctx context.Context, id uint64, ref string) error

	// RecordRailFailure stores the last rail failure reason on a Pending
	// contribution, bumps its failure counter and clears its rail reference
	// so the contribution can be submitted again.
	RecordRailFailure(ctx context.Context, id uint64, reason string) error

	// ListAwaitingConfirmation returns Pending contributions that carry a rail
	// reference, oldest first.
	ListAwaitingConfirmation(ctx context.Context, limit int) ([]models.Contribution, error)

	// OpenCampaigns returns ids of campaigns that still have Pending or Held contributions.
	OpenCampaigns(ctx context.Context) ([]uint64, error)
}

// CampaignService is the campaign lifecycle collaborator.
// Campaign returns ErrCampaignNotFound for unknown ids.
type CampaignService interface {
	Campaign(ctx context.Context, id uint64) (models.Campaign, error)
}

// BackerDirectory is the identity collaborator.
type BackerDirectory interface {
	IsRegistered(ctx context.Context, id uuid.UUID) (bool, error)
}

// Reverser undoes a rail's money movement for a contribution being refunded.
// Rails without a reverse operation are simply not registered.
type Reverser interface {
	Reverse(ctx context.Context, c models.Contribution) error
}

// Notifier is told about every applied status change, after it is stored.
type Notifier interface {
	ContributionTransitioned(ctx context.Context, c models.Contribution, from models.EscrowStatus)
}

// CampaignLocker provides a cross-process campaign lock on top of the
// in-process one. Shared holders exclude exclusive holders only.
type CampaignLocker interface {
	LockShared(ctx context.Context, campaignID uint64) (unlock func(), err error)
	LockExclusive(ctx context.Context, campaignID uint64) (unlock func(), err error)
}
