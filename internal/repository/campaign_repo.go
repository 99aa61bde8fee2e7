package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
)

// CampaignRepo is the escrow engine's read model of campaign lifecycle
// state, kept in sync by the campaign service through PutCampaign.
type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

var _ escrow.CampaignService = (*CampaignRepo)(nil)

func (r *CampaignRepo) Campaign(ctx context.Context, id uint64) (models.Campaign, error) {
	var c models.Campaign
	var creator pgtype.UUID
	var goal pgtype.Numeric
	var deadline pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, `
		SELECT id, creator, goal, deadline, resolution FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &creator, &goal, &deadline, &c.Resolution)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Campaign{}, escrow.ErrCampaignNotFound
	}
	if err != nil {
		return models.Campaign{}, err
	}
	if creator.Valid {
		c.Creator = creator.Bytes
	}
	if deadline.Valid {
		c.Deadline = deadline.Time
	}
	if c.Goal, err = amount(goal); err != nil {
		return models.Campaign{}, fmt.Errorf("campaign %d goal: %w", id, err)
	}
	return c, nil
}

// PutCampaign inserts or replaces the campaign's lifecycle fields. A decided
// resolution is never overwritten with a different one.
func (r *CampaignRepo) PutCampaign(ctx context.Context, c models.Campaign) error {
	if c.Resolution == "" {
		c.Resolution = models.ResolutionOpen
	}
	creator := pgtype.UUID{Bytes: c.Creator, Valid: c.Creator != [16]byte{}}
	deadline := pgtype.Timestamptz{Time: c.Deadline, Valid: !c.Deadline.IsZero()}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO campaigns (id, creator, goal, deadline, resolution, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET creator = EXCLUDED.creator, goal = EXCLUDED.goal, deadline = EXCLUDED.deadline,
		    resolution = EXCLUDED.resolution, updated_at = now()
		WHERE campaigns.resolution = 'open' OR campaigns.resolution = EXCLUDED.resolution
	`, c.ID, creator, numeric(c.Goal), deadline, c.Resolution)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: campaign %d", escrow.ErrResolutionFinal, c.ID)
	}
	return nil
}
