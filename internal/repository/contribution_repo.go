package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
)

type ContributionRepo struct {
	pool *pgxpool.Pool
}

func NewContributionRepo(pool *pgxpool.Pool) *ContributionRepo {
	return &ContributionRepo{pool: pool}
}

var _ escrow.Store = (*ContributionRepo)(nil)

const contributionColumns = `id, campaign_id, backer, amount, method, method_label, status,
	created_at, confirmed_at, settled_at, rail_reference, last_rail_error, rail_failures`

func (r *ContributionRepo) Insert(ctx context.Context, c *models.Contribution) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO contributions (campaign_id, backer, amount, method, method_label, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, c.CampaignID, c.Backer, numeric(c.Amount), c.Method, c.MethodLabel, c.Status, c.CreatedAt).Scan(&c.ID)
}

func (r *ContributionRepo) Get(ctx context.Context, id uint64) (*models.Contribution, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE id = $1`, id)
	c, err := scanContribution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escrow.ErrContributionNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContributionRepo) ListByCampaign(ctx context.Context, campaignID uint64) ([]models.Contribution, error) {
	return r.list(ctx, `SELECT `+contributionColumns+` FROM contributions
		WHERE campaign_id = $1 ORDER BY created_at, id`, campaignID)
}

func (r *ContributionRepo) ListByBacker(ctx context.Context, backer uuid.UUID) ([]models.Contribution, error) {
	return r.list(ctx, `SELECT `+contributionColumns+` FROM contributions
		WHERE backer = $1 ORDER BY created_at, id`, backer)
}

// CompareAndSetStatus is a single conditional UPDATE; the row lock Postgres
// takes makes concurrent writers serialize on it.
func (r *ContributionRepo) ListByMethod(ctx context.Context, method models.Method) ([]models.Contribution, error) {
	return r.list(ctx, `SELECT `+contributionColumns+` FROM contributions
		WHERE method = $1 ORDER BY created_at, id`, string(method))
}

func (r *ContributionRepo) CompareAndSetStatus(ctx context.Context, id uint64, from, to models.EscrowStatus, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contributions
		SET status = $3,
		    confirmed_at = COALESCE(confirmed_at, $4),
		    settled_at = CASE WHEN $3 IN ('released', 'refunded') THEN $4 ELSE settled_at END
		WHERE id = $1 AND status = $2
	`, id, from, to, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

func (r *ContributionRepo) SetRailReference(ctx context.Context, id uint64, ref string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contributions SET rail_reference = $2
		WHERE id = $1 AND status = 'pending' AND rail_reference = ''
	`, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

func (r *ContributionRepo) RecordRailFailure(ctx context.Context, id uint64, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contributions
		SET last_rail_error = $2, rail_failures = rail_failures + 1, rail_reference = ''
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

func (r *ContributionRepo) ListAwaitingConfirmation(ctx context.Context, limit int) ([]models.Contribution, error) {
	return r.list(ctx, `SELECT `+contributionColumns+` FROM contributions
		WHERE status = 'pending' AND rail_reference <> ''
		ORDER BY created_at, id
		LIMIT NULLIF($1, 0)`, max(limit, 0))
}

func (r *ContributionRepo) OpenCampaigns(ctx context.Context) ([]uint64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT campaign_id FROM contributions
		WHERE status IN ('pending', 'held')
		ORDER BY campaign_id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uint64])
}

func (r *ContributionRepo) list(ctx context.Context, query string, args ...any) ([]models.Contribution, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Contribution{}
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

func (r *ContributionRepo) missOrStale(ctx context.Context, id uint64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contributions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return escrow.ErrContributionNotFound
	}
	return escrow.ErrStaleState
}

func scanContribution(row pgx.Row) (*models.Contribution, error) {
	var c models.Contribution
	var amt pgtype.Numeric
	err := row.Scan(&c.ID, &c.CampaignID, &c.Backer, &amt, &c.Method, &c.MethodLabel, &c.Status,
		&c.CreatedAt, &c.ConfirmedAt, &c.SettledAt, &c.RailReference, &c.LastRailError, &c.RailFailures)
	if err != nil {
		return nil, err
	}
	if c.Amount, err = amount(amt); err != nil {
		return nil, fmt.Errorf("contribution %d: %w", c.ID, err)
	}
	return &c, nil
}
