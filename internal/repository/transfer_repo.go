package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails/native"
)

type TransferRepo struct {
	pool *pgxpool.Pool
}

func NewTransferRepo(pool *pgxpool.Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

var _ native.TransferStore = (*TransferRepo)(nil)

const transferColumns = `id, from_account, to_account, amount, status, direction, memo,
	external_ref, block_height, fail_reason, created_at, settled_at`

// Create inserts t. The partial unique index on (memo, direction) turns a
// second live transfer for the same memo into ErrTransferExists.
func (r *TransferRepo) Create(ctx context.Context, t *models.RailTransferRecord) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rail_transfers (from_account, to_account, amount, status, direction, memo, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, t.From, t.To, numeric(t.Amount), t.Status, t.Direction, t.Memo, t.ExternalRef, t.CreatedAt).Scan(&t.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return native.ErrTransferExists
	}
	return err
}

func (r *TransferRepo) Get(ctx context.Context, id uint64) (*models.RailTransferRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM rail_transfers WHERE id = $1`, id)
	t, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, native.ErrTransferNotFound
	}
	return t, err
}

func (r *TransferRepo) SetExternalRef(ctx context.Context, id uint64, ref string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE rail_transfers SET external_ref = $2 WHERE id = $1 AND status = 'pending'`, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrFinal(ctx, id)
	}
	return nil
}

func (r *TransferRepo) Finalize(ctx context.Context, id uint64, status string, blockHeight *uint64, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rail_transfers
		SET status = $2, block_height = $3, fail_reason = $4, settled_at = $5
		WHERE id = $1 AND status = 'pending'
	`, id, status, blockHeight, reason, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrFinal(ctx, id)
	}
	return nil
}

func (r *TransferRepo) ListByMemo(ctx context.Context, memo uint64) ([]models.RailTransferRecord, error) {
	return r.list(ctx, `SELECT `+transferColumns+` FROM rail_transfers WHERE memo = $1 ORDER BY id`, memo)
}

func (r *TransferRepo) ListByAccount(ctx context.Context, account string) ([]models.RailTransferRecord, error) {
	return r.list(ctx, `SELECT `+transferColumns+` FROM rail_transfers
		WHERE from_account = $1 OR to_account = $1 ORDER BY id`, account)
}

func (r *TransferRepo) ListPending(ctx context.Context, direction string, limit int) ([]models.RailTransferRecord, error) {
	return r.list(ctx, `SELECT `+transferColumns+` FROM rail_transfers
		WHERE status = 'pending' AND direction = $1 ORDER BY id LIMIT NULLIF($2, 0)`, direction, max(limit, 0))
}

func (r *TransferRepo) list(ctx context.Context, query string, args ...any) ([]models.RailTransferRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.RailTransferRecord{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

func (r *TransferRepo) missOrFinal(ctx context.Context, id uint64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rail_transfers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return native.ErrTransferNotFound
	}
	return native.ErrTransferFinal
}

func scanTransfer(row pgx.Row) (*models.RailTransferRecord, error) {
	var t models.RailTransferRecord
	var amt pgtype.Numeric
	err := row.Scan(&t.ID, &t.From, &t.To, &amt, &t.Status, &t.Direction, &t.Memo,
		&t.ExternalRef, &t.BlockHeight, &t.FailReason, &t.CreatedAt, &t.SettledAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = amount(amt); err != nil {
		return nil, fmt.Errorf("transfer %d: %w", t.ID, err)
	}
	return &t, nil
}
