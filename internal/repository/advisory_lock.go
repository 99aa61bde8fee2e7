package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundverse/backend/internal/escrow"
)

// advisoryClass namespaces campaign locks among other advisory lock users.
const advisoryClass int32 = 0x46560001 & 0x7fffffff

// AdvisoryLocker extends the engine's campaign lock across processes using
// Postgres session advisory locks. Each lock pins one connection of its pool
// until it is released, so the pool must not be the one the stores query
// through: a holder would otherwise wait on its own pinned connections.
// Use OpenLockPool.
type AdvisoryLocker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenLockPool opens the dedicated pool advisory locks are held on. size
// bounds how many campaign sections can be open at once in this process.
func OpenLockPool(ctx context.Context, databaseURL string, size int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse lock pool config: %w", err)
	}
	cfg.MaxConns = size
	cfg.MinConns = 0
	return pgxpool.NewWithConfig(ctx, cfg)
}

func NewAdvisoryLocker(pool *pgxpool.Pool, logger *slog.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, logger: logger}
}

var _ escrow.CampaignLocker = (*AdvisoryLocker)(nil)

func (l *AdvisoryLocker) LockShared(ctx context.Context, campaignID uint64) (func(), error) {
	return l.lock(ctx, campaignID, "pg_advisory_lock_shared", "pg_advisory_unlock_shared")
}

func (l *AdvisoryLocker) LockExclusive(ctx context.Context, campaignID uint64) (func(), error) {
	return l.lock(ctx, campaignID, "pg_advisory_lock", "pg_advisory_unlock")
}

func (l *AdvisoryLocker) lock(ctx context.Context, campaignID uint64, lockFn, unlockFn string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	key := lockKey(campaignID)
	if _, err := conn.Exec(ctx, `SELECT `+lockFn+`($1, $2)`, advisoryClass, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%s campaign %d: %w", lockFn, campaignID, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT `+unlockFn+`($1, $2)`, advisoryClass, key); err != nil {
			l.logger.Error("advisory unlock failed, dropping connection", "campaign_id", campaignID, "error", err)
			// Closing the session releases every lock it holds.
			conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

// lockKey folds a campaign id into the int4 second key of the two-key
// advisory lock functions.
func lockKey(campaignID uint64) int32 {
	return int32(uint32(campaignID ^ campaignID>>32))
}
