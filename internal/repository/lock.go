package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LockRepository implements the per-knowledge-base reconciliation lease on a
// plain table. All expiry decisions use the database clock so workers with
// skewed clocks cannot steal a live lease.
type LockRepository struct {
	db dbtx
}

func NewLockRepository(pool *pgxpool.Pool) *LockRepository {
	return &LockRepository{db: pool}
}

// Acquire takes the lease if no row exists or the existing row has expired.
// The conditional upsert and the expiry check happen in one statement, so two
// workers racing for the same knowledge base cannot both win.
func (r *LockRepository) Acquire(ctx context.Context, kbID, workerID string, ttl time.Duration) (bool, error) {
	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO reconciliation_locks (kb_id, worker_id, acquired_at, expires_at)
		 VALUES ($1, $2, now(), now() + $3)
		 ON CONFLICT (kb_id) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		 WHERE reconciliation_locks.expires_at < now()`,
		kbID, workerID, ttl,
	)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

// Release drops the lease only if workerID still holds it. A worker that lost
// its lease to TTL takeover must not delete the new holder's row.
func (r *LockRepository) Release(ctx context.Context, kbID, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM reconciliation_locks WHERE kb_id = $1 AND worker_id = $2`,
		kbID, workerID,
	)
	return err
}
