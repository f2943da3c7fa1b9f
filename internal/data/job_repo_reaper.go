package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/pgxutil"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// Advisory lock namespace for reaper operations. Two-arg pg_try_advisory_xact_lock(major, minor)
// keeps reaper locks apart from queue locks.
const (
	advisoryLockReaperMajor       = 1000
	advisoryLockReaperFailStale   = 1
	advisoryLockReaperDeleteTerms = 2
)

const staleProcessingError = `{"kind":"internal","message":"worker lease lost"}`

// withReaperLock runs fn in a transaction only when this instance wins the advisory lock.
func (r *JobRepo) withReaperLock(ctx context.Context, minor int, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	var affected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}
			n, err := fn(tx)
			affected = n
			return err
		},
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// FailStaleProcessing marks processing jobs whose last update is older than maxAge as failed.
func (r *JobRepo) FailStaleProcessing(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperFailStale, func(tx *sql.Tx) (int64, error) {
		now := r.timeProvider.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    error = $3::jsonb,
			    completed_at = $1,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'processing'
				  AND updated_at < $2
				ORDER BY updated_at
				LIMIT $4
			)
		`, now, now.Add(-maxAge), staleProcessingError, batchSize)
		if err != nil {
			return 0, fmt.Errorf("fail stale processing jobs: %w", err)
		}
		return res.RowsAffected()
	})
}

// DeleteOldJobs deletes terminal jobs with the given status completed before params.OlderThan.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params model.ReapParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("refusing to reap non-terminal status %s", params.Status)
	}
	return r.withReaperLock(ctx, advisoryLockReaperDeleteTerms, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND completed_at < $2
				ORDER BY completed_at
				LIMIT $3
			)
		`, params.Status, params.OlderThan.UTC(), params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("delete old jobs: %w", err)
		}
		return res.RowsAffected()
	})
}
