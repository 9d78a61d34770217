package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations. Two-arg
// pg_try_advisory_xact_lock(major, minor) keeps concurrent reaper instances
// from stepping on each other.
const (
	advisoryLockReaperMajor  = 1000
	advisoryLockReaperDelete = 1 // minor key for DeleteOldJobs
)

// DeleteOldJobs deletes terminal jobs older than MaxAge, at most BatchSize
// per call so a large backlog never holds locks for long.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("only terminal jobs can be reaped, got status %q", params.Status)
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 500
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, advisoryLockReaperDelete,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			cutoffTime := currentTime.Add(-params.MaxAge)

			res, err := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = $1
					  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $2))
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $3
				)
			`, params.Status, cutoffTime.UTC(), params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
