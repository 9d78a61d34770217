package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/waiterbildung/course-advisor/internal/data/pgxutil"
	"github.com/waiterbildung/course-advisor/internal/domain/job"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

const defaultMaxRetries = 3

// SQL used by ReserveNext to atomically reserve the next job. Ready jobs are
// taken highest priority first, FIFO within a priority level.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE type = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY priority DESC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $3),
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + jobColumns

// Create enqueues a new job. Requests failing validation are rejected before
// anything hits the queue.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var created *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			created, insertErr = r.insertJobInTx(ctx, tx, req)
			return insertErr
		},
	}); txErr != nil {
		return nil, txErr
	}
	return created, nil
}

// CreateInTx inserts a job within an existing SQL transaction so enqueueing
// can commit atomically with the caller's own writes.
func (r *JobRepo) CreateInTx(ctx context.Context, sqlTx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query, args := r.buildInsertQuery(req)
	row := sqlTx.QueryRowContext(ctx, query, args...)

	created, scanErr := scanJobFromRow(row)
	if scanErr != nil {
		return nil, fmt.Errorf("collect job: %w", scanErr)
	}

	channel := "job_added_" + string(req.Type)
	if _, notifyErr := sqlTx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, created.ID); notifyErr != nil {
		return nil, fmt.Errorf("send job notification: %w", notifyErr)
	}
	return created, nil
}

func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	query, args := r.buildInsertQuery(req)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	created, collectErr := collectJobFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}

	channel := "job_added_" + string(req.Type)
	if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, created.ID); execErr != nil {
		return nil, fmt.Errorf("send job notification: %w", execErr)
	}
	return created, nil
}

func (r *JobRepo) buildInsertQuery(req *model.CreateJobRequest) (string, []any) {
	query := `
      INSERT INTO jobs(type, status, priority, payload, scheduled_at, max_retries)
      VALUES ($1,'pending',$2,$3,$4,$5)
      RETURNING ` + jobColumns

	var scheduledAt time.Time
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	} else {
		scheduledAt = r.timeProvider.Now().UTC()
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	args := []any{
		req.Type,
		req.Priority,
		[]byte(req.Payload),
		scheduledAt,
		maxRetries,
	}
	return query, args
}

// Advisory lock namespace for requeueExpired to avoid cross-job-type contention.
const advisoryLockRequeueMajor int64 = 1001

func advisoryLockRequeueMinor(jobType model.JobType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobType))
	hashValue := h.Sum32()
	if hashValue > uint32(math.MaxInt32) {
		hashValue &= uint32(math.MaxInt32)
	}
	return int64(hashValue)
}

// RequeueExpired returns running jobs with expired leases to pending so
// another worker can pick them up. A worker death never loses a job.
func (r *JobRepo) RequeueExpired(ctx context.Context, jobType model.JobType, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			minorKey := advisoryLockRequeueMinor(jobType)
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockRequeueMajor, minorKey,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', lease_expires_at = NULL, updated_at = $3
          WHERE id IN (
            SELECT id FROM jobs
            WHERE type = $1 AND status = 'running'
              AND lease_expires_at IS NOT NULL
              AND lease_expires_at < $2
            ORDER BY lease_expires_at
            LIMIT $4
          )
        `, jobType, currentTime.UTC(), currentTime.UTC(), limit)
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
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

// ReserveNext reserves the next available job of the given type for processing.
func (r *JobRepo) ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}

	if _, err := r.RequeueExpired(ctx, jobType, 0); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var reserved *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				jobType,
				currentTime.UTC(),
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			reserved = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return reserved, nil
}

// Heartbeat refreshes the lease on a running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Complete marks a running job as completed successfully.
func (r *JobRepo) Complete(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, currentTime, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail records a failed attempt. Jobs with retries remaining go back to
// pending with an exponentially growing delay; exhausted jobs land in the
// terminal failed status and terminal=true is returned so the caller can
// raise a failure notification.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	var terminal bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var retryCount, maxRetries int
			err := tx.QueryRowContext(ctx, `
				SELECT retry_count, max_retries FROM jobs
				WHERE id = $1 AND status = 'running'
				FOR UPDATE
			`, id).Scan(&retryCount, &maxRetries)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			if err != nil {
				return fmt.Errorf("lock job for fail: %w", err)
			}

			currentTime := r.timeProvider.Now()
			exhausted := retryCount+1 >= maxRetries
			retryAt := currentTime.Add(job.Backoff(retryCount, r.cfg.RetryBackoffBase, r.cfg.RetryBackoffCap))

			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET
					last_error = $2,
					retry_count = retry_count + 1,
					status = CASE WHEN $3 THEN 'failed' ELSE 'pending' END,
					completed_at = CASE WHEN $3 THEN $4::timestamptz ELSE NULL END,
					lease_expires_at = NULL,
					scheduled_at = CASE WHEN $3 THEN scheduled_at ELSE $5::timestamptz END,
					updated_at = $4
				WHERE id = $1
			`, id, errMsg, exhausted, currentTime.UTC(), retryAt.UTC()); err != nil {
				return fmt.Errorf("fail job: %w", err)
			}

			terminal = exhausted
			return nil
		},
	})
	if errors.Is(err, ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if r.logger != nil && terminal {
		r.logger.WarnContext(ctx, "job exhausted retries",
			"job_id", id,
			"error", errMsg,
		)
	}
	return terminal, nil
}

// Discard moves a running job straight to failed with no retry. Used when
// the work itself is permanently invalid.
func (r *JobRepo) Discard(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $2,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'running'
	`, id, errMsg, currentTime)
	if err != nil {
		return false, fmt.Errorf("discard job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("discard rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Stats returns counts of jobs of the given type in each state. Retrying is
// the subset of pending jobs that already failed at least once.
func (r *JobRepo) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending' AND retry_count = 0) AS pending,
    count(*) FILTER (WHERE status = 'pending' AND retry_count > 0) AS retrying,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM jobs
  WHERE type = $1
  `, jobType).Scan(
		&s.Pending,
		&s.Retrying,
		&s.Running,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new
// jobs of the given type are available.
func (r *JobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	channel := "job_added_" + string(jobType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// Cancel removes a pending job from the queue before any worker picks it up.
// Running and terminal jobs are refused with ErrJobNotCancellable; unknown
// ids return ErrJobNotFound.
func (r *JobRepo) Cancel(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel rows affected: %w", err)
	}
	if rowsAffected > 0 {
		if r.logger != nil {
			r.logger.InfoContext(ctx, "job cancelled", "job_id", id)
		}
		return nil
	}

	// Nothing deleted: distinguish a missing job from one already picked up
	// or finished.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrJobNotCancellable
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var found *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		found, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return found, nil
}
