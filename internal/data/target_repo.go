package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// TargetRepo provides database operations for scrape target management.
type TargetRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewTargetRepo creates a new TargetRepo instance with the given database connection.
func NewTargetRepo(db *sql.DB) *TargetRepo {
	return &TargetRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewTargetRepoWithTimeProvider creates a TargetRepo with a custom TimeProvider (useful for testing).
func NewTargetRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *TargetRepo {
	return &TargetRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const targetColumns = `
  id,
  name,
  source_url,
  ruleset,
  EXTRACT(EPOCH FROM schedule_interval)::bigint AS interval_seconds,
  last_run_at,
  enabled,
  created_at,
  updated_at
`

func scanTarget(scanner interface{ Scan(dest ...any) error }) (*model.ScrapeTarget, error) {
	var (
		target          model.ScrapeTarget
		ruleset         []byte
		intervalSeconds int64
		lastRunAt       sql.NullTime
	)
	if err := scanner.Scan(
		&target.ID,
		&target.Name,
		&target.SourceURL,
		&ruleset,
		&intervalSeconds,
		&lastRunAt,
		&target.Enabled,
		&target.CreatedAt,
		&target.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ruleset, &target.Ruleset); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	target.ScheduleInterval = time.Duration(intervalSeconds) * time.Second
	target.LastRunAt = cloneNullableTime(lastRunAt)
	return &target, nil
}

// Create registers a new scrape target.
func (r *TargetRepo) Create(ctx context.Context, req *model.CreateTargetRequest) (*model.ScrapeTarget, error) {
	if req == nil {
		return nil, errors.New("create target request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ruleset, err := json.Marshal(req.Ruleset)
	if err != nil {
		return nil, fmt.Errorf("encode ruleset: %w", err)
	}

	currentTime := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO scrape_targets(name, source_url, ruleset, schedule_interval, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, make_interval(secs => $4), $5, $6, $6)
		RETURNING `+targetColumns, strings.TrimSpace(req.Name), strings.TrimSpace(req.SourceURL),
		ruleset, req.ScheduleInterval.Seconds(), req.Enabled, currentTime)

	target, err := scanTarget(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTargetExists
		}
		return nil, fmt.Errorf("create target: %w", err)
	}
	return target, nil
}

// GetByID retrieves a scrape target by its ID.
func (r *TargetRepo) GetByID(ctx context.Context, id string) (*model.ScrapeTarget, error) {
	return r.getByQuery(ctx, `SELECT `+targetColumns+` FROM scrape_targets WHERE id = $1`, id)
}

// GetByName retrieves a scrape target by its unique name.
func (r *TargetRepo) GetByName(ctx context.Context, name string) (*model.ScrapeTarget, error) {
	return r.getByQuery(ctx, `SELECT `+targetColumns+` FROM scrape_targets WHERE name = $1`, name)
}

func (r *TargetRepo) getByQuery(ctx context.Context, query string, arg any) (*model.ScrapeTarget, error) {
	target, err := scanTarget(r.DB.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// List retrieves scrape targets with pagination, newest first.
func (r *TargetRepo) List(ctx context.Context, limit, offset int) ([]*model.ScrapeTarget, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+targetColumns+`
		FROM scrape_targets
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []*model.ScrapeTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return targets, nil
}

// Update applies the non-nil fields of req to an existing target.
func (r *TargetRepo) Update(ctx context.Context, id string, req model.UpdateTargetRequest) (*model.ScrapeTarget, error) {
	sets := []string{"updated_at = $1"}
	args := []any{r.timeProvider.Now().UTC()}
	next := 2

	appendSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}

	if req.Name != nil {
		appendSet("name", strings.TrimSpace(*req.Name))
	}
	if req.SourceURL != nil {
		if err := model.ValidateSourceURL(*req.SourceURL); err != nil {
			return nil, err
		}
		appendSet("source_url", strings.TrimSpace(*req.SourceURL))
	}
	if req.Ruleset != nil {
		if err := req.Ruleset.Validate(); err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(req.Ruleset)
		if err != nil {
			return nil, fmt.Errorf("encode ruleset: %w", err)
		}
		appendSet("ruleset", encoded)
	}
	if req.ScheduleInterval != nil {
		if *req.ScheduleInterval <= 0 {
			return nil, errors.New("schedule interval must be positive")
		}
		sets = append(sets, fmt.Sprintf("schedule_interval = make_interval(secs => $%d)", next))
		args = append(args, req.ScheduleInterval.Seconds())
		next++
	}
	if req.Enabled != nil {
		appendSet("enabled", *req.Enabled)
	}

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE scrape_targets
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), next, targetColumns)

	target, err := scanTarget(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTargetExists
		}
		return nil, fmt.Errorf("update target: %w", err)
	}
	return target, nil
}

// Delete removes a scrape target. Returns false when no target matched.
func (r *TargetRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM scrape_targets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// FindDueAndMarkQueued selects enabled targets whose schedule interval has
// elapsed, stamps last_run_at, and returns them. FOR UPDATE SKIP LOCKED
// keeps concurrent schedulers from double-enqueueing the same target.
func (r *TargetRepo) FindDueAndMarkQueued(ctx context.Context, limit int) ([]*model.ScrapeTarget, error) {
	if limit <= 0 {
		limit = 10
	}

	currentTime := r.timeProvider.Now().UTC()
	rows, err := r.DB.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM scrape_targets
			WHERE enabled
			  AND (last_run_at IS NULL OR last_run_at + schedule_interval <= $1)
			ORDER BY
				CASE WHEN last_run_at IS NULL THEN 0 ELSE 1 END,
				last_run_at ASC,
				created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scrape_targets t
		SET last_run_at = $1, updated_at = $1
		FROM due
		WHERE t.id = due.id
		RETURNING t.id, t.name, t.source_url, t.ruleset,
			EXTRACT(EPOCH FROM t.schedule_interval)::bigint,
			t.last_run_at, t.enabled, t.created_at, t.updated_at
	`, currentTime, limit)
	if err != nil {
		return nil, fmt.Errorf("find due targets: %w", err)
	}
	defer rows.Close()

	var due []*model.ScrapeTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due target: %w", err)
		}
		due = append(due, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find due targets: %w", err)
	}
	return due, nil
}
