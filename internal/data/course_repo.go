package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/waiterbildung/course-advisor/internal/data/pgxutil"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// CourseRepo provides database operations for the course vector store.
// Embeddings are stored as double precision arrays next to the course text,
// so queries go through native pgx connections for array support.
type CourseRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCourseRepo creates a new CourseRepo instance with the given database connection.
func NewCourseRepo(db *sql.DB) *CourseRepo {
	return &CourseRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewCourseRepoWithTimeProvider creates a CourseRepo with a custom TimeProvider (useful for testing).
func NewCourseRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *CourseRepo {
	return &CourseRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const courseColumns = `
  canonical_id,
  title,
  provider,
  locale,
  description,
  url,
  topic_tags,
  embedding,
  embedded_at,
  created_at,
  updated_at
`

func collectCourse(row pgx.CollectableRow) (model.CourseRecord, error) {
	var (
		rec        model.CourseRecord
		tags       []string
		embedding  []float64
		embeddedAt sql.NullTime
	)
	if err := row.Scan(
		&rec.CanonicalID,
		&rec.Title,
		&rec.Provider,
		&rec.Locale,
		&rec.Description,
		&rec.URL,
		&tags,
		&embedding,
		&embeddedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return model.CourseRecord{}, err
	}
	rec.TopicTags = tags
	rec.Embedding = embedding
	rec.EmbeddedAt = cloneNullableTime(embeddedAt)
	return rec, nil
}

// Upsert inserts a course or updates the existing row with the same
// canonical ID. When the text content of an existing course changed, its
// stored embedding is invalidated so it gets re-embedded; needsEmbedding
// reports whether the row now lacks a vector.
func (r *CourseRepo) Upsert(ctx context.Context, rec *model.CourseRecord) (bool, error) {
	if rec == nil {
		return false, errors.New("course record is required")
	}
	if rec.CanonicalID == "" {
		return false, errors.New("canonical_id is required")
	}

	currentTime := r.timeProvider.Now().UTC()
	var needsEmbedding bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO courses (canonical_id, title, provider, locale, description, url, topic_tags, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (canonical_id) DO UPDATE SET
				title       = EXCLUDED.title,
				provider    = EXCLUDED.provider,
				locale      = EXCLUDED.locale,
				description = EXCLUDED.description,
				url         = EXCLUDED.url,
				topic_tags  = EXCLUDED.topic_tags,
				embedding   = CASE WHEN courses.title IS DISTINCT FROM EXCLUDED.title
				                     OR courses.description IS DISTINCT FROM EXCLUDED.description
				                     OR courses.topic_tags IS DISTINCT FROM EXCLUDED.topic_tags
				                   THEN NULL ELSE courses.embedding END,
				embedded_at = CASE WHEN courses.title IS DISTINCT FROM EXCLUDED.title
				                     OR courses.description IS DISTINCT FROM EXCLUDED.description
				                     OR courses.topic_tags IS DISTINCT FROM EXCLUDED.topic_tags
				                   THEN NULL ELSE courses.embedded_at END,
				updated_at  = EXCLUDED.updated_at
			RETURNING embedding IS NULL
		`, rec.CanonicalID, rec.Title, rec.Provider, rec.Locale,
			rec.Description, rec.URL, rec.TopicTags, currentTime,
		).Scan(&needsEmbedding)
	})
	if err != nil {
		return false, fmt.Errorf("upsert course: %w", err)
	}
	return needsEmbedding, nil
}

// GetByCanonicalID retrieves a course by its canonical ID.
func (r *CourseRepo) GetByCanonicalID(ctx context.Context, canonicalID string) (*model.CourseRecord, error) {
	var rec model.CourseRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+courseColumns+` FROM courses WHERE canonical_id = $1
		`, canonicalID)
		if err != nil {
			return err
		}
		defer rows.Close()
		rec, err = pgx.CollectOneRow(rows, collectCourse)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &rec, nil
}

// List retrieves courses with pagination, most recently updated first.
func (r *CourseRepo) List(ctx context.Context, limit, offset int) ([]*model.CourseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var records []*model.CourseRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+courseColumns+`
			FROM courses
			ORDER BY updated_at DESC, canonical_id
			LIMIT $1 OFFSET $2
		`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		collected, err := pgx.CollectRows(rows, collectCourse)
		if err != nil {
			return err
		}
		records = make([]*model.CourseRecord, len(collected))
		for i := range collected {
			records[i] = &collected[i]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return records, nil
}

// Delete removes a course. Returns false when no course matched.
func (r *CourseRepo) Delete(ctx context.Context, canonicalID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM courses WHERE canonical_id = $1`, canonicalID)
	if err != nil {
		return false, fmt.Errorf("delete course: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Count returns the total number of stored courses.
func (r *CourseRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM courses`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count courses: %w", err)
	}
	return count, nil
}

// SetEmbedding stores the vector for a course. Empty vectors are rejected so
// a provider glitch can never wipe a usable embedding.
func (r *CourseRepo) SetEmbedding(ctx context.Context, canonicalID string, embedding []float64) error {
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}

	currentTime := r.timeProvider.Now().UTC()
	var matched bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE courses
			SET embedding = $2, embedded_at = $3, updated_at = $3
			WHERE canonical_id = $1
		`, canonicalID, embedding, currentTime)
		if err != nil {
			return err
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if !matched {
		return ErrCourseNotFound
	}
	return nil
}

// Candidates returns embedded courses for nearest-neighbor ranking,
// optionally restricted to ones sharing a topic tag. Distance computation
// happens in the service layer; this only narrows the candidate set.
func (r *CourseRepo) Candidates(ctx context.Context, topicTags []string, limit int) ([]model.CourseRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT ` + courseColumns + `
		FROM courses
		WHERE embedding IS NOT NULL
	`
	args := []any{limit}
	if len(topicTags) > 0 {
		query += ` AND topic_tags && $2`
		args = append(args, topicTags)
	}
	query += `
		ORDER BY updated_at DESC, canonical_id
		LIMIT $1
	`

	var records []model.CourseRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		records, err = pgx.CollectRows(rows, collectCourse)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	return records, nil
}
