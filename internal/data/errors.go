package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Shared sentinel errors for data-layer repositories.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCancellable = errors.New("job is not pending")
	ErrTargetNotFound    = errors.New("scrape target not found")
	ErrTargetExists      = errors.New("scrape target already exists")
	ErrCourseNotFound    = errors.New("course not found")
	ErrEmptyEmbedding    = errors.New("embedding vector is empty")
	ErrSessionNotFound   = errors.New("session not found")
)

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
