package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job queue data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, jobType model.JobType) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	// Fail records a failed attempt. Jobs with retries left are rescheduled
	// with exponential backoff; exhausted jobs go to the terminal failed
	// status and the repository reports terminal=true.
	Fail(ctx context.Context, id, errMsg string) (terminal bool, err error)
	// Discard moves a job straight to failed with no retry, used for
	// permanently invalid work.
	Discard(ctx context.Context, id, errMsg string) (bool, error)
	// Cancel removes a pending job before a worker reserves it. Jobs in any
	// other status are refused.
	Cancel(ctx context.Context, id string) error
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
	RequeueExpired(ctx context.Context, jobType model.JobType, limit int) (int64, error)
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// TargetRepository defines the interface for scrape target data operations.
type TargetRepository interface {
	Create(ctx context.Context, req *model.CreateTargetRequest) (*model.ScrapeTarget, error)
	GetByID(ctx context.Context, id string) (*model.ScrapeTarget, error)
	GetByName(ctx context.Context, name string) (*model.ScrapeTarget, error)
	List(ctx context.Context, limit, offset int) ([]*model.ScrapeTarget, error)
	Update(ctx context.Context, id string, req model.UpdateTargetRequest) (*model.ScrapeTarget, error)
	Delete(ctx context.Context, id string) (bool, error)

	// FindDueAndMarkQueued selects enabled targets whose schedule interval
	// has elapsed, stamps last_run_at, and returns them. Rows are locked
	// with SKIP LOCKED so concurrent schedulers never double-enqueue.
	FindDueAndMarkQueued(ctx context.Context, limit int) ([]*model.ScrapeTarget, error)
}

// CourseRepository defines the interface for the course vector store.
type CourseRepository interface {
	// Upsert inserts or updates by canonical ID. When the text content of an
	// existing course changed, its stored embedding is invalidated and
	// needsEmbedding is true.
	Upsert(ctx context.Context, rec *model.CourseRecord) (needsEmbedding bool, err error)
	GetByCanonicalID(ctx context.Context, canonicalID string) (*model.CourseRecord, error)
	List(ctx context.Context, limit, offset int) ([]*model.CourseRecord, error)
	Delete(ctx context.Context, canonicalID string) (bool, error)
	Count(ctx context.Context) (int, error)

	// SetEmbedding stores the vector for a course. Empty vectors are rejected.
	SetEmbedding(ctx context.Context, canonicalID string, embedding []float64) error

	// Candidates returns embedded courses for nearest-neighbor ranking,
	// optionally restricted to ones sharing a topic tag.
	Candidates(ctx context.Context, topicTags []string, limit int) ([]model.CourseRecord, error)
}

// NotificationSender delivers a rendered notification to its recipient.
type NotificationSender interface {
	Send(ctx context.Context, payload model.NotifyJobPayload) error
}

// ScrapeRunner executes one scrape of a target and returns the raw records
// it extracted alongside page success and failure counts.
type ScrapeRunner interface {
	Run(ctx context.Context, target *model.ScrapeTarget) (*model.ScrapeOutcome, error)
}

// SessionStore defines the interface for conversation session persistence.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*model.ConversationSession, error)
	Save(ctx context.Context, session *model.ConversationSession) error
	Delete(ctx context.Context, sessionID string) error
}
