// Package model defines the core data types shared across the course-advisor
// job pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the kind of background work a job carries.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeScrape fetches pages for a scrape target and ingests raw course records.
	JobTypeScrape JobType = "scrape"
	// JobTypeEmbed computes the embedding vector for a stored course record.
	JobTypeEmbed JobType = "embed"
	// JobTypeNotify hands a notification payload to the external delivery service.
	JobTypeNotify JobType = "notify"

	// JobStatusPending indicates a job is waiting to be processed. A pending
	// job with retry_count > 0 is in its retry window ("retrying").
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished successfully. Terminal.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job exhausted its retries. Terminal.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeScrape || t == JobTypeEmbed || t == JobTypeNotify
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether a job in this status can never transition again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents a unit of background work with its metadata and status.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// Validate validates the CreateJobRequest fields, including the per-kind
// payload shape. Malformed requests are rejected up front and never enqueued.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("invalid job type %q", r.Type)
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return ValidatePayload(r.Type, r.Payload)
}

// ScrapeJobPayload is the payload carried by scrape jobs.
type ScrapeJobPayload struct {
	TargetID string `json:"target_id"`
}

// EmbedJobPayload is the payload carried by embed jobs.
type EmbedJobPayload struct {
	CanonicalID string `json:"canonical_id"`
}

// NotifyJobPayload is the payload carried by notify jobs. The core never
// renders templates; it only references one by identifier together with the
// substitution variables the delivery service needs.
type NotifyJobPayload struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// ValidatePayload checks that raw decodes into the payload shape required by
// the given job type and that the required fields are present.
func ValidatePayload(t JobType, raw json.RawMessage) error {
	switch t {
	case JobTypeScrape:
		var p ScrapeJobPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode scrape payload: %w", err)
		}
		if strings.TrimSpace(p.TargetID) == "" {
			return errors.New("scrape payload requires target_id")
		}
	case JobTypeEmbed:
		var p EmbedJobPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode embed payload: %w", err)
		}
		if strings.TrimSpace(p.CanonicalID) == "" {
			return errors.New("embed payload requires canonical_id")
		}
	case JobTypeNotify:
		var p NotifyJobPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode notify payload: %w", err)
		}
		if strings.TrimSpace(p.TemplateID) == "" {
			return errors.New("notify payload requires template_id")
		}
	default:
		return fmt.Errorf("invalid job type %q", t)
	}
	return nil
}

// JobStats represents counts of jobs in each state for one job type.
// Retrying is the subset of pending jobs that already failed at least once.
type JobStats struct {
	Pending   int `json:"pending"`
	Retrying  int `json:"retrying"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Backlog is the number of jobs still waiting to run. Backpressure decisions
// compare this against the configured threshold.
func (s JobStats) Backlog() int {
	return s.Pending + s.Retrying
}
