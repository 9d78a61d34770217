package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ScrapeTarget describes one remote course catalog: where to fetch it, how to
// interpret the pages, and how often a scrape should be scheduled.
type ScrapeTarget struct {
	ID               string        `json:"id"                    db:"id"`
	Name             string        `json:"name"                  db:"name"`
	SourceURL        string        `json:"source_url"            db:"source_url"`
	Ruleset          RulesetConfig `json:"ruleset"               db:"ruleset"`
	ScheduleInterval time.Duration `json:"schedule_interval"     db:"schedule_interval"`
	LastRunAt        *time.Time    `json:"last_run_at,omitempty" db:"last_run_at"`
	Enabled          bool          `json:"enabled"               db:"enabled"`
	CreatedAt        time.Time     `json:"created_at"            db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"            db:"updated_at"`
}

// CreateTargetRequest registers a new scrape target.
type CreateTargetRequest struct {
	Name             string        `json:"name"`
	SourceURL        string        `json:"source_url"`
	Ruleset          RulesetConfig `json:"ruleset"`
	ScheduleInterval time.Duration `json:"schedule_interval"`
	Enabled          bool          `json:"enabled"`
}

// Validate checks the CreateTargetRequest fields.
func (r *CreateTargetRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if err := ValidateSourceURL(r.SourceURL); err != nil {
		return err
	}
	if r.ScheduleInterval <= 0 {
		return errors.New("schedule interval must be positive")
	}
	return r.Ruleset.Validate()
}

// Validate checks that a ruleset has a known kind and the selectors needed
// to extract at least a title per item.
func (c *RulesetConfig) Validate() error {
	if c.Kind != RulesetKindHTML && c.Kind != RulesetKindJSON {
		return fmt.Errorf("unknown ruleset kind %q", c.Kind)
	}
	if strings.TrimSpace(c.Item) == "" {
		return errors.New("ruleset item selector is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("ruleset title selector is required")
	}
	if c.MaxDepth < 0 {
		return errors.New("ruleset max_depth must be >= 0")
	}
	return nil
}

// ValidateSourceURL checks that raw is an absolute http(s) URL with a host.
func ValidateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("source url must include a host")
	}
	return nil
}

// UpdateTargetRequest updates a scrape target. Nil fields are left unchanged.
type UpdateTargetRequest struct {
	Name             *string        `json:"name,omitempty"`
	SourceURL        *string        `json:"source_url,omitempty"`
	Ruleset          *RulesetConfig `json:"ruleset,omitempty"`
	ScheduleInterval *time.Duration `json:"schedule_interval,omitempty"`
	Enabled          *bool          `json:"enabled,omitempty"`
}

// RulesetKind selects the extraction strategy for a scrape target.
type RulesetKind string

const (
	// RulesetKindHTML walks catalog pages and extracts fields with CSS selectors.
	RulesetKindHTML RulesetKind = "html"
	// RulesetKindJSON fetches a JSON document and extracts fields with
	// JMESPath expressions.
	RulesetKindJSON RulesetKind = "json"
)

// RulesetConfig is the per-target extraction configuration, stored as JSONB.
//
// For html rulesets the Item selector identifies one course block per match
// and the field selectors are evaluated relative to it. For json rulesets
// Item is a JMESPath expression yielding a list and the field expressions are
// evaluated against each element.
type RulesetConfig struct {
	Kind        RulesetKind `json:"kind"`
	Item        string      `json:"item"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Locale      string      `json:"locale,omitempty"`
	Tags        string      `json:"tags,omitempty"`
	MaxDepth    int         `json:"max_depth,omitempty"`
	LinkPattern string      `json:"link_pattern,omitempty"`
	// DefaultLocale is used when the Locale selector is absent or matches
	// nothing on a given item.
	DefaultLocale string `json:"default_locale,omitempty"`
}

// RawCourseRecord is what the scraper extracts from one page before
// normalization. Provider and DefaultLocale come from the target, the rest
// from the ruleset.
type RawCourseRecord struct {
	Title         string
	Description   string
	URL           string
	Locale        string
	Tags          []string
	Provider      string
	DefaultLocale string
}

// ScrapeOutcome is the raw result of one scrape run before normalization.
// A run with at least one succeeded page is a success even when other pages
// failed.
type ScrapeOutcome struct {
	Records        []RawCourseRecord
	PagesSucceeded int
	PagesFailed    int
	PageErrors     []PageError
}

// CourseRecord is the normalized, canonical form of a course. CanonicalID is
// a stable hash of the normalized title, provider and locale, so re-ingesting
// the same course updates in place instead of duplicating.
type CourseRecord struct {
	CanonicalID string     `json:"canonical_id"        db:"canonical_id"`
	Title       string     `json:"title"               db:"title"`
	Provider    string     `json:"provider"            db:"provider"`
	Locale      string     `json:"locale"              db:"locale"`
	Description string     `json:"description"         db:"description"`
	URL         string     `json:"url"                 db:"url"`
	TopicTags   []string   `json:"topic_tags"          db:"topic_tags"`
	Embedding   []float64  `json:"embedding,omitempty" db:"embedding"`
	UpdatedAt   time.Time  `json:"updated_at"          db:"updated_at"`
	CreatedAt   time.Time  `json:"created_at"          db:"created_at"`
	EmbeddedAt  *time.Time `json:"embedded_at,omitempty" db:"embedded_at"`
}

// CourseMatch is one ranked result from a nearest-neighbor query.
type CourseMatch struct {
	Course   CourseRecord `json:"course"`
	Distance float64      `json:"distance"`
}

// ScrapeReport summarizes one scrape run. A run with at least one succeeded
// page is reported as a success even when other pages failed.
type ScrapeReport struct {
	TargetID       string        `json:"target_id"`
	PagesSucceeded int           `json:"pages_succeeded"`
	PagesFailed    int           `json:"pages_failed"`
	CoursesFound   int           `json:"courses_found"`
	CoursesUpserts int           `json:"courses_upserted"`
	EmbedsQueued   int           `json:"embeds_queued"`
	Duration       time.Duration `json:"duration"`
	PageErrors     []PageError   `json:"page_errors,omitempty"`
}

// PageError records a single failed page fetch or parse within a scrape run.
type PageError struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}
