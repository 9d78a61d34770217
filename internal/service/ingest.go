package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/course"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	"github.com/waiterbildung/course-advisor/internal/embedding"
	"github.com/waiterbildung/course-advisor/internal/observability/metrics"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
)

// IngestServiceOptions groups dependencies for IngestService.
type IngestServiceOptions struct {
	Targets      core.TargetRepository
	Courses      core.CourseRepository
	Jobs         *JobService
	Scraper      core.ScrapeRunner
	Logger       *slog.Logger
	Metrics      statsd.Sink
	TimeProvider data.TimeProvider

	// EmbedMaxRetries is the retry budget for enqueued embed jobs.
	EmbedMaxRetries int
	// EmbedPriority is the priority assigned to enqueued embed jobs.
	EmbedPriority int
	// Vocabulary overrides the controlled topic tag set used when
	// normalizing scraped records.
	Vocabulary course.Vocabulary
}

// IngestService runs the scrape half of the pipeline: execute a target's
// ruleset, normalize what came back, upsert into the course store, and queue
// embed jobs for courses whose text content is new or changed.
type IngestService struct {
	targets      core.TargetRepository
	courses      core.CourseRepository
	jobs         *JobService
	scraper      core.ScrapeRunner
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider

	embedMaxRetries int
	embedPriority   int
	vocabulary      course.Vocabulary
}

// NewIngestService constructs an IngestService.
func NewIngestService(opts IngestServiceOptions) (*IngestService, error) {
	if opts.Targets == nil {
		return nil, errors.New("TargetRepository is required")
	}
	if opts.Courses == nil {
		return nil, errors.New("CourseRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Scraper == nil {
		return nil, errors.New("ScrapeRunner is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.EmbedMaxRetries <= 0 {
		opts.EmbedMaxRetries = 3
	}
	if opts.EmbedPriority <= 0 {
		opts.EmbedPriority = 50
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = course.DefaultVocabulary
	}

	return &IngestService{
		targets:         opts.Targets,
		courses:         opts.Courses,
		jobs:            opts.Jobs,
		scraper:         opts.Scraper,
		logger:          opts.Logger.With("component", "ingest_service"),
		metrics:         opts.Metrics,
		timeProvider:    opts.TimeProvider,
		embedMaxRetries: opts.EmbedMaxRetries,
		embedPriority:   opts.EmbedPriority,
		vocabulary:      opts.Vocabulary,
	}, nil
}

// RunTarget scrapes one target and ingests the results.
//
// An unknown or disabled target is a validation failure so the job is
// discarded instead of retried. Page-level failures do not fail the run as
// long as at least one page succeeded; they are recorded in the report.
func (s *IngestService) RunTarget(ctx context.Context, targetID string) (*model.ScrapeReport, error) {
	start := s.timeProvider.Now()

	target, err := s.targets.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, data.ErrTargetNotFound) {
			return nil, &domain.ValidationError{Field: "target_id", Reason: "unknown target " + targetID}
		}
		return nil, fmt.Errorf("load target %s: %w", targetID, err)
	}
	if !target.Enabled {
		return nil, &domain.ValidationError{Field: "target_id", Reason: "target " + targetID + " is disabled"}
	}

	outcome, err := s.scraper.Run(ctx, target)
	report := &model.ScrapeReport{TargetID: targetID}
	if outcome != nil {
		report.PagesSucceeded = outcome.PagesSucceeded
		report.PagesFailed = outcome.PagesFailed
		report.PageErrors = outcome.PageErrors
	}
	if err != nil {
		report.Duration = s.timeProvider.Now().Sub(start)
		return report, err
	}

	if ingestErr := s.ingestRecords(ctx, outcome.Records, report); ingestErr != nil {
		report.Duration = s.timeProvider.Now().Sub(start)
		return report, ingestErr
	}

	report.Duration = s.timeProvider.Now().Sub(start)
	s.logger.InfoContext(ctx, "scrape run finished",
		"target", target.Name,
		"pages_succeeded", report.PagesSucceeded,
		"pages_failed", report.PagesFailed,
		"courses_found", report.CoursesFound,
		"course_upserts", report.CoursesUpserts,
		"embeds_queued", report.EmbedsQueued,
		"duration", report.Duration,
	)
	metrics.EmitScrapeRun(s.metrics, metrics.ScrapeMetric{
		TargetName:     target.Name,
		PagesSucceeded: report.PagesSucceeded,
		PagesFailed:    report.PagesFailed,
		CoursesFound:   report.CoursesFound,
		CourseUpserts:  report.CoursesUpserts,
		EmbedsQueued:   report.EmbedsQueued,
		Duration:       report.Duration,
	})
	return report, nil
}

func (s *IngestService) ingestRecords(
	ctx context.Context,
	records []model.RawCourseRecord,
	report *model.ScrapeReport,
) error {
	report.CoursesFound = len(records)

	for _, raw := range records {
		normalized, err := course.NormalizeWithVocabulary(raw, s.vocabulary)
		if err != nil {
			if domain.IsValidation(err) {
				// Malformed records never fail the run; the rest of the
				// page is still worth keeping.
				s.logger.DebugContext(ctx, "skipping unnormalizable record",
					"url", raw.URL, "error", err)
				continue
			}
			return fmt.Errorf("normalize record %q: %w", raw.Title, err)
		}

		needsEmbedding, err := s.courses.Upsert(ctx, &normalized)
		if err != nil {
			return fmt.Errorf("upsert course %s: %w", normalized.CanonicalID, err)
		}
		report.CoursesUpserts++

		if !needsEmbedding {
			continue
		}
		if err := s.enqueueEmbed(ctx, normalized.CanonicalID); err != nil {
			return fmt.Errorf("enqueue embed for %s: %w", normalized.CanonicalID, err)
		}
		report.EmbedsQueued++
	}
	return nil
}

func (s *IngestService) enqueueEmbed(ctx context.Context, canonicalID string) error {
	payload, err := json.Marshal(model.EmbedJobPayload{CanonicalID: canonicalID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:       model.JobTypeEmbed,
		Priority:   s.embedPriority,
		Payload:    payload,
		MaxRetries: s.embedMaxRetries,
	})
	return err
}

// EmbedCourse computes and stores the vector for one course. Used by the
// embed job handler.
func (s *IngestService) EmbedCourse(
	ctx context.Context,
	provider embedding.Provider,
	canonicalID string,
) error {
	rec, err := s.courses.GetByCanonicalID(ctx, canonicalID)
	if err != nil {
		if errors.Is(err, data.ErrCourseNotFound) {
			// The course was deleted between enqueue and execution.
			return &domain.ValidationError{Field: "canonical_id", Reason: "unknown course " + canonicalID}
		}
		return fmt.Errorf("load course %s: %w", canonicalID, err)
	}

	vector, err := provider.Embed(ctx, course.EmbeddingText(*rec))
	if err != nil {
		return fmt.Errorf("embed course %s: %w", canonicalID, err)
	}

	if err := s.courses.SetEmbedding(ctx, canonicalID, vector); err != nil {
		return fmt.Errorf("store embedding for %s: %w", canonicalID, err)
	}

	s.logger.DebugContext(ctx, "course embedded",
		"canonical_id", canonicalID, "dimensions", len(vector))
	if s.metrics != nil {
		s.metrics.Count("embed.courses_embedded", 1, map[string]string{"provider": provider.Name()})
	}
	return nil
}
