// Package jobrunner pulls queued jobs and executes them with registered
// per-type handlers.
package jobrunner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	"github.com/waiterbildung/course-advisor/internal/embedding"
	obserrors "github.com/waiterbildung/course-advisor/internal/observability/errors"
	"github.com/waiterbildung/course-advisor/internal/observability/metrics"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
	"github.com/waiterbildung/course-advisor/internal/service"
	"github.com/waiterbildung/course-advisor/internal/service/failurenotifier"
)

// HandlerFunc processes a job. A returned ValidationError discards the job;
// any other error fails the attempt and the retry policy decides what's next.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Job processing settings
	Lease       time.Duration // per-job lease duration; defaults to 2m
	Concurrency int           // number of worker goroutines; defaults to 1
	JobType     model.JobType // which job type to process; defaults to scrape

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo          core.JobRepository
	TargetsRepo       core.TargetRepository
	CoursesRepo       core.CourseRepository
	Scraper           core.ScrapeRunner
	EmbeddingProvider embedding.Provider
	Notifications     core.NotificationSender
	Metrics           statsd.Sink
	FailureNotifier   *failurenotifier.Service
	RepoConfig        *data.RepoConfig
}

// Runner pulls jobs of one type and executes them using registered handlers.
type Runner struct {
	jobs          *service.JobService
	ingest        *service.IngestService
	provider      embedding.Provider
	notifications core.NotificationSender
	logger        *slog.Logger
	lease         time.Duration
	jobType       model.JobType
	workers       int
	handlers      map[model.JobType]HandlerFunc
	metrics       statsd.Sink
}

// NewRunner wires repositories/services and constructs a job runner for a single job type.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.JobsRepo == nil {
		return nil, errors.New("either DB or JobsRepo must be provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	jt := opts.JobType
	if !jt.Valid() {
		jt = model.JobTypeScrape
	}

	jobsRepo := opts.JobsRepo
	if jobsRepo == nil {
		cfg := data.RepoConfig{}
		if opts.RepoConfig != nil {
			cfg = *opts.RepoConfig
		}
		jobsRepo = data.NewJobRepo(opts.DB, cfg)
	}
	jobSvc := service.MustNewJobService(service.JobServiceOptions{
		Repo:            jobsRepo,
		DefaultLease:    lease,
		Logger:          opts.Logger,
		FailureNotifier: opts.FailureNotifier,
	})

	r := &Runner{
		jobs:          jobSvc,
		provider:      opts.EmbeddingProvider,
		notifications: opts.Notifications,
		logger:        logger,
		lease:         lease,
		jobType:       jt,
		workers:       workers,
		handlers:      make(map[model.JobType]HandlerFunc),
		metrics:       opts.Metrics,
	}

	if ingest, err := buildIngest(opts, jobSvc); err == nil {
		r.ingest = ingest
	} else if jt == model.JobTypeScrape || jt == model.JobTypeEmbed {
		return nil, fmt.Errorf("configure ingest pipeline: %w", err)
	}

	r.handlers[model.JobTypeScrape] = r.handleScrapeJob
	r.handlers[model.JobTypeEmbed] = r.handleEmbedJob
	r.handlers[model.JobTypeNotify] = r.handleNotifyJob
	return r, nil
}

func buildIngest(opts RunnerOptions, jobSvc *service.JobService) (*service.IngestService, error) {
	targets := opts.TargetsRepo
	if targets == nil && opts.DB != nil {
		targets = data.NewTargetRepo(opts.DB)
	}
	courses := opts.CoursesRepo
	if courses == nil && opts.DB != nil {
		courses = data.NewCourseRepo(opts.DB)
	}
	return service.NewIngestService(service.IngestServiceOptions{
		Targets: targets,
		Courses: courses,
		Jobs:    jobSvc,
		Scraper: opts.Scraper,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "type", r.jobType, "workers", r.workers, "lease", r.lease)

	unsub, ch := r.jobs.Subscribe(r.jobType)
	defer unsub()

	// First fatal worker error cancels the rest.
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		group.Go(func() error { return r.workerLoop(gctx, ch) })
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, r.jobType, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			select {
			case <-ctx.Done():
				return nil
			case <-notify:
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	h, ok := r.handlers[job.Type]
	if !ok {
		err := fmt.Errorf("no handler for job type %s", job.Type)
		r.discard(ctx, job.ID, err)
		emit("discarded", metrics.ResultError, err)
		return
	}

	if err := h(ctx, job); err != nil {
		// Permanently invalid work would fail the same way on every
		// attempt, so it skips the retry policy entirely.
		if domain.IsValidation(err) {
			r.discard(ctx, job.ID, err)
			emit("discarded", metrics.ResultError, err)
			return
		}
		if _, ferr := r.jobs.FailWithDetails(ctx, job.ID, err.Error(), service.JobFailureDetails{
			ErrorClass: obserrors.Classify(err),
			Metadata: map[string]string{
				"component": r.componentLabel(),
			},
		}); ferr != nil {
			r.logger.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", ferr, "original_error", err)
		}
		emit("failed", metrics.ResultError, err)
		return
	}

	if completed, err := r.jobs.Complete(ctx, job.ID); err != nil {
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		emit("completed", metrics.ResultError, err)
	} else {
		result := metrics.ResultNoop
		if completed {
			result = metrics.ResultSuccess
		}
		emit("completed", result, nil)
	}
}

func (r *Runner) discard(ctx context.Context, jobID string, cause error) {
	if _, err := r.jobs.Discard(ctx, jobID, cause.Error()); err != nil {
		r.logger.ErrorContext(ctx, "discard job error", "job_id", jobID, "error", err, "original_error", cause)
	}
}

func (r *Runner) componentLabel() string {
	switch r.jobType {
	case model.JobTypeScrape:
		return "scrape_runner"
	case model.JobTypeEmbed:
		return "embed_runner"
	case model.JobTypeNotify:
		return "notify_runner"
	default:
		return "job_runner"
	}
}

// handleScrapeJob executes one scrape run for the target in the payload.
func (r *Runner) handleScrapeJob(ctx context.Context, job *model.Job) error {
	var payload model.ScrapeJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}
	if r.ingest == nil {
		return errors.New("ingest pipeline not configured")
	}

	report, err := r.ingest.RunTarget(ctx, payload.TargetID)
	if err != nil {
		return err
	}
	if report.PagesFailed > 0 {
		r.logger.WarnContext(ctx, "scrape run finished with page failures",
			"job_id", job.ID,
			"target_id", payload.TargetID,
			"pages_failed", report.PagesFailed,
		)
	}
	return nil
}

// handleEmbedJob computes and stores the vector for one course.
func (r *Runner) handleEmbedJob(ctx context.Context, job *model.Job) error {
	var payload model.EmbedJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}
	if r.ingest == nil {
		return errors.New("ingest pipeline not configured")
	}
	if r.provider == nil {
		return errors.New("embedding provider not configured")
	}
	return r.ingest.EmbedCourse(ctx, r.provider, payload.CanonicalID)
}

// handleNotifyJob hands a notification off to the configured sender. Without
// one the job is logged and completed, so a missing delivery integration
// never wedges the queue.
func (r *Runner) handleNotifyJob(ctx context.Context, job *model.Job) error {
	var payload model.NotifyJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}

	if r.notifications == nil {
		r.logger.InfoContext(ctx, "notification delivery not configured, dropping",
			"job_id", job.ID,
			"template_id", payload.TemplateID,
			"recipient", payload.Recipient,
		)
		return nil
	}
	return r.notifications.Send(ctx, payload)
}
