// Package service provides business logic for the course advisor pipeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
)

// SchedulerConfig controls how due targets are turned into scrape jobs.
type SchedulerConfig struct {
	Interval    time.Duration // tick interval
	BatchSize   int           // max targets enqueued per tick
	MaxBacklog  int           // skip enqueueing when pending+retrying reaches this
	JobPriority int           // priority assigned to scheduled scrape jobs
	MaxRetries  int           // retry budget for scheduled scrape jobs
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    time.Minute,
		BatchSize:   20,
		MaxBacklog:  200,
		JobPriority: 50,
		MaxRetries:  3,
	}
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Targets      core.TargetRepository
	Jobs         *JobService
	Config       *SchedulerConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// SchedulerService turns due scrape targets into queued scrape jobs.
//
// Safe under concurrent replicas: FindDueAndMarkQueued locks candidate rows
// with SKIP LOCKED and stamps last_run_at in the same statement, so a target
// is enqueued at most once per interval no matter how many schedulers run.
type SchedulerService struct {
	targets      core.TargetRepository
	jobs         *JobService
	cfg          SchedulerConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Config == nil {
		cfg := DefaultSchedulerConfig()
		opts.Config = &cfg
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &SchedulerService{
		targets:      opts.Targets,
		jobs:         opts.Jobs,
		cfg:          *opts.Config,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// Tick enqueues scrape jobs for targets whose schedule interval has elapsed.
// Returns the number of jobs enqueued.
//
// Backpressure: when the scrape queue backlog is at or above MaxBacklog the
// tick enqueues nothing and the due targets stay due, so they are retried on
// a later tick instead of being dropped.
func (s *SchedulerService) Tick(ctx context.Context) (int, error) {
	stats, err := s.jobs.Stats(ctx, model.JobTypeScrape)
	if err != nil {
		return 0, fmt.Errorf("check scrape backlog: %w", err)
	}
	if s.metrics != nil {
		s.metrics.Gauge("scheduler.scrape_backlog", float64(stats.Backlog()), nil)
	}
	if s.cfg.MaxBacklog > 0 && stats.Backlog() >= s.cfg.MaxBacklog {
		s.logger.WarnContext(ctx, "scrape backlog at capacity, deferring due targets",
			"backlog", stats.Backlog(),
			"max_backlog", s.cfg.MaxBacklog,
		)
		if s.metrics != nil {
			s.metrics.Count("scheduler.backpressure_deferrals", 1, nil)
		}
		return 0, nil
	}

	due, err := s.targets.FindDueAndMarkQueued(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due targets: %w", err)
	}

	enqueued := 0
	for _, target := range due {
		if err := s.enqueueScrape(ctx, target); err != nil {
			return enqueued, fmt.Errorf("enqueue scrape for target %s: %w", target.ID, err)
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.InfoContext(ctx, "enqueued scheduled scrape jobs", "count", enqueued)
		if s.metrics != nil {
			s.metrics.Count("scheduler.jobs_enqueued", int64(enqueued), nil)
		}
	}
	return enqueued, nil
}

func (s *SchedulerService) enqueueScrape(ctx context.Context, target *model.ScrapeTarget) error {
	payload, err := json.Marshal(model.ScrapeJobPayload{TargetID: target.ID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:       model.JobTypeScrape,
		Priority:   s.cfg.JobPriority,
		Payload:    payload,
		MaxRetries: s.cfg.MaxRetries,
	})
	return err
}

// Run ticks at the configured interval until the context is cancelled.
func (s *SchedulerService) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	s.logger.InfoContext(ctx, "starting scheduler", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				if isContextCancellation(err) {
					continue
				}
				s.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}
