package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	obserrors "github.com/waiterbildung/course-advisor/internal/observability/errors"
	"github.com/waiterbildung/course-advisor/internal/observability/metrics"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
)

// ReaperConfig controls retention of terminal jobs.
type ReaperConfig struct {
	Interval        time.Duration
	CompletedMaxAge time.Duration
	FailedMaxAge    time.Duration
	BatchSize       int
}

// DefaultReaperConfig returns production defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:        time.Hour,
		CompletedMaxAge: 24 * time.Hour,
		FailedMaxAge:    7 * 24 * time.Hour,
		BatchSize:       500,
	}
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.JobRepository // Required
	Config  ReaperConfig       // Required
	Logger  *slog.Logger       // Optional: structured logger
	Metrics statsd.Sink        // Optional: metrics sink
}

// ReaperService deletes old terminal jobs to keep the queue table small.
type ReaperService struct {
	repo    core.JobRepository
	config  ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter prevents a thundering herd when replicas start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				// Keep running despite errors
			}
		}
	}
}

// waitWithJitter sleeps a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()

	completed, completedErr := s.deleteOldByStatus(ctx, model.JobStatusCompleted, s.config.CompletedMaxAge)
	failed, failedErr := s.deleteOldByStatus(ctx, model.JobStatusFailed, s.config.FailedMaxAge)

	s.emitCleanupMetrics(cleanupMetrics{
		CompletedCount: completed,
		CompletedErr:   suppressContextCancellation(completedErr),
		FailedCount:    failed,
		FailedErr:      suppressContextCancellation(failedErr),
		Elapsed:        time.Since(start),
	})

	err := errors.Join(completedErr, failedErr)
	if err == nil {
		return nil
	}
	if isContextCancellation(err) {
		return context.Canceled
	}
	return fmt.Errorf("cleanup failed: %w", err)
}

// deleteOldByStatus deletes terminal jobs older than maxAge, looping in
// batches so large backlogs never hold one long transaction.
func (s *ReaperService) deleteOldByStatus(
	ctx context.Context,
	status model.JobStatus,
	maxAge time.Duration,
) (int64, error) {
	var totalCount int64
	for {
		count, err := s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    status,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old jobs",
			"status", status,
			"count", totalCount,
			"max_age", maxAge,
		)
	}
	return totalCount, nil
}

type cleanupMetrics struct {
	CompletedCount int64
	CompletedErr   error
	FailedCount    int64
	FailedErr      error
	Elapsed        time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.CompletedCount + m.FailedCount
	firstErr := m.CompletedErr
	if firstErr == nil {
		firstErr = m.FailedErr
	}

	result := metrics.ResultSuccess
	switch {
	case firstErr != nil:
		result = metrics.ResultError
	case totalCount == 0:
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}
	if totalCount > 0 {
		s.metrics.Count("reaper.jobs_deleted", totalCount, nil)
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
