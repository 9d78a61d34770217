package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/waiterbildung/course-advisor/config"
	"github.com/waiterbildung/course-advisor/internal/adapters/jobrunner"
	"github.com/waiterbildung/course-advisor/internal/adapters/notify"
	"github.com/waiterbildung/course-advisor/internal/adapters/scraper"
	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	"github.com/waiterbildung/course-advisor/internal/embedding"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
	"github.com/waiterbildung/course-advisor/internal/service"
	"github.com/waiterbildung/course-advisor/internal/service/failurenotifier"
)

// SchedulerConfig contains configuration for the scrape target scheduler.
type SchedulerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.SchedulerConfig
	Metrics statsd.Sink
}

// RunScheduler starts the scheduler service.
func RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:   data.NewJobRepo(cfg.DB, data.RepoConfig{}),
		Logger: cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create job service: %w", err)
	}

	scheduler := service.NewSchedulerService(service.SchedulerServiceOptions{
		Targets: data.NewTargetRepo(cfg.DB),
		Jobs:    jobs,
		Config: &service.SchedulerConfig{
			Interval:    cfg.Config.Interval,
			BatchSize:   cfg.Config.BatchSize,
			MaxBacklog:  cfg.Config.MaxBacklog,
			JobPriority: cfg.Config.JobPriority,
			MaxRetries:  cfg.Config.MaxRetries,
		},
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})

	return scheduler.Run(ctx)
}

// runJobRunner centralizes job runner setup so individual runners only pass job-specific options.
func runJobRunner(ctx context.Context, opts jobrunner.RunnerOptions) error {
	label := jobRunnerLabel(opts.JobType)

	runner, err := jobrunner.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create %s runner: %w", label, err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run %s runner: %w", label, runErr)
	}
	return nil
}

func jobRunnerLabel(jobType model.JobType) string {
	switch jobType {
	case model.JobTypeScrape:
		return "scrape"
	case model.JobTypeEmbed:
		return "embed"
	case model.JobTypeNotify:
		return "notify"
	}

	if jobType == "" {
		return "job"
	}
	return strings.ToLower(strings.ReplaceAll(string(jobType), "_", " "))
}

// ScrapeRunnerConfig contains configuration for the scrape job runner.
type ScrapeRunnerConfig struct {
	DB              *sql.DB
	Logger          *slog.Logger
	Runner          config.ScrapeRunnerConfig
	Scraper         config.ScraperConfig
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// RunScrapeRunner starts the scrape job runner service.
func RunScrapeRunner(ctx context.Context, cfg ScrapeRunnerConfig) error {
	executor := scraper.NewExecutor(scraper.Config{
		UserAgent:    cfg.Scraper.UserAgent,
		Timeout:      cfg.Scraper.RequestTimeout,
		PerHostDelay: cfg.Scraper.PerHostDelay,
		MaxPages:     cfg.Scraper.MaxPages,
	}, cfg.Logger)

	return runJobRunner(ctx, jobrunner.RunnerOptions{
		DB:              cfg.DB,
		Logger:          cfg.Logger,
		Lease:           cfg.Runner.JobLease,
		Concurrency:     cfg.Runner.Concurrency,
		JobType:         model.JobTypeScrape,
		Scraper:         executor,
		Metrics:         cfg.Metrics,
		FailureNotifier: cfg.FailureNotifier,
	})
}

// EmbedRunnerConfig contains configuration for the embed job runner.
type EmbedRunnerConfig struct {
	DB              *sql.DB
	Logger          *slog.Logger
	Runner          config.EmbedRunnerConfig
	Provider        embedding.Provider
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// RunEmbedRunner starts the embed job runner service.
func RunEmbedRunner(ctx context.Context, cfg EmbedRunnerConfig) error {
	return runJobRunner(ctx, jobrunner.RunnerOptions{
		DB:                cfg.DB,
		Logger:            cfg.Logger,
		Lease:             cfg.Runner.JobLease,
		Concurrency:       cfg.Runner.Concurrency,
		JobType:           model.JobTypeEmbed,
		EmbeddingProvider: cfg.Provider,
		Metrics:           cfg.Metrics,
		FailureNotifier:   cfg.FailureNotifier,
	})
}

// NotifyRunnerConfig contains configuration for the notify job runner.
type NotifyRunnerConfig struct {
	DB              *sql.DB
	Logger          *slog.Logger
	Runner          config.NotifyRunnerConfig
	Delivery        config.NotifyDeliveryConfig
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// RunNotifyRunner starts the notify job runner service. Without a configured
// delivery endpoint the runner still drains notify jobs, completing them as
// no-ops, so completed conversations never wedge the queue.
func RunNotifyRunner(ctx context.Context, cfg NotifyRunnerConfig) error {
	var sender core.NotificationSender
	if cfg.Delivery.EndpointURL != "" {
		s, err := notify.NewSender(notify.Config{
			EndpointURL: cfg.Delivery.EndpointURL,
			AuthToken:   cfg.Delivery.AuthToken,
			Timeout:     cfg.Delivery.Timeout,
			RetryLimit:  cfg.Delivery.RetryLimit,
		})
		if err != nil {
			return fmt.Errorf("create notification sender: %w", err)
		}
		sender = s
	} else if cfg.Logger != nil {
		cfg.Logger.Warn("no notification endpoint configured; notify jobs will be dropped")
	}

	return runJobRunner(ctx, jobrunner.RunnerOptions{
		DB:              cfg.DB,
		Logger:          cfg.Logger,
		Lease:           cfg.Runner.JobLease,
		Concurrency:     cfg.Runner.Concurrency,
		JobType:         model.JobTypeNotify,
		Notifications:   sender,
		Metrics:         cfg.Metrics,
		FailureNotifier: cfg.FailureNotifier,
	})
}

// ReaperConfig contains configuration for the job reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo: data.NewJobRepo(cfg.DB, data.RepoConfig{}),
		Config: service.ReaperConfig{
			Interval:        cfg.Config.Interval,
			CompletedMaxAge: cfg.Config.CompletedMaxAge,
			FailedMaxAge:    cfg.Config.FailedMaxAge,
			BatchSize:       cfg.Config.BatchSize,
		},
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper service: %w", err)
	}

	return reaper.Run(ctx)
}
