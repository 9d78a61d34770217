package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeScheduler runs the scrape target scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeScrapeRunner runs the scrape job runner.
	ServiceModeScrapeRunner ServiceMode = "scrape-runner"
	// ServiceModeEmbedRunner runs the embed job runner.
	ServiceModeEmbedRunner ServiceMode = "embed-runner"
	// ServiceModeNotifyRunner runs the notification delivery job runner.
	ServiceModeNotifyRunner ServiceMode = "notify-runner"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeScheduler,
		ServiceModeScrapeRunner,
		ServiceModeEmbedRunner,
		ServiceModeNotifyRunner,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeScheduler,
			ServiceModeScrapeRunner,
			ServiceModeEmbedRunner,
			ServiceModeNotifyRunner,
			ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: scheduler, scrape-runner, embed-runner, notify-runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`

	// BatchSize is the number of due targets to enqueue per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"20"`

	// MaxBacklog is the scrape job backlog above which the scheduler
	// defers enqueuing. Zero disables backpressure.
	MaxBacklog int `env:"SCHEDULER_MAX_BACKLOG" envDefault:"200"`

	// JobPriority is the priority assigned to scheduled scrape jobs.
	JobPriority int `env:"SCHEDULER_JOB_PRIORITY" envDefault:"50"`

	// MaxRetries is the maximum number of retries for scheduled scrape jobs.
	MaxRetries int `env:"SCHEDULER_MAX_RETRIES" envDefault:"3"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < time.Second {
		s.Interval = time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.MaxBacklog < 0 {
		s.MaxBacklog = 0
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
}

// ScrapeRunnerConfig contains scrape runner service configuration.
type ScrapeRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"SCRAPE_RUNNER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration to lease a scrape job. Scrape jobs crawl
	// multiple pages, so the lease is generous.
	JobLease time.Duration `env:"SCRAPE_RUNNER_JOB_LEASE" envDefault:"5m"`
}

// Sanitize applies guardrails to scrape runner configuration values.
func (s *ScrapeRunnerConfig) Sanitize() {
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.JobLease < 5*time.Second {
		s.JobLease = 5 * time.Second
	}
}

// EmbedRunnerConfig contains embed runner service configuration.
type EmbedRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"EMBED_RUNNER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration to lease an embed job.
	JobLease time.Duration `env:"EMBED_RUNNER_JOB_LEASE" envDefault:"1m"`
}

// Sanitize applies guardrails to embed runner configuration values.
func (e *EmbedRunnerConfig) Sanitize() {
	if e.Concurrency < 1 {
		e.Concurrency = 1
	}
	if e.JobLease < 5*time.Second {
		e.JobLease = 5 * time.Second
	}
}

// NotifyRunnerConfig contains notify runner service configuration.
type NotifyRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"NOTIFY_RUNNER_CONCURRENCY" envDefault:"1"`

	// JobLease is the duration to lease a notify job.
	JobLease time.Duration `env:"NOTIFY_RUNNER_JOB_LEASE" envDefault:"30s"`
}

// Sanitize applies guardrails to notify runner configuration values.
func (n *NotifyRunnerConfig) Sanitize() {
	if n.Concurrency < 1 {
		n.Concurrency = 1
	}
	if n.JobLease < 5*time.Second {
		n.JobLease = 5 * time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"24h"`

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	// Failed jobs keep their last error, so they are retained longer.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
