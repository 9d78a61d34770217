package config

import (
	"os"
	"strings"

	"github.com/waiterbildung/course-advisor/internal/embedding"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and session store configuration
//   - services.go: Service mode and worker configuration
//   - scraper.go: Scrape executor and notification delivery configuration
//   - observability.go: Metrics and failure notification configuration
type AppConfig struct {
	// IsDev controls development mode behavior (seeding, verbose logging).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Session store configuration
	Sessions SessionConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"scheduler,scrape-runner,embed-runner,notify-runner,reaper"`

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Job runner configuration per job type
	ScrapeRunner ScrapeRunnerConfig
	EmbedRunner  EmbedRunnerConfig
	NotifyRunner NotifyRunnerConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Scrape executor configuration
	Scraper ScraperConfig

	// Notification delivery configuration
	Notify NotifyDeliveryConfig

	// Embedding provider configuration
	Embedding embedding.Config

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Sessions.Sanitize()
	c.Scheduler.Sanitize()
	c.ScrapeRunner.Sanitize()
	c.EmbedRunner.Sanitize()
	c.NotifyRunner.Sanitize()
	c.Reaper.Sanitize()
	c.Scraper.Sanitize()
	c.Notify.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeScheduler]
}

// IsScrapeRunnerEnabled returns true if the scrape runner service is enabled.
func (c *AppConfig) IsScrapeRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeScrapeRunner]
}

// IsEmbedRunnerEnabled returns true if the embed runner service is enabled.
func (c *AppConfig) IsEmbedRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeEmbedRunner]
}

// IsNotifyRunnerEnabled returns true if the notify runner service is enabled.
func (c *AppConfig) IsNotifyRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeNotifyRunner]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
