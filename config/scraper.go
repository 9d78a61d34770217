package config

import (
	"strings"
	"time"
)

// ScraperConfig contains scrape executor configuration shared by all targets.
// Per-target crawl behavior (selectors, depth, link pattern) lives on the
// target's ruleset.
type ScraperConfig struct {
	// UserAgent identifies the crawler to target sites.
	UserAgent string `env:"SCRAPER_USER_AGENT" envDefault:"course-advisor/1.0"`

	// RequestTimeout bounds each page fetch.
	RequestTimeout time.Duration `env:"SCRAPER_REQUEST_TIMEOUT" envDefault:"15s"`

	// PerHostDelay is the minimum delay between requests to the same host.
	PerHostDelay time.Duration `env:"SCRAPER_PER_HOST_DELAY" envDefault:"500ms"`

	// MaxPages caps the number of pages fetched per scrape job. Zero means
	// no cap beyond the ruleset's depth bound.
	MaxPages int `env:"SCRAPER_MAX_PAGES" envDefault:"100"`
}

// Sanitize applies guardrails to scraper configuration values.
func (s *ScraperConfig) Sanitize() {
	if s.UserAgent == "" {
		s.UserAgent = "course-advisor/1.0"
	}
	if s.RequestTimeout < time.Second {
		s.RequestTimeout = time.Second
	}
	if s.PerHostDelay < 0 {
		s.PerHostDelay = 0
	}
	if s.MaxPages < 0 {
		s.MaxPages = 0
	}
}

// NotifyDeliveryConfig controls delivery of notify job payloads to the
// external notification endpoint.
type NotifyDeliveryConfig struct {
	// EndpointURL is the HTTP endpoint that receives notification payloads.
	// Empty disables delivery; notify jobs then complete as no-ops.
	EndpointURL string `env:"NOTIFY_ENDPOINT_URL"`

	// AuthToken is sent as a bearer token when set.
	AuthToken string `env:"NOTIFY_AUTH_TOKEN"`

	// Timeout bounds each delivery attempt.
	Timeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`

	// RetryLimit is the number of in-process delivery retries per attempt.
	// The job queue's retry policy applies on top of this.
	RetryLimit int `env:"NOTIFY_RETRY_LIMIT" envDefault:"2"`
}

// Sanitize normalises notification delivery configuration values.
func (n *NotifyDeliveryConfig) Sanitize() {
	n.EndpointURL = strings.TrimSpace(n.EndpointURL)
	if n.Timeout <= 0 {
		n.Timeout = 10 * time.Second
	}
	if n.RetryLimit < 0 {
		n.RetryLimit = 0
	}
}
