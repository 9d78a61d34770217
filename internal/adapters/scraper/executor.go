package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultPerHostDelay = 500 * time.Millisecond
	defaultMaxDepth     = 2
	defaultUserAgent    = "course-advisor/1.0"
)

// Config controls collector behavior for all targets.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	PerHostDelay time.Duration
	// MaxPages caps how many pages one run may fetch, whatever the ruleset
	// says. Zero means no cap.
	MaxPages int
}

// Executor fetches a target's catalog and extracts raw course records
// according to the target's ruleset.
type Executor struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
}

// NewExecutor creates a scrape executor.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PerHostDelay <= 0 {
		cfg.PerHostDelay = defaultPerHostDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Run executes one scrape of the given target. The returned error is a
// TransientNetworkError when nothing could be fetched at all; page-level
// failures are reported in the outcome instead.
func (e *Executor) Run(ctx context.Context, target *model.ScrapeTarget) (*model.ScrapeOutcome, error) {
	if target == nil {
		return nil, &domain.ValidationError{Field: "target", Reason: "required"}
	}
	if err := target.Ruleset.Validate(); err != nil {
		return nil, &domain.ValidationError{Field: "ruleset", Reason: err.Error()}
	}
	parsed, err := url.Parse(target.SourceURL)
	if err != nil || parsed.Host == "" {
		return nil, &domain.ValidationError{Field: "source_url", Reason: "not an absolute URL"}
	}

	var result *model.ScrapeOutcome
	switch target.Ruleset.Kind {
	case model.RulesetKindHTML:
		result, err = e.runHTML(ctx, target, parsed.Hostname())
	case model.RulesetKindJSON:
		result, err = e.runJSON(ctx, target)
	default:
		return nil, &domain.ValidationError{Field: "ruleset.kind", Reason: string(target.Ruleset.Kind)}
	}
	if err != nil {
		return result, err
	}

	for i := range result.Records {
		result.Records[i].Provider = target.Name
		result.Records[i].DefaultLocale = target.Ruleset.DefaultLocale
	}

	if result.PagesSucceeded == 0 {
		reason := errors.New("no page could be fetched")
		if len(result.PageErrors) > 0 {
			reason = errors.New(result.PageErrors[0].Reason)
		}
		return result, &domain.TransientNetworkError{URL: target.SourceURL, Err: reason}
	}
	return result, nil
}

func (e *Executor) runHTML(ctx context.Context, target *model.ScrapeTarget, host string) (*model.ScrapeOutcome, error) {
	maxDepth := target.Ruleset.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(host),
		colly.MaxDepth(maxDepth),
		colly.UserAgent(e.cfg.UserAgent),
		colly.Async(false),
	)
	collector.SetRequestTimeout(e.cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       e.cfg.PerHostDelay,
		Parallelism: 1,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limit: %w", err)
	}

	var (
		mu      sync.Mutex
		result  model.ScrapeOutcome
		visited int
	)
	linkMatcher := compileLinkMatcher(target.Ruleset.LinkPattern)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if e.cfg.MaxPages > 0 && visited >= e.cfg.MaxPages {
			r.Abort()
			return
		}
		visited++
	})

	collector.OnResponse(func(_ *colly.Response) {
		mu.Lock()
		result.PagesSucceeded++
		mu.Unlock()
	})

	collector.OnError(func(r *colly.Response, err error) {
		pageURL := target.SourceURL
		if r != nil && r.Request != nil {
			pageURL = r.Request.URL.String()
		}
		mu.Lock()
		result.PagesFailed++
		result.PageErrors = append(result.PageErrors, model.PageError{
			URL:    pageURL,
			Reason: err.Error(),
		})
		mu.Unlock()
	})

	collector.OnHTML(target.Ruleset.Item, func(el *colly.HTMLElement) {
		rec := extractHTMLItem(el.DOM, target.Ruleset, el.Request.AbsoluteURL)
		if rec.URL == "" {
			rec.URL = el.Request.URL.String()
		}
		mu.Lock()
		result.Records = append(result.Records, rec)
		mu.Unlock()
	})

	collector.OnHTML("a[href]", func(el *colly.HTMLElement) {
		link := el.Attr("href")
		if link == "" || !linkMatcher(link) {
			return
		}
		// Same-host restriction and depth cap are enforced by the collector.
		_ = el.Request.Visit(link)
	})

	if err := collector.Visit(target.SourceURL); err != nil {
		mu.Lock()
		// Fetch failures are already recorded by OnError. Only count errors
		// raised before any request happened, like a blocked start URL.
		if result.PagesSucceeded == 0 && result.PagesFailed == 0 {
			result.PagesFailed++
			result.PageErrors = append(result.PageErrors, model.PageError{
				URL:    target.SourceURL,
				Reason: err.Error(),
			})
		}
		mu.Unlock()
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return &result, err
	}
	return &result, nil
}

func (e *Executor) runJSON(ctx context.Context, target *model.ScrapeTarget) (*model.ScrapeOutcome, error) {
	result := &model.ScrapeOutcome{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.SourceURL, nil)
	if err != nil {
		return result, &domain.ValidationError{Field: "source_url", Reason: err.Error()}
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		result.PagesFailed++
		result.PageErrors = append(result.PageErrors, model.PageError{URL: target.SourceURL, Reason: err.Error()})
		return result, &domain.TransientNetworkError{URL: target.SourceURL, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("unexpected status %d", resp.StatusCode)
		result.PagesFailed++
		result.PageErrors = append(result.PageErrors, model.PageError{URL: target.SourceURL, Reason: statusErr.Error()})
		return result, &domain.TransientNetworkError{URL: target.SourceURL, Err: statusErr}
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		result.PagesFailed++
		parseErr := &domain.PageParseError{URL: target.SourceURL, Reason: fmt.Sprintf("invalid JSON: %v", err)}
		result.PageErrors = append(result.PageErrors, model.PageError{URL: target.SourceURL, Reason: parseErr.Reason})
		return result, parseErr
	}

	records, err := extractJSONItems(doc, target.Ruleset)
	if err != nil {
		result.PagesFailed++
		var parseErr *domain.PageParseError
		if errors.As(err, &parseErr) {
			parseErr.URL = target.SourceURL
		}
		result.PageErrors = append(result.PageErrors, model.PageError{URL: target.SourceURL, Reason: err.Error()})
		return result, err
	}

	for i := range records {
		if records[i].URL == "" {
			records[i].URL = target.SourceURL
		}
	}
	result.Records = records
	result.PagesSucceeded = 1
	return result, nil
}

// compileLinkMatcher turns a link pattern into a predicate. Patterns compile
// as regular expressions; an empty pattern matches nothing, so crawling past
// the start page is opt-in per target.
func compileLinkMatcher(pattern string) func(string) bool {
	if pattern == "" {
		return func(string) bool { return false }
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return func(string) bool { return false }
	}
	return re.MatchString
}
