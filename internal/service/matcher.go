package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/conversation"
	"github.com/waiterbildung/course-advisor/internal/domain/course"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	"github.com/waiterbildung/course-advisor/internal/embedding"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
)

const (
	defaultMatchLimit = 5
	maxMatchLimit     = 50
)

// MatcherServiceOptions groups dependencies for MatcherService.
type MatcherServiceOptions struct {
	Courses  core.CourseRepository
	Sessions core.SessionStore // Optional: enables MatchSession
	Provider embedding.Provider
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// MatcherService ranks stored courses against a completed user profile by
// embedding the profile's composite query text and running a nearest-neighbor
// search over the course store.
type MatcherService struct {
	courses  core.CourseRepository
	sessions core.SessionStore
	provider embedding.Provider
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewMatcherService constructs a MatcherService.
func NewMatcherService(opts MatcherServiceOptions) (*MatcherService, error) {
	if opts.Courses == nil {
		return nil, errors.New("CourseRepository is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("embedding provider is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &MatcherService{
		courses:  opts.Courses,
		sessions: opts.Sessions,
		provider: opts.Provider,
		logger:   opts.Logger.With("component", "matcher_service"),
		metrics:  opts.Metrics,
	}, nil
}

// Match returns up to limit courses nearest to the profile's query text.
//
// Returns ErrNotReady when no course has an embedding yet. An empty result
// with a populated store is valid and means nothing ranked, not an error.
func (s *MatcherService) Match(
	ctx context.Context,
	profile model.UserProfile,
	limit int,
) ([]model.CourseMatch, error) {
	if limit <= 0 {
		limit = defaultMatchLimit
	}
	if limit > maxMatchLimit {
		limit = maxMatchLimit
	}

	query := conversation.ProfileQueryText(profile)
	if strings.TrimSpace(query) == "" {
		return nil, &domain.ValidationError{Field: "profile", Reason: "no query text"}
	}

	start := time.Now()
	vector, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed profile query: %w", err)
	}

	candidates, err := s.candidates(ctx, profile)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNotReady
	}

	matches := course.RankByDistance(vector, candidates, limit)

	s.logger.DebugContext(ctx, "profile matched",
		"query", query,
		"candidates", len(candidates),
		"matches", len(matches),
		"duration", time.Since(start),
	)
	if s.metrics != nil {
		s.metrics.Count("matcher.queries", 1, nil)
		s.metrics.Timing("matcher.query_duration", time.Since(start), nil)
	}
	return matches, nil
}

// candidates narrows by interest tags first and falls back to the full
// embedded set when the tag filter matches nothing, so sparse tagging never
// hides every course.
func (s *MatcherService) candidates(
	ctx context.Context,
	profile model.UserProfile,
) ([]model.CourseRecord, error) {
	tags := normalizeQueryTags(profile.Interests)
	if len(tags) > 0 {
		tagged, err := s.courses.Candidates(ctx, tags, 0)
		if err != nil {
			return nil, fmt.Errorf("load tagged candidates: %w", err)
		}
		if len(tagged) > 0 {
			return tagged, nil
		}
	}

	all, err := s.courses.Candidates(ctx, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	return all, nil
}

// MatchSession ranks courses for a completed conversation session.
func (s *MatcherService) MatchSession(
	ctx context.Context,
	sessionID string,
	limit int,
) ([]model.CourseMatch, error) {
	if s.sessions == nil {
		return nil, errors.New("session store not configured")
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if session.State != model.StateCompleted || session.Profile == nil {
		return nil, &domain.SessionStateError{
			SessionID: sessionID,
			State:     string(session.State),
			Op:        "match",
		}
	}
	return s.Match(ctx, *session.Profile, limit)
}

// normalizeQueryTags maps interests onto the same vocabulary courses are
// tagged with, keeping unmapped interests verbatim so the overlap filter sees
// both controlled and legacy tags.
func normalizeQueryTags(interests []string) []string {
	var tags []string
	seen := make(map[string]struct{}, len(interests))
	add := func(tag string) {
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	for _, interest := range interests {
		tag := strings.ToLower(strings.TrimSpace(interest))
		if tag == "" {
			continue
		}
		if topic, ok := course.DefaultVocabulary.MapTag(tag); ok {
			add(topic)
		}
		add(tag)
	}
	return tags
}
