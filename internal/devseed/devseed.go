// Package devseed populates a development database with sample scrape
// targets so the pipeline has something to chew on immediately after
// startup. Seeding is idempotent; existing rows are left alone.
package devseed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB      *sql.DB
	targets *data.TargetRepo
}

// NewServices constructs all required repositories for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:      db,
		targets: data.NewTargetRepo(db),
	}
}

// Run executes the full development seeding workflow against the provided DB.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := seedTargets(ctx, svcs.targets, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedTargets(ctx context.Context, repo *data.TargetRepo, logger *slog.Logger) int {
	failures := 0
	targets := []model.CreateTargetRequest{
		{
			Name:      "sample-university",
			SourceURL: "https://courses.sample-university.example/catalog",
			Ruleset: model.RulesetConfig{
				Kind:          model.RulesetKindHTML,
				Item:          "div.course-card",
				Title:         "h2.course-title",
				Description:   "p.course-summary",
				URL:           "a.course-link",
				Tags:          "span.course-topic",
				MaxDepth:      2,
				LinkPattern:   `/catalog/page/\d+`,
				DefaultLocale: "en",
			},
			ScheduleInterval: 24 * time.Hour,
			Enabled:          true,
		},
		{
			Name:      "sample-bootcamp-api",
			SourceURL: "https://api.sample-bootcamp.example/v1/courses",
			Ruleset: model.RulesetConfig{
				Kind:          model.RulesetKindJSON,
				Item:          "data.courses",
				Title:         "name",
				Description:   "summary",
				URL:           "link",
				Locale:        "lang",
				Tags:          "topics",
				DefaultLocale: "de",
			},
			ScheduleInterval: 12 * time.Hour,
			Enabled:          true,
		},
		{
			Name:      "sample-academy-disabled",
			SourceURL: "https://sample-academy.example/courses",
			Ruleset: model.RulesetConfig{
				Kind:          model.RulesetKindHTML,
				Item:          "article.course",
				Title:         "h3",
				Description:   "div.abstract",
				DefaultLocale: "en",
			},
			ScheduleInterval: 24 * time.Hour,
			Enabled:          false,
		},
	}

	for i := range targets {
		created, err := createTarget(ctx, repo, &targets[i])
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create scrape target", "name", targets[i].Name, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "scrape target already exists"
			if created {
				msg = "created scrape target"
			}
			logger.InfoContext(ctx, msg, "name", targets[i].Name)
		}
	}

	return failures
}

func createTarget(ctx context.Context, repo *data.TargetRepo, req *model.CreateTargetRequest) (bool, error) {
	if _, err := repo.Create(ctx, req); err != nil {
		if errors.Is(err, data.ErrTargetExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
