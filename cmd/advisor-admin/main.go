// Command advisor-admin provides operational helpers for the course advisor
// pipeline: migrations, development seeding, and queue inspection.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/waiterbildung/course-advisor/config"
	"github.com/waiterbildung/course-advisor/internal/bootstrap"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/devseed"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

type command struct {
	name        string
	description string
	run         func(cmdCtx *commandContext, args []string) error
}

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run database migrations and seed development scrape targets",
			run:         runDBSeed,
		},
		"job-stats": {
			name:        "job-stats",
			description: "Print queue depth per job type",
			run:         runJobStats,
		},
		"requeue-expired": {
			name:        "requeue-expired",
			description: "Requeue jobs whose lease expired (crashed workers)",
			run:         runRequeueExpired,
		},
		"job-cancel": {
			name:        "job-cancel",
			description: "Cancel a pending job before a worker picks it up",
			run:         runJobCancel,
		},
	}
}

func printUsage() error {
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := writef(os.Stderr, "usage: advisor-admin <command> [flags]\n\ncommands:\n"); err != nil {
		return err
	}
	for _, name := range names {
		if err := writef(os.Stderr, "  %-16s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func connectDB(cmdCtx *commandContext) (*sql.DB, func(), error) {
	conn, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	cleanup := func() {
		if cerr := conn.Close(); cerr != nil {
			cmdCtx.Logger.Error("close database failed", "error", cerr)
		}
	}
	return conn, cleanup, nil
}

func runMigrate(cmdCtx *commandContext, _ []string) error {
	db, cleanup, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	return bootstrap.RunMigrations(cmdCtx.Ctx, db, cmdCtx.Logger)
}

func runDBSeed(cmdCtx *commandContext, _ []string) error {
	db, cleanup, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err = bootstrap.RunMigrations(cmdCtx.Ctx, db, cmdCtx.Logger); err != nil {
		return err
	}
	return devseed.Run(cmdCtx.Ctx, devseed.NewServices(db), cmdCtx.Logger)
}

func runJobStats(cmdCtx *commandContext, _ []string) error {
	db, cleanup, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	repo := data.NewJobRepo(db, data.RepoConfig{})
	for _, jobType := range []model.JobType{model.JobTypeScrape, model.JobTypeEmbed, model.JobTypeNotify} {
		stats, statsErr := repo.Stats(cmdCtx.Ctx, jobType)
		if statsErr != nil {
			return fmt.Errorf("stats for %s: %w", jobType, statsErr)
		}
		if err = writef(os.Stdout, "%-8s pending=%d retrying=%d running=%d completed=%d failed=%d\n",
			jobType, stats.Pending, stats.Retrying, stats.Running, stats.Completed, stats.Failed); err != nil {
			return err
		}
	}
	return nil
}

func runJobCancel(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-cancel", flag.ContinueOnError)
	id := fs.String("id", "", "id of the pending job to cancel")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	db, cleanup, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	repo := data.NewJobRepo(db, data.RepoConfig{})
	if err := repo.Cancel(cmdCtx.Ctx, *id); err != nil {
		return fmt.Errorf("cancel job %s: %w", *id, err)
	}
	cmdCtx.Logger.InfoContext(cmdCtx.Ctx, "job cancelled", "job_id", *id)
	return nil
}

func runRequeueExpired(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("requeue-expired", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "maximum jobs to requeue per type")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, cleanup, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	repo := data.NewJobRepo(db, data.RepoConfig{})
	for _, jobType := range []model.JobType{model.JobTypeScrape, model.JobTypeEmbed, model.JobTypeNotify} {
		n, requeueErr := repo.RequeueExpired(cmdCtx.Ctx, jobType, *limit)
		if requeueErr != nil {
			return fmt.Errorf("requeue expired %s jobs: %w", jobType, requeueErr)
		}
		cmdCtx.Logger.InfoContext(cmdCtx.Ctx, "requeued expired jobs", "job_type", jobType, "count", n)
	}
	return nil
}
