package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/config"
	"github.com/cspwatch/cspwatch/internal/archive"
	"github.com/cspwatch/cspwatch/internal/bootstrap"
	"github.com/cspwatch/cspwatch/internal/retention"
	"github.com/cspwatch/cspwatch/internal/storage/postgres"
	"github.com/cspwatch/cspwatch/internal/violations/repository"
)

var (
	cfg    *config.Config
	logger *zap.Logger

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "cspwatch-worker",
	Short: "Maintenance and triage tooling for the cspwatch collector",
	Long: `cspwatch-worker runs the offline side of the collector: retention
sweeps, cold-storage exports, and quick terminal views of what the API
is ingesting. Commands read the same environment configuration as the
API server, so a worker pointed at the right .env needs no flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.App.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		logger, err = bootstrap.NewLogger(level, cfg.App.Environment)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(tailCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	return bootstrap.OpenDB(ctx, bootstrap.DBOptions{
		DSN:      cfg.Database.DSN(),
		MaxConns: 4,
	})
}

// buildSweeper assembles the retention sweeper from config. The archiver
// slot stays nil when no bucket is configured, in which case expired
// reports are deleted without an export. The returned cleanup closes the
// archiver's own database handle.
func buildSweeper(ctx context.Context, pool *pgxpool.Pool) (*retention.Sweeper, func(), error) {
	groups := repository.NewGroupRepository(pool)
	reports := repository.NewReportRepository(pool)

	var archiver retention.Archiver
	cleanup := func() {}

	if cfg.Archive.Bucket != "" {
		db, err := postgres.NewConnection(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive connection: %w", err)
		}
		s3Client, err := archive.NewS3Client(ctx, cfg.Archive.Region)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		archiver = archive.NewExporter(
			postgres.NewArchiveStore(db),
			s3Client,
			cfg.Archive.Bucket,
			cfg.Archive.Prefix,
			cfg.Retention.BatchSize,
			cfg.Archive.Concurrency,
			logger,
		)
		cleanup = func() { db.Close() }
	}

	sweeper := retention.NewSweeper(reports, groups, archiver, cfg.Retention.Days, cfg.Retention.BatchSize, logger)
	return sweeper, cleanup, nil
}
