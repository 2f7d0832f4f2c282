package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cspwatch/cspwatch/internal/archive"
	"github.com/cspwatch/cspwatch/internal/storage/postgres"
)

var archiveDays int

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export expired reports to S3 without deleting them",
	Long: `archive uploads reports older than the retention window as gzipped
NDJSON objects, one per project and day, and leaves the rows in place.
Useful for backfilling cold storage before enabling the nightly sweep.`,
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().IntVar(&archiveDays, "days", 0, "override the retention window in days")
}

func runArchive(cmd *cobra.Command, args []string) error {
	if cfg.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_S3_BUCKET is not set")
	}

	days := archiveDays
	if days <= 0 {
		days = cfg.Retention.Days
	}

	ctx := cmd.Context()

	db, err := postgres.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	s3Client, err := archive.NewS3Client(ctx, cfg.Archive.Region)
	if err != nil {
		return err
	}

	exporter := archive.NewExporter(
		postgres.NewArchiveStore(db),
		s3Client,
		cfg.Archive.Bucket,
		cfg.Archive.Prefix,
		cfg.Retention.BatchSize,
		cfg.Archive.Concurrency,
		logger,
	)

	cutoff := time.Now().AddDate(0, 0, -days)
	total, err := exporter.ArchiveBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	cmd.Printf("archived %d reports received before %s\n", total, cutoff.Format(time.RFC3339))
	return nil
}
