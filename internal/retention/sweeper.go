package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultBatchSize = 1000

// ReportPruner deletes expired reports in bounded batches.
type ReportPruner interface {
	DeleteBatchBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// GroupPruner removes groups that no longer carry live data.
type GroupPruner interface {
	DeletePending(ctx context.Context) (int64, error)
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver exports expired reports to cold storage before they are
// deleted.
type Archiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepStats summarizes one retention pass.
type SweepStats struct {
	Cutoff          time.Time
	ArchivedReports int64
	DeletedReports  int64
	DeletedGroups   int64
	PurgedGroups    int64
	Took            time.Duration
}

// Sweeper applies the retention policy: archive expired reports, delete
// them in batches, then drop groups queued for deletion and groups left
// with no reports inside the retention window.
type Sweeper struct {
	reports  ReportPruner
	groups   GroupPruner
	archiver Archiver
	days     int
	batch    int
	logger   *zap.Logger
}

// NewSweeper builds a sweeper keeping the last retentionDays of
// reports. archiver may be nil when no cold storage is configured.
func NewSweeper(reports ReportPruner, groups GroupPruner, archiver Archiver, retentionDays, batchSize int, logger *zap.Logger) *Sweeper {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Sweeper{
		reports:  reports,
		groups:   groups,
		archiver: archiver,
		days:     retentionDays,
		batch:    batchSize,
		logger:   logger,
	}
}

// Run executes one retention pass. Reports are never deleted if the
// archive step fails; losing the cap on table growth for a night is
// cheaper than losing data.
func (s *Sweeper) Run(ctx context.Context) (*SweepStats, error) {
	started := time.Now()
	stats := &SweepStats{
		Cutoff: started.AddDate(0, 0, -s.days),
	}

	if s.archiver != nil {
		archived, err := s.archiver.ArchiveBefore(ctx, stats.Cutoff)
		if err != nil {
			return nil, fmt.Errorf("archive expired reports: %w", err)
		}
		stats.ArchivedReports = archived
	}

	for {
		deleted, err := s.reports.DeleteBatchBefore(ctx, stats.Cutoff, s.batch)
		if err != nil {
			return nil, fmt.Errorf("delete expired reports: %w", err)
		}
		stats.DeletedReports += deleted
		if deleted < int64(s.batch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	deletedGroups, err := s.groups.DeletePending(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete pending groups: %w", err)
	}
	stats.DeletedGroups = deletedGroups

	purged, err := s.groups.PurgeStale(ctx, stats.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge stale groups: %w", err)
	}
	stats.PurgedGroups = purged

	stats.Took = time.Since(started)
	s.logger.Info("retention sweep finished",
		zap.Time("cutoff", stats.Cutoff),
		zap.Int64("archived_reports", stats.ArchivedReports),
		zap.Int64("deleted_reports", stats.DeletedReports),
		zap.Int64("deleted_groups", stats.DeletedGroups),
		zap.Int64("purged_groups", stats.PurgedGroups),
		zap.Duration("took", stats.Took))
	return stats, nil
}
