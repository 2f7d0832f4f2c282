package main

import (
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cspwatch/cspwatch/internal/retention"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention pass now",
	Long: `sweep archives and deletes reports older than the retention window,
removes groups marked for deletion, and purges stale empty groups. It is
the same pass the scheduler runs nightly, executed once in the foreground.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sweeper, cleanup, err := buildSweeper(ctx, pool)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}

	t := newTable("Retention sweep", "metric", "value")
	t.addRow("cutoff", stats.Cutoff.Format(time.RFC3339))
	t.addRow("archived reports", strconv.FormatInt(stats.ArchivedReports, 10))
	t.addRow("deleted reports", strconv.FormatInt(stats.DeletedReports, 10))
	t.addRow("deleted groups", strconv.FormatInt(stats.DeletedGroups, 10))
	t.addRow("purged stale groups", strconv.FormatInt(stats.PurgedGroups, 10))
	t.addRow("took", stats.Took.Round(time.Millisecond).String())
	cmd.Println(t.render())

	return nil
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the retention scheduler in the foreground",
	Long: `schedule starts the cron scheduler and blocks until interrupted.
The sweep spec comes from RETENTION_SWEEP_SPEC (six-field cron, default
3am daily). Use this as the long-running worker process next to the API.`,
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sweeper, cleanup, err := buildSweeper(ctx, pool)
	if err != nil {
		return err
	}
	defer cleanup()

	scheduler := retention.NewScheduler(sweeper, cfg.Retention.SweepSpec, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}

	cmd.Printf("retention scheduler running (spec %q), ctrl-c to stop\n", cfg.Retention.SweepSpec)

	<-ctx.Done()

	logger.Info("stopping retention scheduler")
	scheduler.Stop()
	return nil
}
