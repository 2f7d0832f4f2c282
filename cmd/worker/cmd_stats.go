package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cspwatch/cspwatch/internal/storage/postgres"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
	"github.com/cspwatch/cspwatch/internal/violations/repository"
)

var statsProject string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show group and report counts",
	Long: `stats prints the triage-state breakdown across all projects, how
many reports the retention window would expire today, and, with
--project, a per-directive breakdown for one project.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsProject, "project", "", "limit the directive breakdown to one project")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	groups := repository.NewGroupRepository(pool)

	byStatus, err := groups.CountByStatus(ctx)
	if err != nil {
		return err
	}

	statusTable := newTable("Groups by status", "status", "groups")
	for _, status := range []domain.GroupStatus{
		domain.StatusUnresolved,
		domain.StatusResolved,
		domain.StatusIgnored,
		domain.StatusPendingDeletion,
		domain.StatusDeletionInProgress,
		domain.StatusPendingMerge,
	} {
		if count, ok := byStatus[status]; ok {
			statusTable.addRow(status.String(), strconv.FormatInt(count, 10))
		}
	}
	cmd.Println(statusTable.render())

	db, err := postgres.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -cfg.Retention.Days)
	expired, err := postgres.NewArchiveStore(db).CountExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	cmd.Printf("%d reports older than %d days (next sweep's workload)\n", expired, cfg.Retention.Days)

	if statsProject == "" {
		return nil
	}

	directives, err := groups.CountByDirective(ctx, statsProject)
	if err != nil {
		return err
	}

	reports := repository.NewReportRepository(pool)
	last24h, err := reports.CountSince(ctx, statsProject, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}

	directiveTable := newTable("Directives in "+statsProject, "directive", "groups", "reports")
	for _, row := range directives {
		directiveTable.addRow(row.Directive, strconv.FormatInt(row.Groups, 10), strconv.FormatInt(row.Reports, 10))
	}
	cmd.Println(directiveTable.render())
	cmd.Printf("%d reports in the last 24h\n", last24h)

	return nil
}
