package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

// ReportRepository persists individual violation reports.
type ReportRepository struct {
	pool *pgxpool.Pool
}

func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

const reportCols = "id, group_id, project_id, received_at, effective_directive, blocked_uri, document_uri, disposition, user_agent, reported_by, fields"

// Insert stores one report under its group.
func (r *ReportRepository) Insert(ctx context.Context, report *domain.Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = time.Now().UTC()
	}
	fields := report.Fields
	if len(fields) == 0 {
		fields = []byte("{}")
	}

	const q = `
insert into csp_reports (id, group_id, project_id, received_at, effective_directive, blocked_uri, document_uri, disposition, user_agent, reported_by, fields)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb);
`
	_, err := r.pool.Exec(ctx, q,
		report.ID,
		report.GroupID,
		report.ProjectID,
		report.ReceivedAt,
		report.EffectiveDirective,
		report.BlockedURI,
		report.DocumentURI,
		report.Disposition,
		report.UserAgent,
		report.ReportedBy,
		fields,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetByID loads one report scoped to a project.
func (r *ReportRepository) GetByID(ctx context.Context, projectID, id string) (*domain.Report, error) {
	const q = `
select ` + reportCols + `
from csp_reports
where project_id = $1 and id = $2;
`
	report, err := scanReport(r.pool.QueryRow(ctx, q, projectID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReportNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// ListByGroup returns a group's reports, newest first.
func (r *ReportRepository) ListByGroup(ctx context.Context, projectID, groupID string, limit int) ([]domain.Report, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
select ` + reportCols + `
from csp_reports
where project_id = $1 and group_id = $2
order by received_at desc
limit $3;
`
	rows, err := r.pool.Query(ctx, q, projectID, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Report, 0, limit)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

// CountSince counts a project's reports received at or after since.
func (r *ReportRepository) CountSince(ctx context.Context, projectID string, since time.Time) (int64, error) {
	const q = `select count(*) from csp_reports where project_id = $1 and received_at >= $2;`

	var count int64
	if err := r.pool.QueryRow(ctx, q, projectID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}

// DeleteBatchBefore removes up to batchSize reports older than cutoff
// and returns how many went. Callers loop until it reports zero.
func (r *ReportRepository) DeleteBatchBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	const q = `
delete from csp_reports
where id in (
	select id from csp_reports
	where received_at < $1
	order by received_at
	limit $2
);
`
	tag, err := r.pool.Exec(ctx, q, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired reports: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanReport(row pgx.Row) (*domain.Report, error) {
	var report domain.Report
	if err := row.Scan(
		&report.ID,
		&report.GroupID,
		&report.ProjectID,
		&report.ReceivedAt,
		&report.EffectiveDirective,
		&report.BlockedURI,
		&report.DocumentURI,
		&report.Disposition,
		&report.UserAgent,
		&report.ReportedBy,
		&report.Fields,
	); err != nil {
		return nil, err
	}
	return &report, nil
}
