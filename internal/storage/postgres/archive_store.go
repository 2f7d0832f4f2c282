package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ArchivedReport is one report row as it appears in an export file. The
// stored field mapping rides along verbatim.
type ArchivedReport struct {
	ID                 string          `json:"id"`
	GroupID            string          `json:"group_id"`
	ProjectID          string          `json:"project_id"`
	ReceivedAt         time.Time       `json:"received_at"`
	EffectiveDirective string          `json:"effective_directive"`
	BlockedURI         string          `json:"blocked_uri"`
	DocumentURI        string          `json:"document_uri"`
	Disposition        string          `json:"disposition,omitempty"`
	UserAgent          string          `json:"user_agent,omitempty"`
	ReportedBy         string          `json:"reported_by,omitempty"`
	Fields             json.RawMessage `json:"fields,omitempty"`
}

// ArchiveStore reads reports that have aged out of the retention
// window so they can be exported before deletion.
type ArchiveStore struct {
	db *sql.DB
}

func NewArchiveStore(db *sql.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// CountExpired reports how many rows are older than cutoff.
func (s *ArchiveStore) CountExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `select count(*) from csp_reports where received_at < $1`

	var count int64
	if err := s.db.QueryRowContext(ctx, q, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("count expired reports: %w", err)
	}
	return count, nil
}

// ListExpiredBatch returns up to limit expired reports with an id
// greater than afterID, ordered by id. Pass the last id of the previous
// batch to walk the whole set; an empty afterID starts from the top.
func (s *ArchiveStore) ListExpiredBatch(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]ArchivedReport, error) {
	const q = `
		select id, group_id, project_id, received_at, effective_directive,
		       blocked_uri, document_uri, disposition, user_agent, reported_by, fields
		from csp_reports
		where received_at < $1 and id > $2
		order by id
		limit $3`

	rows, err := s.db.QueryContext(ctx, q, cutoff, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reports: %w", err)
	}
	defer rows.Close()

	var batch []ArchivedReport
	for rows.Next() {
		var report ArchivedReport
		var fields []byte
		if err := rows.Scan(
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
			&fields,
		); err != nil {
			return nil, fmt.Errorf("scan expired report: %w", err)
		}
		report.Fields = json.RawMessage(fields)
		batch = append(batch, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reports: %w", err)
	}
	return batch, nil
}
