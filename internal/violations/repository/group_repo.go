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

// GroupRepository persists violation groups.
type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// GroupSeed is the grouping key plus the observation time of one report.
type GroupSeed struct {
	ProjectID          string
	Fingerprint        int64
	EffectiveDirective string
	BlockedHost        string
	SeenAt             time.Time
}

const groupCols = "id, project_id, fingerprint, effective_directive, blocked_host, status, times_seen, first_seen, last_seen, score"

// Fold records one occurrence of the seed's group, creating it on first
// sight. Reoccurrence bumps times_seen and last_seen, recomputes the
// priority score, and reopens groups a user had resolved. log() is base
// ten so the score matches what the priority sort expects.
func (r *GroupRepository) Fold(ctx context.Context, seed GroupSeed) (*domain.Group, error) {
	const q = `
insert into csp_groups (id, project_id, fingerprint, effective_directive, blocked_host, status, times_seen, first_seen, last_seen, score)
values ($1, $2, $3, $4, $5, 0, 1, $6, $6, extract(epoch from $6::timestamptz)::bigint)
on conflict (project_id, fingerprint) do update
set
  times_seen = csp_groups.times_seen + 1,
  last_seen  = greatest(csp_groups.last_seen, excluded.last_seen),
  status     = case when csp_groups.status = 1 then 0 else csp_groups.status end,
  score      = (log(csp_groups.times_seen + 1) * 600)::bigint
             + extract(epoch from greatest(csp_groups.last_seen, excluded.last_seen))::bigint
returning ` + groupCols + `;
`
	seenAt := seed.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}

	row := r.pool.QueryRow(ctx, q,
		uuid.New().String(),
		seed.ProjectID,
		seed.Fingerprint,
		seed.EffectiveDirective,
		seed.BlockedHost,
		seenAt,
	)

	group, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("fold group: %w", err)
	}
	return group, nil
}

// GetByID loads one group scoped to a project.
func (r *GroupRepository) GetByID(ctx context.Context, projectID, id string) (*domain.Group, error) {
	const q = `
select ` + groupCols + `
from csp_groups
where project_id = $1 and id = $2;
`
	group, err := scanGroup(r.pool.QueryRow(ctx, q, projectID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

// UpdateStatus moves a group to a new triage state.
func (r *GroupRepository) UpdateStatus(ctx context.Context, projectID, id string, status domain.GroupStatus) (*domain.Group, error) {
	const q = `
update csp_groups
set status = $3
where project_id = $1 and id = $2
returning ` + groupCols + `;
`
	group, err := scanGroup(r.pool.QueryRow(ctx, q, projectID, id, int16(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("update group status: %w", err)
	}
	return group, nil
}

// DirectiveCount is one row of the per-directive breakdown.
type DirectiveCount struct {
	Directive string `json:"directive"`
	Groups    int64  `json:"groups"`
	Reports   int64  `json:"reports"`
}

// CountByDirective summarizes a project's open groups per directive.
func (r *GroupRepository) CountByDirective(ctx context.Context, projectID string) ([]DirectiveCount, error) {
	const q = `
select effective_directive, count(*), sum(times_seen)
from csp_groups
where project_id = $1 and status in (0, 1, 2)
group by effective_directive
order by sum(times_seen) desc;
`
	rows, err := r.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("count by directive: %w", err)
	}
	defer rows.Close()

	out := make([]DirectiveCount, 0, 16)
	for rows.Next() {
		var c DirectiveCount
		if err := rows.Scan(&c.Directive, &c.Groups, &c.Reports); err != nil {
			return nil, fmt.Errorf("scan directive count: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by directive: %w", err)
	}
	return out, nil
}

// CountByStatus breaks all groups down by triage state, for metrics and
// the worker's stats command.
func (r *GroupRepository) CountByStatus(ctx context.Context) (map[domain.GroupStatus]int64, error) {
	const q = `select status, count(*) from csp_groups group by status;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.GroupStatus]int64)
	for rows.Next() {
		var (
			status int16
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[domain.GroupStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return out, nil
}

// DeletePending removes groups whose deletion was requested. Reports go
// with them through the cascade. Returns the number of groups removed.
func (r *GroupRepository) DeletePending(ctx context.Context) (int64, error) {
	const q = `delete from csp_groups where status in ($1, $2);`

	tag, err := r.pool.Exec(ctx, q,
		int16(domain.StatusPendingDeletion),
		int16(domain.StatusDeletionInProgress),
	)
	if err != nil {
		return 0, fmt.Errorf("delete pending groups: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeStale removes groups whose reports all aged out of retention.
func (r *GroupRepository) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
delete from csp_groups g
where g.last_seen < $1
  and not exists (select 1 from csp_reports r where r.group_id = g.id);
`
	tag, err := r.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge stale groups: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanGroup(row pgx.Row) (*domain.Group, error) {
	var (
		g      domain.Group
		status int16
	)
	if err := row.Scan(
		&g.ID, &g.ProjectID, &g.Fingerprint, &g.EffectiveDirective, &g.BlockedHost,
		&status, &g.TimesSeen, &g.FirstSeen, &g.LastSeen, &g.Score,
	); err != nil {
		return nil, err
	}
	g.Status = domain.GroupStatus(status)
	g.StatusName = g.Status.String()
	return &g, nil
}
