package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the violation tables on startup. Statements
// are idempotent so every instance can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS csp_groups (
	id                  uuid PRIMARY KEY,
	project_id          text NOT NULL,
	fingerprint         bigint NOT NULL,
	effective_directive text NOT NULL,
	blocked_host        text NOT NULL DEFAULT '',
	status              smallint NOT NULL DEFAULT 0,
	times_seen          bigint NOT NULL DEFAULT 1,
	first_seen          timestamptz NOT NULL,
	last_seen           timestamptz NOT NULL,
	score               bigint NOT NULL DEFAULT 0,
	UNIQUE (project_id, fingerprint)
)`,
	`CREATE INDEX IF NOT EXISTS csp_groups_project_score_idx
	ON csp_groups (project_id, score DESC)`,
	`CREATE INDEX IF NOT EXISTS csp_groups_project_last_seen_idx
	ON csp_groups (project_id, last_seen DESC)`,
	`CREATE TABLE IF NOT EXISTS csp_reports (
	id                  uuid PRIMARY KEY,
	group_id            uuid NOT NULL REFERENCES csp_groups (id) ON DELETE CASCADE,
	project_id          text NOT NULL,
	received_at         timestamptz NOT NULL,
	effective_directive text NOT NULL,
	blocked_uri         text NOT NULL DEFAULT '',
	document_uri        text NOT NULL DEFAULT '',
	disposition         text NOT NULL DEFAULT '',
	user_agent          text NOT NULL DEFAULT '',
	reported_by         text NOT NULL DEFAULT '',
	fields              jsonb NOT NULL DEFAULT '{}'::jsonb
)`,
	`CREATE INDEX IF NOT EXISTS csp_reports_group_received_idx
	ON csp_reports (group_id, received_at DESC)`,
	`CREATE INDEX IF NOT EXISTS csp_reports_project_received_idx
	ON csp_reports (project_id, received_at)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
