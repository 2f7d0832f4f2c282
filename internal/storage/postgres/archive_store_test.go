package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var archiveColumns = []string{
	"id", "group_id", "project_id", "received_at", "effective_directive",
	"blocked_uri", "document_uri", "disposition", "user_agent", "reported_by", "fields",
}

func newMockStore(t *testing.T) (*ArchiveStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewArchiveStore(db), mock
}

func TestListExpiredBatch(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	receivedAt := cutoff.Add(-48 * time.Hour)

	mock.ExpectQuery(`from csp_reports\s+where received_at < \$1 and id > \$2`).
		WithArgs(cutoff, "", 2).
		WillReturnRows(sqlmock.NewRows(archiveColumns).
			AddRow("r1", "g1", "web", receivedAt, "script-src",
				"https://evil.example", "https://app.example/checkout",
				"enforce", "Mozilla/5.0", "203.0.113.50", []byte(`{"line_number":12}`)).
			AddRow("r2", "g1", "web", receivedAt, "script-src",
				"https://evil.example", "https://app.example/cart",
				"", "", "", nil))

	batch, err := store.ListExpiredBatch(context.Background(), cutoff, "", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, "r1", batch[0].ID)
	assert.Equal(t, "g1", batch[0].GroupID)
	assert.Equal(t, "web", batch[0].ProjectID)
	assert.Equal(t, "script-src", batch[0].EffectiveDirective)
	assert.Equal(t, "203.0.113.50", batch[0].ReportedBy)
	assert.JSONEq(t, `{"line_number":12}`, string(batch[0].Fields))

	assert.Equal(t, "r2", batch[1].ID)
	assert.Empty(t, batch[1].Fields)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpiredBatch_Empty(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from csp_reports`).
		WithArgs(cutoff, "r99", 100).
		WillReturnRows(sqlmock.NewRows(archiveColumns))

	batch, err := store.ListExpiredBatch(context.Background(), cutoff, "r99", 100)
	require.NoError(t, err)
	assert.Empty(t, batch)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountExpired(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select count\(\*\) from csp_reports where received_at < \$1`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1234))

	count, err := store.CountExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), count)

	assert.NoError(t, mock.ExpectationsWereMet())
}
