package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

func i64(v int64) *int64 { return &v }

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestBuildPageSQL_Defaults(t *testing.T) {
	sql, args, err := buildPageSQL(Query{ProjectID: "web"})
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM csp_groups WHERE project_id = $1")
	assert.Contains(t, sql, "status NOT IN ($2, $3, $4)")
	assert.Contains(t, sql, "ORDER BY (extract(epoch from last_seen) * 1000)::bigint DESC, id DESC")
	assert.Contains(t, sql, "LIMIT 101 OFFSET 0")
	assert.Equal(t, []any{"web", int16(3), int16(4), int16(5)}, args)
}

func TestBuildPageSQL_ExplicitStatuses(t *testing.T) {
	sql, args, err := buildPageSQL(Query{
		ProjectID: "web",
		Statuses:  []domain.GroupStatus{domain.StatusResolved, domain.StatusIgnored},
		Sort:      SortFreq,
		Limit:     10,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "status IN ($2, $3)")
	assert.Contains(t, sql, "ORDER BY times_seen DESC, id DESC LIMIT 11")
	assert.Equal(t, []any{"web", int16(1), int16(2)}, args)
}

func TestBuildPageSQL_FieldFilters(t *testing.T) {
	sql, args, err := buildPageSQL(Query{
		ProjectID:   "web",
		Directives:  []string{"script-src", "style-src"},
		BlockedHost: "https://evil.example",
		Substring:   "evil",
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "effective_directive = ANY($5)")
	assert.Contains(t, sql, "blocked_host = $6")
	assert.Contains(t, sql, "(effective_directive ILIKE $7 OR blocked_host ILIKE $8)")
	assert.Equal(t, []string{"script-src", "style-src"}, args[4])
	assert.Equal(t, "%evil%", args[6])
	assert.Equal(t, "%evil%", args[7])
}

func TestBuildPageSQL_TimesSeenExactWinsOverBounds(t *testing.T) {
	sql, args, err := buildPageSQL(Query{
		ProjectID: "web",
		TimesSeen: &IntRange{Exact: i64(7), Lower: i64(1)},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "times_seen = $5")
	assert.NotContains(t, sql, "times_seen >")
	assert.Equal(t, int64(7), args[4])
}

func TestBuildPageSQL_TimesSeenBounds(t *testing.T) {
	sql, _, err := buildPageSQL(Query{
		ProjectID: "web",
		TimesSeen: &IntRange{
			Lower: i64(5), LowerInclusive: true,
			Upper: i64(50),
		},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "times_seen >= $5")
	assert.Contains(t, sql, "times_seen < $6")
}

func TestBuildPageSQL_TimeRanges(t *testing.T) {
	sql, args, err := buildPageSQL(Query{
		ProjectID: "web",
		FirstSeen: &TimeRange{From: ts("2026-08-01T00:00:00Z"), FromInclusive: true},
		LastSeen:  &TimeRange{To: ts("2026-08-20T00:00:00Z")},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "first_seen >= $5")
	assert.Contains(t, sql, "last_seen < $6")
	assert.Equal(t, *ts("2026-08-01T00:00:00Z"), args[4])
	assert.Equal(t, *ts("2026-08-20T00:00:00Z"), args[5])
}

func TestBuildPageSQL_ReceivedWindowSubquery(t *testing.T) {
	sql, _, err := buildPageSQL(Query{
		ProjectID:    "web",
		ReceivedFrom: ts("2026-08-01T00:00:00Z"),
		ReceivedTo:   ts("2026-08-02T00:00:00Z"),
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "id IN (SELECT DISTINCT group_id FROM csp_reports WHERE project_id = $5")
	assert.Contains(t, sql, "received_at >= $6")
	assert.Contains(t, sql, "received_at <= $7")
	assert.Contains(t, sql, "LIMIT 1000)")
}

func TestBuildPageSQL_ForwardCursor(t *testing.T) {
	sql, args, err := buildPageSQL(Query{
		ProjectID: "web",
		Sort:      SortPriority,
		Limit:     25,
		Cursor:    &Cursor{Value: 987654, Offset: 3},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "score <= $5")
	assert.Contains(t, sql, "ORDER BY score DESC, id DESC LIMIT 26 OFFSET 3")
	assert.Equal(t, int64(987654), args[4])
}

func TestBuildPageSQL_PrevCursorFlipsDirection(t *testing.T) {
	sql, _, err := buildPageSQL(Query{
		ProjectID: "web",
		Sort:      SortNew,
		Limit:     25,
		Cursor:    &Cursor{Value: 1700000000000, Offset: 0, Prev: true},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "(extract(epoch from first_seen) * 1000)::bigint >= $5")
	assert.Contains(t, sql, "ORDER BY (extract(epoch from first_seen) * 1000)::bigint ASC, id ASC")
}

func TestBuildPageSQL_InvalidSort(t *testing.T) {
	_, _, err := buildPageSQL(Query{ProjectID: "web", Sort: SortKey("bogus")})
	assert.Error(t, err)
}

func TestBuildCountSQL_CapsHits(t *testing.T) {
	sql, args := buildCountSQL(Query{ProjectID: "web", Cursor: &Cursor{Value: 5}})

	assert.Contains(t, sql, "SELECT count(*) FROM (SELECT 1 FROM csp_groups WHERE")
	assert.Contains(t, sql, "LIMIT 1000) matched")
	// The cursor never narrows the hit count.
	assert.NotContains(t, sql, "<=")
	assert.Len(t, args, 4)
}

func TestParseSortKey(t *testing.T) {
	key, err := ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortDate, key)

	key, err = ParseSortKey("priority")
	require.NoError(t, err)
	assert.Equal(t, SortPriority, key)

	_, err = ParseSortKey("velocity")
	assert.Error(t, err)
}
