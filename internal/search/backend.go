package search

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

// Backend runs group searches against Postgres.
type Backend struct {
	pool *pgxpool.Pool
}

func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

type groupRow struct {
	group     domain.Group
	sortValue int64
}

// Query returns one page of matching groups in descending sort order,
// with cursors for the neighbouring pages.
func (b *Backend) Query(ctx context.Context, q Query) (*Result, error) {
	sql, args, err := buildPageSQL(q)
	if err != nil {
		return nil, err
	}

	rows, err := b.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}
	defer rows.Close()

	var scanned []groupRow
	for rows.Next() {
		var (
			row    groupRow
			status int16
		)
		if err := rows.Scan(
			&row.group.ID,
			&row.group.ProjectID,
			&row.group.Fingerprint,
			&row.group.EffectiveDirective,
			&row.group.BlockedHost,
			&status,
			&row.group.TimesSeen,
			&row.group.FirstSeen,
			&row.group.LastSeen,
			&row.group.Score,
			&row.sortValue,
		); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		row.group.Status = domain.GroupStatus(status)
		row.group.StatusName = row.group.Status.String()
		scanned = append(scanned, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}

	result := paginate(q, scanned)

	if q.CountHits {
		countSQL, countArgs := buildCountSQL(q)
		if err := b.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&result.Hits); err != nil {
			return nil, fmt.Errorf("count groups: %w", err)
		}
	}

	return result, nil
}

// paginate trims the limit+1 scan down to a page and derives the
// neighbouring cursors. Scanned rows arrive in query order: descending
// for forward walks, ascending when following a prev cursor.
func paginate(q Query, scanned []groupRow) *Result {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	hasMore := len(scanned) > limit
	page := scanned
	if hasMore {
		page = scanned[:limit]
	}

	result := &Result{Hits: -1}

	prevMode := q.Cursor != nil && q.Cursor.Prev
	if prevMode {
		if hasMore {
			result.Prev = boundaryCursor(page, scanned[limit].sortValue, q.Cursor, true)
		}
		// Walking prev always leaves the page we came from ahead of us.
		result.Next = &Cursor{Value: q.Cursor.Value, Offset: 0, Prev: false}
		reverseRows(page)
	} else {
		if hasMore {
			result.Next = boundaryCursor(page, scanned[limit].sortValue, q.Cursor, false)
		}
		if q.Cursor != nil && len(page) > 0 {
			result.Prev = &Cursor{Value: page[0].sortValue, Offset: leadingEqual(page), Prev: true}
		}
	}

	result.Groups = make([]domain.Group, len(page))
	for i, row := range page {
		result.Groups[i] = row.group
	}
	return result
}

// boundaryCursor points at the first row beyond the page. Offset counts
// already-emitted rows sharing the boundary value so the next query can
// skip them, carrying the current cursor's offset across pages of ties.
func boundaryCursor(page []groupRow, boundary int64, carry *Cursor, prev bool) *Cursor {
	offset := 0
	for i := len(page) - 1; i >= 0; i-- {
		if page[i].sortValue != boundary {
			break
		}
		offset++
	}
	if carry != nil && carry.Value == boundary {
		offset += carry.Offset
	}
	return &Cursor{Value: boundary, Offset: offset, Prev: prev}
}

// leadingEqual counts how many rows at the head of the page share the
// first row's sort value. A prev scan must skip exactly those.
func leadingEqual(page []groupRow) int {
	n := 0
	for _, row := range page {
		if row.sortValue != page[0].sortValue {
			break
		}
		n++
	}
	return n
}

func reverseRows(rows []groupRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
