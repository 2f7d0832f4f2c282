package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

const defaultLimit = 100

const groupColumns = "id, project_id, fingerprint, effective_directive, blocked_host, status, times_seen, first_seen, last_seen, score"

// hiddenStatuses are excluded from searches that do not filter status
// explicitly.
var hiddenStatuses = []domain.GroupStatus{
	domain.StatusPendingDeletion,
	domain.StatusDeletionInProgress,
	domain.StatusPendingMerge,
}

// clauseBuilder accumulates WHERE clauses with positional args.
type clauseBuilder struct {
	clauses []string
	args    []any
}

func (b *clauseBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *clauseBuilder) add(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *clauseBuilder) where() string {
	return strings.Join(b.clauses, " AND ")
}

// buildFilters translates every non-cursor filter of q into WHERE
// clauses. Shared between the page query and the hit-count query.
func buildFilters(b *clauseBuilder, q Query) {
	b.add("project_id = " + b.arg(q.ProjectID))

	if len(q.Statuses) == 0 {
		placeholders := make([]string, len(hiddenStatuses))
		for i, status := range hiddenStatuses {
			placeholders[i] = b.arg(int16(status))
		}
		b.add("status NOT IN (" + strings.Join(placeholders, ", ") + ")")
	} else {
		placeholders := make([]string, len(q.Statuses))
		for i, status := range q.Statuses {
			placeholders[i] = b.arg(int16(status))
		}
		b.add("status IN (" + strings.Join(placeholders, ", ") + ")")
	}

	if len(q.Directives) > 0 {
		b.add("effective_directive = ANY(" + b.arg(q.Directives) + ")")
	}

	if q.BlockedHost != "" {
		b.add("blocked_host = " + b.arg(q.BlockedHost))
	}

	if q.Substring != "" {
		pattern := "%" + q.Substring + "%"
		b.add("(effective_directive ILIKE " + b.arg(pattern) + " OR blocked_host ILIKE " + b.arg(pattern) + ")")
	}

	if !q.TimesSeen.empty() {
		r := q.TimesSeen
		switch {
		case r.Exact != nil:
			b.add("times_seen = " + b.arg(*r.Exact))
		default:
			if r.Lower != nil {
				b.add("times_seen " + boundOp(">", r.LowerInclusive) + " " + b.arg(*r.Lower))
			}
			if r.Upper != nil {
				b.add("times_seen " + boundOp("<", r.UpperInclusive) + " " + b.arg(*r.Upper))
			}
		}
	}

	addTimeRange(b, "first_seen", q.FirstSeen)
	addTimeRange(b, "last_seen", q.LastSeen)

	if q.ReceivedFrom != nil || q.ReceivedTo != nil {
		sub := &strings.Builder{}
		sub.WriteString("id IN (SELECT DISTINCT group_id FROM csp_reports WHERE project_id = ")
		sub.WriteString(b.arg(q.ProjectID))
		if q.ReceivedFrom != nil {
			sub.WriteString(" AND received_at >= " + b.arg(*q.ReceivedFrom))
		}
		if q.ReceivedTo != nil {
			sub.WriteString(" AND received_at <= " + b.arg(*q.ReceivedTo))
		}
		sub.WriteString(fmt.Sprintf(" LIMIT %d)", dateFilterGroupLimit))
		b.add(sub.String())
	}
}

func addTimeRange(b *clauseBuilder, column string, r *TimeRange) {
	if r.empty() {
		return
	}
	if r.From != nil {
		b.add(column + " " + boundOp(">", r.FromInclusive) + " " + b.arg(*r.From))
	}
	if r.To != nil {
		b.add(column + " " + boundOp("<", r.ToInclusive) + " " + b.arg(*r.To))
	}
}

func boundOp(op string, inclusive bool) string {
	if inclusive {
		return op + "="
	}
	return op
}

// buildPageSQL renders the page query. It selects limit+1 rows so the
// caller can tell whether a further page exists, and flips the scan
// direction for prev cursors; the backend restores row order afterward.
func buildPageSQL(q Query) (string, []any, error) {
	expr, err := q.Sort.expr()
	if err != nil {
		return "", nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	b := &clauseBuilder{}
	buildFilters(b, q)

	dir := "DESC"
	offset := 0
	if q.Cursor != nil {
		offset = q.Cursor.Offset
		if q.Cursor.Prev {
			dir = "ASC"
			b.add(expr + " >= " + b.arg(q.Cursor.Value))
		} else {
			b.add(expr + " <= " + b.arg(q.Cursor.Value))
		}
	}

	sql := fmt.Sprintf(
		"SELECT %s, %s AS sort_value FROM csp_groups WHERE %s ORDER BY %s %s, id %s LIMIT %d OFFSET %d",
		groupColumns, expr, b.where(), expr, dir, dir, limit+1, offset,
	)
	return sql, b.args, nil
}

// buildCountSQL renders the capped hit-count query, ignoring the
// cursor so the count covers the whole filtered set.
func buildCountSQL(q Query) (string, []any) {
	b := &clauseBuilder{}
	buildFilters(b, q)

	sql := fmt.Sprintf(
		"SELECT count(*) FROM (SELECT 1 FROM csp_groups WHERE %s LIMIT %d) matched",
		b.where(), maxHits,
	)
	return sql, b.args
}
