// Package search answers dashboard queries over violation groups:
// status and field filters, scalar ranges, four sort strategies, and
// cursor pagination over Postgres.
package search

import (
	"time"

	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

// maxHits caps the total-count query so an unbounded result set cannot
// turn every page render into a full table scan.
const maxHits = 1000

// dateFilterGroupLimit bounds the group-id subquery used for report
// date filters.
const dateFilterGroupLimit = 1000

// IntRange filters a counter column. Exact wins over the bounds; each
// bound carries its own inclusivity.
type IntRange struct {
	Exact          *int64
	Lower          *int64
	LowerInclusive bool
	Upper          *int64
	UpperInclusive bool
}

func (r *IntRange) empty() bool {
	return r == nil || (r.Exact == nil && r.Lower == nil && r.Upper == nil)
}

// TimeRange filters a timestamp column, bounds inclusive or exclusive
// per flag.
type TimeRange struct {
	From          *time.Time
	FromInclusive bool
	To            *time.Time
	ToInclusive   bool
}

func (r *TimeRange) empty() bool {
	return r == nil || (r.From == nil && r.To == nil)
}

// Query describes one group search. Zero values mean "no filter"; an
// empty Statuses slice applies the default triage filter, which hides
// groups pending deletion or merge.
type Query struct {
	ProjectID string

	Statuses    []domain.GroupStatus
	Directives  []string
	BlockedHost string

	// Substring matches against directive and blocked host.
	Substring string

	TimesSeen *IntRange
	FirstSeen *TimeRange
	LastSeen  *TimeRange

	// ReceivedFrom/ReceivedTo restrict to groups that received reports
	// in the window. Applied through a capped subquery over reports.
	ReceivedFrom *time.Time
	ReceivedTo   *time.Time

	Sort   SortKey
	Limit  int
	Cursor *Cursor

	// CountHits asks for the total match count, capped at maxHits.
	CountHits bool
}

// Result is one page of groups plus the cursors to move around it. Hits
// is -1 unless the query asked for a count.
type Result struct {
	Groups []domain.Group
	Next   *Cursor
	Prev   *Cursor
	Hits   int
}
