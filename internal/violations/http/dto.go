package http

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cspwatch/cspwatch/internal/search"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

const (
	defaultPageLimit = 25
	maxPageLimit     = 100
)

// parseSearchQuery reads the group-list query parameters. Range bounds
// arriving over HTTP are inclusive; exclusive bounds exist only on the
// search API itself.
func parseSearchQuery(c *gin.Context, projectID string) (search.Query, error) {
	q := search.Query{
		ProjectID: projectID,
		Substring: c.Query("query"),
	}

	for _, raw := range c.QueryArray("status") {
		status, err := domain.ParseGroupStatus(raw)
		if err != nil {
			return q, err
		}
		q.Statuses = append(q.Statuses, status)
	}

	q.Directives = c.QueryArray("directive")
	q.BlockedHost = c.Query("blocked_host")

	sort, err := search.ParseSortKey(c.Query("sort"))
	if err != nil {
		return q, err
	}
	q.Sort = sort

	cursor, err := search.ParseCursor(c.Query("cursor"))
	if err != nil {
		return q, err
	}
	q.Cursor = cursor

	limit, err := parseLimit(c.Query("limit"), defaultPageLimit, maxPageLimit)
	if err != nil {
		return q, err
	}
	q.Limit = limit

	timesSeen, err := parseIntRange(c)
	if err != nil {
		return q, err
	}
	q.TimesSeen = timesSeen

	q.FirstSeen, err = parseTimeRange(c, "first_seen_from", "first_seen_to")
	if err != nil {
		return q, err
	}
	q.LastSeen, err = parseTimeRange(c, "last_seen_from", "last_seen_to")
	if err != nil {
		return q, err
	}

	q.ReceivedFrom, err = parseTime(c.Query("received_from"), "received_from")
	if err != nil {
		return q, err
	}
	q.ReceivedTo, err = parseTime(c.Query("received_to"), "received_to")
	if err != nil {
		return q, err
	}

	q.CountHits = c.Query("count_hits") == "1"

	return q, nil
}

func parseLimit(raw string, fallback, max int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

func parseIntRange(c *gin.Context) (*search.IntRange, error) {
	exact, err := parseInt64(c.Query("times_seen"), "times_seen")
	if err != nil {
		return nil, err
	}
	min, err := parseInt64(c.Query("times_seen_min"), "times_seen_min")
	if err != nil {
		return nil, err
	}
	max, err := parseInt64(c.Query("times_seen_max"), "times_seen_max")
	if err != nil {
		return nil, err
	}

	if exact == nil && min == nil && max == nil {
		return nil, nil
	}
	return &search.IntRange{
		Exact:          exact,
		Lower:          min,
		LowerInclusive: true,
		Upper:          max,
		UpperInclusive: true,
	}, nil
}

func parseTimeRange(c *gin.Context, fromParam, toParam string) (*search.TimeRange, error) {
	from, err := parseTime(c.Query(fromParam), fromParam)
	if err != nil {
		return nil, err
	}
	to, err := parseTime(c.Query(toParam), toParam)
	if err != nil {
		return nil, err
	}

	if from == nil && to == nil {
		return nil, nil
	}
	return &search.TimeRange{
		From:          from,
		FromInclusive: true,
		To:            to,
		ToInclusive:   true,
	}, nil
}

func parseInt64(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &value, nil
}

func parseTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q, want RFC 3339", name, raw)
	}
	return &value, nil
}

// cursorString renders a cursor for the pagination block, empty when
// there is no page in that direction.
func cursorString(c *search.Cursor) string {
	if c == nil {
		return ""
	}
	return c.String()
}

// reportFields decodes the stored field mapping for API responses.
func reportFields(report *domain.Report) map[string]any {
	fields := map[string]any{}
	if len(report.Fields) > 0 {
		_ = json.Unmarshal(report.Fields, &fields)
	}
	return fields
}
