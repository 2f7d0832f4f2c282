package search

import "fmt"

// SortKey selects the ordering of search results. All sorts are
// descending: the hottest, newest, or loudest group first.
type SortKey string

const (
	// SortPriority orders by the stored score, which folds how often a
	// group fires into how recently it fired.
	SortPriority SortKey = "priority"
	// SortDate orders by last seen.
	SortDate SortKey = "date"
	// SortNew orders by first seen.
	SortNew SortKey = "new"
	// SortFreq orders by times seen.
	SortFreq SortKey = "freq"
)

// sortExprs maps each key to the SQL expression used for both ORDER BY
// and the cursor boundary. Timestamp sorts compare as millisecond
// epochs so cursor values stay plain integers.
var sortExprs = map[SortKey]string{
	SortPriority: "score",
	SortDate:     "(extract(epoch from last_seen) * 1000)::bigint",
	SortNew:      "(extract(epoch from first_seen) * 1000)::bigint",
	SortFreq:     "times_seen",
}

func (k SortKey) expr() (string, error) {
	if k == "" {
		k = SortDate
	}
	expr, ok := sortExprs[k]
	if !ok {
		return "", fmt.Errorf("invalid sort key %q", k)
	}
	return expr, nil
}

// ParseSortKey validates a sort name from the API.
func ParseSortKey(name string) (SortKey, error) {
	if name == "" {
		return SortDate, nil
	}
	key := SortKey(name)
	if _, ok := sortExprs[key]; !ok {
		return "", fmt.Errorf("invalid sort key %q", name)
	}
	return key, nil
}
