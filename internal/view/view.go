// Package view renders violation details for the dashboard. Components
// are small value types with a Render method; all HTML goes through the
// embedded templates so escaping stays in one place.
package view

import (
	"encoding/json"
	"sort"
	"strconv"
)

// ReportData is the decoded field mapping of a single violation report.
type ReportData map[string]any

// Pair is one row of a key/value listing.
type Pair struct {
	Key   string
	Value string
}

// Pairs flattens data into listing rows ordered by ascending key, so
// the same report always renders the same listing. A nil or empty map
// yields an empty slice.
func Pairs(data ReportData) []Pair {
	if len(data) == 0 {
		return []Pair{}
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]Pair, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, Pair{Key: key, Value: formatValue(data[key])})
	}
	return pairs
}

// formatValue renders a decoded JSON value as display text. Numbers keep
// their shortest form (12 stays "12", not "12.000000"); compound values
// fall back to their JSON encoding.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
