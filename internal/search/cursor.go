package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks a position in a sorted result set. Value is the sort
// expression at the boundary, Offset skips rows that share that value,
// and Prev flips the walk direction.
type Cursor struct {
	Value  int64
	Offset int
	Prev   bool
}

// String encodes the cursor as value:offset:prev for use in URLs.
func (c Cursor) String() string {
	prev := 0
	if c.Prev {
		prev = 1
	}
	return fmt.Sprintf("%d:%d:%d", c.Value, c.Offset, prev)
}

// ParseCursor decodes a cursor produced by String.
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}

	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: value %q", ErrInvalidCursor, parts[0])
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil || offset < 0 {
		return nil, fmt.Errorf("%w: offset %q", ErrInvalidCursor, parts[1])
	}
	prev, err := strconv.Atoi(parts[2])
	if err != nil || (prev != 0 && prev != 1) {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidCursor, parts[2])
	}

	return &Cursor{Value: value, Offset: offset, Prev: prev == 1}, nil
}
