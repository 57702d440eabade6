package store

import (
	"strconv"
	"strings"
)

// maxListLimit is a defense-in-depth cap on limit values for list queries.
const maxListLimit = 1000

// defaultListLimit applies when a caller passes no limit.
const defaultListLimit = 50

// clampLimit normalises a requested page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}

	return limit
}

// filterBuilder accumulates numbered WHERE conditions.
type filterBuilder struct {
	conditions []string
	args       []any
}

// add appends "column op $n" with value as the nth argument.
func (f *filterBuilder) add(column, op string, value any) {
	f.args = append(f.args, value)
	f.conditions = append(f.conditions, column+" "+op+" $"+strconv.Itoa(len(f.args)))
}

// where renders the accumulated conditions, or "" when there are none.
func (f *filterBuilder) where() string {
	if len(f.conditions) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(f.conditions, " AND ")
}

// next returns the placeholder index for the next argument.
func (f *filterBuilder) next() int {
	return len(f.args) + 1
}
