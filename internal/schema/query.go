package schema

import (
	"fmt"
	"strings"
	"time"

	merr "modelmon/internal/errors"
)

// QueryParams describes a filtered, optionally aggregated SELECT over a
// super- or subtable. Start and End are mandatory; Filter is a
// backend-native boolean expression that the connector has already scoped
// to the project.
type QueryParams struct {
	Table string

	Start TimeBound
	End   TimeBound

	// Filter is ANDed with the time bounds. The connector injects the
	// mandatory project predicate; callers never supply project scoping.
	Filter string

	// Columns optionally projects a subset of measurement columns.
	// Empty means "*".
	Columns []string

	// Agg applies an aggregate function (e.g. "count", "avg") to each
	// projected column. Requires Interval.
	Agg string

	// Interval is the time-bucket width for aggregation, in the
	// backend's duration grammar (e.g. "10m").
	Interval string

	// SlidingWindow optionally slides the aggregation window.
	SlidingWindow string

	// Limit caps the number of returned rows. Zero means no limit.
	Limit int

	// TimestampColumn is the column holding the row timestamp. Defaults
	// to the first TIMESTAMP column of the table.
	TimestampColumn string
}

// SelectSQL compiles the query against the declared table set. Compiling
// against an undeclared table fails with a schema error; the clock anchors
// relative time bounds.
func (p QueryParams) SelectSQL(clock time.Time) (string, error) {
	table, ok := Lookup(p.Table)
	if !ok {
		return "", fmt.Errorf("undeclared table %q: %w", p.Table, merr.ErrSchema)
	}

	tsCol := p.TimestampColumn
	if tsCol == "" {
		tsCol = table.Columns[0].Name
	}

	proj := "*"
	if len(p.Columns) > 0 {
		cols := make([]string, 0, len(p.Columns))
		for _, c := range p.Columns {
			if p.Agg != "" {
				cols = append(cols, fmt.Sprintf("%s(%s)", p.Agg, c))
			} else {
				cols = append(cols, c)
			}
		}
		proj = strings.Join(cols, ", ")
	} else if p.Agg != "" {
		proj = fmt.Sprintf("%s(*)", p.Agg)
	}
	if p.Interval != "" {
		// Windowed aggregates anchor each row on the window-start
		// pseudo-column; without it the result rows carry no timestamp.
		proj = "_wstart, " + proj
	}

	start, err := p.Start.Literal(clock)
	if err != nil {
		return "", err
	}
	end, err := p.End.Literal(clock)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s >= %s AND %s <= %s",
		proj, p.Table, tsCol, start, tsCol, end)
	if p.Filter != "" {
		fmt.Fprintf(&b, " AND (%s)", p.Filter)
	}
	if p.Interval != "" {
		fmt.Fprintf(&b, " INTERVAL(%s)", p.Interval)
		if p.SlidingWindow != "" {
			fmt.Fprintf(&b, " SLIDING(%s)", p.SlidingWindow)
		}
	}
	if p.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)
	}
	b.WriteByte(';')
	return b.String(), nil
}
