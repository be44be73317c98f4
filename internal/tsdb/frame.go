package tsdb

import (
	"database/sql"
	"strconv"
	"time"
)

// Frame is a tabular query result: named columns and row-major values.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// Col returns the index of a named column, or -1.
func (f *Frame) Col(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Rows) == 0
}

// scanRows drains sql.Rows into a Frame.
func scanRows(rows *sql.Rows) (*Frame, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	frame := &Frame{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		frame.Rows = append(frame.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frame, nil
}

// Value coercion across drivers: TDengine and DuckDB surface timestamps as
// time.Time or strings, and numbers as several widths.

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(n), 64)
		return f
	default:
		return 0
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	case []byte:
		i, _ := strconv.Atoi(string(n))
		return i
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case int64:
		// epoch milliseconds
		return time.UnixMilli(t).UTC()
	default:
		return time.Time{}
	}
}

func parseTimeString(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func isTimeValue(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case string:
		return !parseTimeString(t).IsZero()
	case []byte:
		return !parseTimeString(string(t)).IsZero()
	default:
		return false
	}
}

func isNumericValue(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, uint64:
		return true
	default:
		return false
	}
}
