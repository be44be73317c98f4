// Package schema describes every time-series table as a tagged set of typed
// columns and compiles that description into backend DDL/DML strings. It
// performs no I/O; the connectors execute what it produces.
package schema

import (
	"fmt"
	"strings"
)

// Event field names. Writers, compilers and the stores read only these
// constants so the DDL and the event access paths cannot drift apart.
const (
	FieldProject         = "project"
	FieldEndpointID      = "endpoint_id"
	FieldApplicationName = "application_name"
	FieldStartInferTime  = "start_infer_time"
	FieldEndInferTime    = "end_infer_time"
	FieldEventKind       = "event_kind"
	FieldResultName      = "result_name"
	FieldResultValue     = "result_value"
	FieldResultStatus    = "result_status"
	FieldResultKind      = "result_kind"
	FieldResultExtraData = "result_extra_data"
	FieldCurrentStats    = "current_stats"
	FieldMetricName      = "metric_name"
	FieldMetricValue     = "metric_value"
	FieldTime            = "time"
	FieldLatency         = "latency"
	FieldCustomMetrics   = "custom_metrics"
)

// Logical table names (supertables in the tag-engine variant).
const (
	TableAppResults  = "app_results"
	TableMetrics     = "metrics"
	TablePredictions = "predictions"
)

// ColumnType is a backend column type, optionally with a length
// (e.g. BINARY(64)).
type ColumnType struct {
	Name   string
	Length int
}

func (t ColumnType) String() string {
	if t.Length > 0 {
		return fmt.Sprintf("%s(%d)", t.Name, t.Length)
	}
	return t.Name
}

var (
	TypeTimestamp   = ColumnType{Name: "TIMESTAMP"}
	TypeFloat       = ColumnType{Name: "FLOAT"}
	TypeInt         = ColumnType{Name: "INT"}
	TypeBinary40    = ColumnType{Name: "BINARY", Length: 40}
	TypeBinary64    = ColumnType{Name: "BINARY", Length: 64}
	TypeBinary10000 = ColumnType{Name: "BINARY", Length: 10000}
)

// Column is a named, typed measurement column or tag.
type Column struct {
	Name string
	Type ColumnType
}

// Table is the static schema of one logical time-series table: an ordered
// set of measurement columns and a disjoint ordered set of identity tags.
// Descriptors are immutable after definition; the tag combination plus the
// table name uniquely determines a physical subtable.
type Table struct {
	Name    string
	Columns []Column
	Tags    []Column
}

// AppResults is the drift/result event supertable.
var AppResults = Table{
	Name: TableAppResults,
	Columns: []Column{
		{FieldEndInferTime, TypeTimestamp},
		{FieldStartInferTime, TypeTimestamp},
		{FieldResultValue, TypeFloat},
		{FieldResultStatus, TypeInt},
		{FieldResultKind, TypeBinary40},
		{FieldCurrentStats, TypeBinary10000},
	},
	Tags: []Column{
		{FieldProject, TypeBinary64},
		{FieldEndpointID, TypeBinary64},
		{FieldApplicationName, TypeBinary64},
		{FieldResultName, TypeBinary64},
	},
}

// Metrics is the plain scalar metric supertable.
var Metrics = Table{
	Name: TableMetrics,
	Columns: []Column{
		{FieldEndInferTime, TypeTimestamp},
		{FieldStartInferTime, TypeTimestamp},
		{FieldMetricValue, TypeFloat},
	},
	Tags: []Column{
		{FieldProject, TypeBinary64},
		{FieldEndpointID, TypeBinary64},
		{FieldApplicationName, TypeBinary64},
		{FieldMetricName, TypeBinary64},
	},
}

// Predictions is the per-request latency sample supertable.
var Predictions = Table{
	Name: TablePredictions,
	Columns: []Column{
		{FieldTime, TypeTimestamp},
		{FieldLatency, TypeFloat},
		{FieldCustomMetrics, TypeBinary10000},
	},
	Tags: []Column{
		{FieldProject, TypeBinary64},
		{FieldEndpointID, TypeBinary64},
	},
}

// Tables maps every logical table name to its descriptor.
var Tables = map[string]Table{
	TableAppResults:  AppResults,
	TableMetrics:     Metrics,
	TablePredictions: Predictions,
}

// Lookup returns the descriptor for a logical table name.
func Lookup(name string) (Table, bool) {
	t, ok := Tables[name]
	return t, ok
}

// CreateSuperTableSQL renders the CREATE-supertable DDL.
func (t Table) CreateSuperTableSQL() string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, c.Name+" "+c.Type.String())
	}
	tags := make([]string, 0, len(t.Tags))
	for _, c := range t.Tags {
		tags = append(tags, c.Name+" "+c.Type.String())
	}
	return fmt.Sprintf("CREATE STABLE IF NOT EXISTS %s (%s) TAGS (%s);",
		t.Name, strings.Join(cols, ", "), strings.Join(tags, ", "))
}

// CreateSubTableSQL renders the create-if-absent DDL for a subtable keyed by
// the given tag values. Tag order follows the descriptor.
func (t Table) CreateSubTableSQL(subtable string, tagValues map[string]string) string {
	tags := make([]string, 0, len(t.Tags))
	for _, c := range t.Tags {
		tags = append(tags, quote(tagValues[c.Name]))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s USING %s TAGS (%s);",
		subtable, t.Name, strings.Join(tags, ", "))
}

// InsertSubTableSQL renders a full-row insert into a subtable. Values are
// taken by column name from the descriptor order; timestamps and strings
// must already be rendered by the caller.
func (t Table) InsertSubTableSQL(subtable string, values map[string]string) string {
	vals := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		v, ok := values[c.Name]
		if !ok {
			vals = append(vals, "NULL")
			continue
		}
		switch c.Type.Name {
		case "FLOAT", "INT":
			vals = append(vals, v)
		default:
			vals = append(vals, quote(v))
		}
	}
	return fmt.Sprintf("INSERT INTO %s VALUES (%s);", subtable, strings.Join(vals, ", "))
}

// DropSubTableSQL renders the drop statement for a subtable.
func DropSubTableSQL(subtable string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", subtable)
}

// SubTablesSQL renders the query listing subtable names of a supertable
// scoped to one project.
func (t Table) SubTablesSQL(project string) string {
	return fmt.Sprintf("SELECT DISTINCT tbname FROM %s WHERE %s = %s;",
		t.Name, FieldProject, quote(project))
}

// SubTableName synthesizes the physical subtable name for a
// (project, endpoint, application, name) tuple. Components are sanitized
// (interior runs of characters outside [A-Za-z0-9] fold to a single
// underscore, leading runs are dropped, a trailing run keeps one
// underscore, a component with no alphanumerics at all becomes "0") and
// joined with "__". A sanitized component never starts with an underscore
// and never contains "__", so underscore runs in the joined name decode
// unambiguously and distinct sanitized tuples cannot collide. Distinct raw
// components that sanitize identically map to the same subtable; such a
// collision would be data corruption, not a recoverable error.
func SubTableName(project, endpointID, application, name string) string {
	parts := []string{project, endpointID, application, name}
	for i, p := range parts {
		parts[i] = sanitizeIdent(p)
	}
	return strings.Join(parts, "__")
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	if b.Len() == 0 {
		return "0"
	}
	if pendingSep {
		b.WriteByte('_')
	}
	return b.String()
}

// quote renders a string literal, escaping embedded single quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
