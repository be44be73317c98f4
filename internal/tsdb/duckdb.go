package tsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
	"modelmon/internal/schema"
)

// DuckDBConnector is the frames-table variant: each logical table is one
// flat table with the identity tags stored as ordinary columns, and rows
// keyed by (end time, endpoint id, application name, result/metric name).
type DuckDBConnector struct {
	project string
	db      *sql.DB
	clock   func() time.Time
}

// NewDuckDBConnector wraps an established DuckDB connection.
func NewDuckDBConnector(project string, db *sql.DB) *DuckDBConnector {
	return &DuckDBConnector{project: project, db: db, clock: time.Now}
}

// WithClock overrides the evaluation clock for relative time bounds.
func (c *DuckDBConnector) WithClock(clock func() time.Time) *DuckDBConnector {
	c.clock = clock
	return c
}

// EnsureSchema creates the flat tables if absent, deriving the column set
// from the shared table descriptors (tags become plain columns).
func (c *DuckDBConnector) EnsureSchema(ctx context.Context) error {
	for _, t := range []schema.Table{schema.AppResults, schema.Metrics, schema.Predictions} {
		if _, err := c.db.ExecContext(ctx, duckdbCreateTableSQL(t)); err != nil {
			return merr.NewWriteFailure(t.Name, err)
		}
	}
	return nil
}

// duckdbCreateTableSQL renders the frames-table DDL for a descriptor.
func duckdbCreateTableSQL(t schema.Table) string {
	cols := make([]string, 0, len(t.Columns)+len(t.Tags))
	for _, col := range t.Columns {
		cols = append(cols, col.Name+" "+duckdbType(col.Type))
	}
	for _, tag := range t.Tags {
		cols = append(cols, tag.Name+" VARCHAR")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", t.Name, strings.Join(cols, ", "))
}

func duckdbType(t schema.ColumnType) string {
	switch t.Name {
	case "TIMESTAMP":
		return "TIMESTAMP"
	case "FLOAT":
		return "DOUBLE"
	case "INT":
		return "INTEGER"
	default:
		return "VARCHAR"
	}
}

// WriteEvent writes a single row. The diagnostic extra-data field is
// stripped before the write and never reaches the time series.
func (c *DuckDBConnector) WriteEvent(ctx context.Context, ev *model.ResultEvent) error {
	if ev.Kind == model.KindMetric {
		query := fmt.Sprintf(
			"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?, ?, ?)",
			schema.TableMetrics,
			schema.FieldEndInferTime, schema.FieldStartInferTime, schema.FieldMetricValue,
			schema.FieldProject, schema.FieldEndpointID, schema.FieldApplicationName, schema.FieldMetricName)
		if _, err := c.db.ExecContext(ctx, query,
			ev.EndInferTime.UTC(), ev.StartInferTime.UTC(), ev.Value,
			c.project, ev.EndpointID, ev.ApplicationName, ev.Name); err != nil {
			return merr.NewWriteFailure(schema.TableMetrics, err)
		}
		return nil
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		schema.TableAppResults,
		schema.FieldEndInferTime, schema.FieldStartInferTime, schema.FieldResultValue,
		schema.FieldResultStatus, schema.FieldResultKind, schema.FieldCurrentStats,
		schema.FieldProject, schema.FieldEndpointID, schema.FieldApplicationName, schema.FieldResultName)
	if _, err := c.db.ExecContext(ctx, query,
		ev.EndInferTime.UTC(), ev.StartInferTime.UTC(), ev.Value,
		int(ev.Status), ev.ResultKind, marshalStats(ev.CurrentStats),
		c.project, ev.EndpointID, ev.ApplicationName, ev.Name); err != nil {
		return merr.NewWriteFailure(schema.TableAppResults, err)
	}
	return nil
}

// Query compiles the select in DuckDB's grammar (time_bucket instead of
// the tag engine's INTERVAL clause) and executes it.
func (c *DuckDBConnector) Query(ctx context.Context, params schema.QueryParams) (*Frame, error) {
	if err := knownTable(params.Table); err != nil {
		return nil, err
	}
	query, err := duckdbSelectSQL(params, c.project, c.clock())
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, merr.NewQueryFailure(params.Table, err)
	}
	frame, err := scanRows(rows)
	if err != nil {
		return nil, merr.NewQueryFailure(params.Table, err)
	}
	return frame, nil
}

// duckdbSelectSQL compiles a QueryParams into DuckDB SQL with the project
// scope injected. Aggregation buckets rows with time_bucket and groups by
// the bucket.
func duckdbSelectSQL(p schema.QueryParams, project string, clock time.Time) (string, error) {
	table, ok := schema.Lookup(p.Table)
	if !ok {
		return "", fmt.Errorf("undeclared table %q: %w", p.Table, merr.ErrSchema)
	}
	tsCol := p.TimestampColumn
	if tsCol == "" {
		tsCol = table.Columns[0].Name
	}
	start, err := p.Start.Literal(clock)
	if err != nil {
		return "", err
	}
	end, err := p.End.Literal(clock)
	if err != nil {
		return "", err
	}

	var proj, grouping string
	switch {
	case p.Agg != "" && p.Interval != "":
		interval, err := duckdbInterval(p.Interval)
		if err != nil {
			return "", err
		}
		bucket := fmt.Sprintf("time_bucket(%s, %s)", interval, tsCol)
		cols := make([]string, 0, len(p.Columns)+1)
		cols = append(cols, bucket+" AS bucket")
		for _, col := range p.Columns {
			cols = append(cols, fmt.Sprintf("%s(%s)", p.Agg, col))
		}
		proj = strings.Join(cols, ", ")
		grouping = " GROUP BY bucket ORDER BY bucket"
	case len(p.Columns) > 0:
		proj = strings.Join(p.Columns, ", ")
	default:
		proj = "*"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s >= %s AND %s <= %s AND %s = '%s'",
		proj, p.Table, tsCol, start, tsCol, end, schema.FieldProject, escape(project))
	if p.Filter != "" {
		fmt.Fprintf(&b, " AND (%s)", p.Filter)
	}
	b.WriteString(grouping)
	if p.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)
	}
	b.WriteByte(';')
	return b.String(), nil
}

// duckdbInterval translates the connector window grammar (10m, 1h, 2d)
// into a DuckDB interval literal.
func duckdbInterval(window string) (string, error) {
	if len(window) < 2 {
		return "", merr.NewInvalidArgument("aggregation window", window, "<N><m|h|d>")
	}
	n := window[:len(window)-1]
	var unit string
	switch window[len(window)-1] {
	case 'm':
		unit = "minutes"
	case 'h':
		unit = "hours"
	case 'd':
		unit = "days"
	default:
		return "", merr.NewInvalidArgument("aggregation window", window, "<N><m|h|d>")
	}
	return fmt.Sprintf("INTERVAL '%s %s'", n, unit), nil
}

func (c *DuckDBConnector) ReadMetrics(ctx context.Context, endpointID string,
	start, end schema.TimeBound, refs []MetricRef, kind model.EventKind) ([]SeriesResult, error) {
	table, nameColumn := tableForKind(kind)
	frame, err := c.Query(ctx, schema.QueryParams{
		Table:           table.Name,
		Start:           start,
		End:             end,
		Filter:          refsFilter(endpointID, refs, nameColumn),
		TimestampColumn: schema.FieldEndInferTime,
	})
	if err != nil {
		return nil, err
	}
	return foldSeries(frame, refs, kind, c.project), nil
}

func (c *DuckDBConnector) ReadInvocationCount(ctx context.Context, endpointID string,
	start, end schema.TimeBound, window string) (SeriesResult, error) {
	if window == "" {
		log.Printf("invocation count: no aggregation window provided, defaulting to %s", DefaultInvocationWindow)
		window = DefaultInvocationWindow
	}
	frame, err := c.Query(ctx, schema.QueryParams{
		Table:           schema.TablePredictions,
		Start:           start,
		End:             end,
		Filter:          fmt.Sprintf("%s = '%s'", schema.FieldEndpointID, escape(endpointID)),
		Columns:         []string{schema.FieldLatency},
		Agg:             "count",
		Interval:        window,
		TimestampColumn: schema.FieldTime,
	})
	if err != nil {
		return SeriesResult{}, err
	}
	return foldCount(frame, c.project), nil
}

// DeleteProjectResources removes the project's rows from every table,
// best-effort per table.
func (c *DuckDBConnector) DeleteProjectResources(ctx context.Context) error {
	for _, t := range []schema.Table{schema.AppResults, schema.Metrics, schema.Predictions} {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = '%s';",
			t.Name, schema.FieldProject, escape(c.project))
		if _, err := c.db.ExecContext(ctx, query); err != nil {
			log.Printf("deleting project rows from %s failed: %v", t.Name, err)
		}
	}
	log.Printf("deleted time-series resources for project %s", c.project)
	return nil
}
