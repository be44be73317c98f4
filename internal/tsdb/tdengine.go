package tsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
	"modelmon/internal/schema"
)

const tdengineTimeLayout = "2006-01-02T15:04:05.000Z"

// TDEngineConnector is the tag/supertable variant. Each (project,
// endpoint, application, name) tuple writes into its own subtable under
// the matching supertable; queries run against the supertables with the
// tags as filter columns.
type TDEngineConnector struct {
	project string
	db      *sql.DB
	clock   func() time.Time
}

// NewTDEngineConnector wraps an established TDengine connection. The
// connection is owned by the caller and reused across events.
func NewTDEngineConnector(project string, db *sql.DB) *TDEngineConnector {
	return &TDEngineConnector{project: project, db: db, clock: time.Now}
}

// WithClock overrides the evaluation clock for relative time bounds.
func (c *TDEngineConnector) WithClock(clock func() time.Time) *TDEngineConnector {
	c.clock = clock
	return c
}

// EnsureSchema creates the three supertables if absent. The DDL carries
// IF NOT EXISTS, so repeated calls are no-ops; any other backend error
// propagates.
func (c *TDEngineConnector) EnsureSchema(ctx context.Context) error {
	for _, t := range []schema.Table{schema.AppResults, schema.Metrics, schema.Predictions} {
		if _, err := c.db.ExecContext(ctx, t.CreateSuperTableSQL()); err != nil {
			return merr.NewWriteFailure(t.Name, err)
		}
	}
	return nil
}

// WriteEvent derives the subtable name from the event's addressing tuple,
// then issues subtable-create-if-absent and insert as two separate
// statements. There is no transaction spanning them: a crash in between
// leaves an empty subtable, which self-heals on the next append.
func (c *TDEngineConnector) WriteEvent(ctx context.Context, ev *model.ResultEvent) error {
	table, _ := tableForKind(ev.Kind)
	subtable := schema.SubTableName(c.project, ev.EndpointID, ev.ApplicationName, ev.Name)

	createSQL := table.CreateSubTableSQL(subtable, c.tagValues(ev))
	if _, err := c.db.ExecContext(ctx, createSQL); err != nil {
		return merr.NewWriteFailure(subtable, err)
	}
	insertSQL := table.InsertSubTableSQL(subtable, c.columnValues(ev))
	if _, err := c.db.ExecContext(ctx, insertSQL); err != nil {
		return merr.NewWriteFailure(subtable, err)
	}
	return nil
}

func (c *TDEngineConnector) tagValues(ev *model.ResultEvent) map[string]string {
	vals := map[string]string{
		schema.FieldProject:         c.project,
		schema.FieldEndpointID:      ev.EndpointID,
		schema.FieldApplicationName: ev.ApplicationName,
	}
	if ev.Kind == model.KindMetric {
		vals[schema.FieldMetricName] = ev.Name
	} else {
		vals[schema.FieldResultName] = ev.Name
	}
	return vals
}

func (c *TDEngineConnector) columnValues(ev *model.ResultEvent) map[string]string {
	vals := map[string]string{
		schema.FieldEndInferTime:   ev.EndInferTime.UTC().Format(tdengineTimeLayout),
		schema.FieldStartInferTime: ev.StartInferTime.UTC().Format(tdengineTimeLayout),
	}
	if ev.Kind == model.KindMetric {
		vals[schema.FieldMetricValue] = formatFloat(ev.Value)
		return vals
	}
	vals[schema.FieldResultValue] = formatFloat(ev.Value)
	vals[schema.FieldResultStatus] = strconv.Itoa(int(ev.Status))
	vals[schema.FieldResultKind] = ev.ResultKind
	vals[schema.FieldCurrentStats] = marshalStats(ev.CurrentStats)
	return vals
}

// Query scopes the caller filter to the project, compiles the select and
// executes it. The backend diagnostic is passed through verbatim on
// failure.
func (c *TDEngineConnector) Query(ctx context.Context, params schema.QueryParams) (*Frame, error) {
	if err := knownTable(params.Table); err != nil {
		return nil, err
	}
	params.Filter = c.scopeFilter(params.Filter)

	query, err := params.SelectSQL(c.clock())
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

// scopeFilter conjoins the mandatory project predicate with the caller's
// filter expression. Callers never supply project scoping themselves.
func (c *TDEngineConnector) scopeFilter(filter string) string {
	scope := fmt.Sprintf("%s = '%s'", schema.FieldProject, escape(c.project))
	if filter == "" {
		return scope
	}
	return scope + " AND (" + filter + ")"
}

func (c *TDEngineConnector) ReadMetrics(ctx context.Context, endpointID string,
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

func (c *TDEngineConnector) ReadInvocationCount(ctx context.Context, endpointID string,
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

// DeleteProjectResources enumerates every subtable tagged with the project
// and drops each, logging and continuing past per-subtable errors so a
// partial teardown never aborts the rest.
func (c *TDEngineConnector) DeleteProjectResources(ctx context.Context) error {
	for _, t := range []schema.Table{schema.AppResults, schema.Metrics, schema.Predictions} {
		rows, err := c.db.QueryContext(ctx, t.SubTablesSQL(c.project))
		if err != nil {
			log.Printf("listing subtables of %s failed: %v", t.Name, err)
			continue
		}
		frame, err := scanRows(rows)
		if err != nil {
			log.Printf("listing subtables of %s failed: %v", t.Name, err)
			continue
		}
		for _, row := range frame.Rows {
			subtable := asString(row[0])
			if subtable == "" {
				continue
			}
			if _, err := c.db.ExecContext(ctx, schema.DropSubTableSQL(subtable)); err != nil {
				log.Printf("dropping subtable %s failed: %v", subtable, err)
			}
		}
	}
	log.Printf("deleted time-series resources for project %s", c.project)
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
