// Package tsdb provides the time-series connector over the monitoring
// supertables (results, metrics, predictions). Two variants exist: a
// tag/supertable engine (TDengine) and a frames-table engine (DuckDB).
package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
	"modelmon/internal/schema"
)

// DefaultInvocationWindow is the aggregation window used by invocation
// counts when the caller does not supply one.
const DefaultInvocationWindow = "10m"

// MetricRef addresses one result or metric by its owning application and
// name. Together with the endpoint id it forms the storage addressing key.
type MetricRef struct {
	Application string
	Name        string
}

// FullName composes the canonical project-scoped metric name.
func (r MetricRef) FullName(project string) string {
	return project + "." + r.Application + "." + r.Name
}

// SeriesPoint is one sample of a value series. Status is meaningful for
// result series only.
type SeriesPoint struct {
	Timestamp time.Time
	Value     float64
	Status    model.ResultStatus
}

// SeriesResult is the outcome of reading one requested metric: either a
// value series or an explicit no-data marker. A requested metric with no
// matching rows is reported as NoData, never omitted, so callers can
// distinguish "queried but empty" from "not queried".
type SeriesResult struct {
	FullName string
	Ref      MetricRef
	Kind     model.EventKind
	NoData   bool
	Values   []SeriesPoint
}

// Connector is the backend-polymorphic append/query contract over the
// time-series supertables.
type Connector interface {
	// EnsureSchema creates the fixed supertable set if absent. Safe to
	// call repeatedly.
	EnsureSchema(ctx context.Context) error

	// WriteEvent appends one normalized event. The diagnostic extra-data
	// field is never persisted to the time series.
	WriteEvent(ctx context.Context, ev *model.ResultEvent) error

	// Query compiles and executes a filtered, optionally aggregated
	// select over one of the known logical tables.
	Query(ctx context.Context, params schema.QueryParams) (*Frame, error)

	// ReadMetrics reads the requested metrics or results of one endpoint
	// and folds them into one series per ref. Output length always
	// equals len(refs).
	ReadMetrics(ctx context.Context, endpointID string, start, end schema.TimeBound,
		refs []MetricRef, kind model.EventKind) ([]SeriesResult, error)

	// ReadInvocationCount counts prediction samples over the window
	// (DefaultInvocationWindow when empty).
	ReadInvocationCount(ctx context.Context, endpointID string, start, end schema.TimeBound,
		window string) (SeriesResult, error)

	// DeleteProjectResources drops every project-tagged subtable,
	// best-effort.
	DeleteProjectResources(ctx context.Context) error
}

// knownTable rejects logical tables outside the fixed set.
func knownTable(name string) error {
	switch name {
	case schema.TableAppResults, schema.TableMetrics, schema.TablePredictions:
		return nil
	default:
		return merr.NewInvalidArgument("table", name,
			strings.Join([]string{schema.TableAppResults, schema.TableMetrics, schema.TablePredictions}, ", "))
	}
}

// tableForKind maps an event kind to its supertable and name column.
func tableForKind(kind model.EventKind) (table schema.Table, nameColumn string) {
	if kind == model.KindMetric {
		return schema.Metrics, schema.FieldMetricName
	}
	return schema.AppResults, schema.FieldResultName
}

// refsFilter builds the disjunctive (application, name) filter for one
// endpoint, e.g.:
//
//	endpoint_id = 'ep' AND ((application_name = 'a' AND result_name = 'n') OR (...))
func refsFilter(endpointID string, refs []MetricRef, nameColumn string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s = '%s'", schema.FieldEndpointID, escape(endpointID))
	if len(refs) == 0 {
		return b.String()
	}
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		parts = append(parts, fmt.Sprintf("(%s = '%s' AND %s = '%s')",
			schema.FieldApplicationName, escape(r.Application), nameColumn, escape(r.Name)))
	}
	fmt.Fprintf(&b, " AND (%s)", strings.Join(parts, " OR "))
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// marshalStats re-serializes the parsed current-stats map for storage.
func marshalStats(stats map[string]any) string {
	if len(stats) == 0 {
		return "{}"
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// foldSeries folds a tabular query result into one value-series per
// requested ref, in ref order. Refs absent from the frame become NoData
// entries.
func foldSeries(frame *Frame, refs []MetricRef, kind model.EventKind, project string) []SeriesResult {
	_, nameColumn := tableForKind(kind)
	valueColumn := schema.FieldResultValue
	if kind == model.KindMetric {
		valueColumn = schema.FieldMetricValue
	}

	appIdx := frame.Col(schema.FieldApplicationName)
	nameIdx := frame.Col(nameColumn)
	timeIdx := frame.Col(schema.FieldEndInferTime)
	valueIdx := frame.Col(valueColumn)
	statusIdx := frame.Col(schema.FieldResultStatus)

	grouped := make(map[MetricRef][]SeriesPoint)
	if appIdx >= 0 && nameIdx >= 0 && timeIdx >= 0 && valueIdx >= 0 {
		for _, row := range frame.Rows {
			ref := MetricRef{
				Application: asString(row[appIdx]),
				Name:        asString(row[nameIdx]),
			}
			pt := SeriesPoint{
				Timestamp: asTime(row[timeIdx]),
				Value:     asFloat(row[valueIdx]),
			}
			if statusIdx >= 0 {
				pt.Status = model.ResultStatus(asInt(row[statusIdx]))
			}
			grouped[ref] = append(grouped[ref], pt)
		}
	}

	out := make([]SeriesResult, 0, len(refs))
	for _, ref := range refs {
		res := SeriesResult{
			FullName: ref.FullName(project),
			Ref:      ref,
			Kind:     kind,
		}
		if pts, ok := grouped[ref]; ok {
			res.Values = pts
		} else {
			res.NoData = true
		}
		out = append(out, res)
	}
	return out
}

// foldCount folds a windowed count aggregation into a single invocation
// series. The first timestamp-valued column anchors the window; the first
// numeric column carries the count.
func foldCount(frame *Frame, project string) SeriesResult {
	ref := MetricRef{Application: "monitoring-infra", Name: "invocations"}
	res := SeriesResult{
		FullName: ref.FullName(project),
		Ref:      ref,
		Kind:     model.KindMetric,
	}
	if frame == nil || len(frame.Rows) == 0 {
		res.NoData = true
		return res
	}
	timeIdx, valueIdx := -1, -1
	for i := range frame.Columns {
		v := frame.Rows[0][i]
		if timeIdx < 0 && isTimeValue(v) {
			timeIdx = i
			continue
		}
		if valueIdx < 0 && isNumericValue(v) {
			valueIdx = i
		}
	}
	if valueIdx < 0 {
		res.NoData = true
		return res
	}
	for _, row := range frame.Rows {
		pt := SeriesPoint{Value: asFloat(row[valueIdx])}
		if timeIdx >= 0 {
			pt.Timestamp = asTime(row[timeIdx])
		}
		res.Values = append(res.Values, pt)
	}
	return res
}
