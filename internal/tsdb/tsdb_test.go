package tsdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
	"modelmon/internal/schema"
)

func TestKnownTable(t *testing.T) {
	assert.NoError(t, knownTable(schema.TableAppResults))
	assert.NoError(t, knownTable(schema.TableMetrics))
	assert.NoError(t, knownTable(schema.TablePredictions))
	assert.ErrorIs(t, knownTable("events"), merr.ErrInvalidArgument)
}

func TestRefsFilter(t *testing.T) {
	got := refsFilter("ep-1", []MetricRef{
		{Application: "app-a", Name: "drift"},
		{Application: "app-b", Name: "skew"},
	}, schema.FieldResultName)
	want := "endpoint_id = 'ep-1' AND (" +
		"(application_name = 'app-a' AND result_name = 'drift') OR " +
		"(application_name = 'app-b' AND result_name = 'skew'))"
	assert.Equal(t, want, got)
}

func TestRefsFilterNoRefs(t *testing.T) {
	assert.Equal(t, "endpoint_id = 'ep-1'", refsFilter("ep-1", nil, schema.FieldResultName))
}

func resultFrame() *Frame {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &Frame{
		Columns: []string{
			schema.FieldEndInferTime,
			schema.FieldResultValue,
			schema.FieldResultStatus,
			schema.FieldApplicationName,
			schema.FieldResultName,
		},
		Rows: [][]any{
			{ts, 0.1, int32(0), "app-a", "drift"},
			{ts.Add(time.Minute), 0.9, int32(2), "app-a", "drift"},
			{ts, 0.5, int32(1), "app-b", "skew"},
		},
	}
}

// A requested metric with zero matching rows must yield an explicit
// no-data outcome, never an omission: output length equals request length.
func TestFoldSeriesNoDataPadding(t *testing.T) {
	refs := []MetricRef{
		{Application: "app-a", Name: "drift"},
		{Application: "app-b", Name: "skew"},
		{Application: "app-c", Name: "absent"},
	}
	out := foldSeries(resultFrame(), refs, model.KindResult, "proj")
	require.Len(t, out, len(refs))

	assert.False(t, out[0].NoData)
	assert.Len(t, out[0].Values, 2)
	assert.Equal(t, 0.9, out[0].Values[1].Value)
	assert.Equal(t, model.StatusDetected, out[0].Values[1].Status)

	assert.False(t, out[1].NoData)
	assert.Len(t, out[1].Values, 1)

	assert.True(t, out[2].NoData)
	assert.Empty(t, out[2].Values)
	assert.Equal(t, "proj.app-c.absent", out[2].FullName)
}

func TestFoldSeriesEmptyFrame(t *testing.T) {
	refs := []MetricRef{{Application: "a", Name: "n"}}
	out := foldSeries(&Frame{Columns: resultFrame().Columns}, refs, model.KindResult, "proj")
	require.Len(t, out, 1)
	assert.True(t, out[0].NoData)
}

func TestFoldCount(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	frame := &Frame{
		Columns: []string{"_wstart", "count(latency)"},
		Rows: [][]any{
			{ts, int64(42)},
			{ts.Add(10 * time.Minute), int64(7)},
		},
	}
	res := foldCount(frame, "proj")
	assert.False(t, res.NoData)
	require.Len(t, res.Values, 2)
	assert.Equal(t, 42.0, res.Values[0].Value)
	assert.Equal(t, ts, res.Values[0].Timestamp)
	assert.Equal(t, "proj.monitoring-infra.invocations", res.FullName)
}

func TestFoldCountEmpty(t *testing.T) {
	res := foldCount(&Frame{Columns: []string{"_wstart", "count(latency)"}}, "proj")
	assert.True(t, res.NoData)
}

func TestScopeFilter(t *testing.T) {
	c := NewTDEngineConnector("proj", nil)
	assert.Equal(t, "project = 'proj'", c.scopeFilter(""))
	assert.Equal(t, "project = 'proj' AND (endpoint_id = 'ep')", c.scopeFilter("endpoint_id = 'ep'"))
}

func TestDuckDBCreateTableSQL(t *testing.T) {
	got := duckdbCreateTableSQL(schema.Metrics)
	want := "CREATE TABLE IF NOT EXISTS metrics (" +
		"end_infer_time TIMESTAMP, start_infer_time TIMESTAMP, metric_value DOUBLE, " +
		"project VARCHAR, endpoint_id VARCHAR, application_name VARCHAR, metric_name VARCHAR);"
	assert.Equal(t, want, got)
}

func TestDuckDBSelectSQLAggregation(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sql, err := duckdbSelectSQL(schema.QueryParams{
		Table:           schema.TablePredictions,
		Start:           "now-1h",
		End:             schema.Now,
		Filter:          "endpoint_id = 'ep'",
		Columns:         []string{schema.FieldLatency},
		Agg:             "count",
		Interval:        "10m",
		TimestampColumn: schema.FieldTime,
	}, "proj", clock)
	require.NoError(t, err)
	assert.Contains(t, sql, "time_bucket(INTERVAL '10 minutes', time) AS bucket")
	assert.Contains(t, sql, "count(latency)")
	assert.Contains(t, sql, "project = 'proj'")
	assert.Contains(t, sql, "time >= '2024-05-01T11:00:00.000Z'")
	assert.Contains(t, sql, "GROUP BY bucket")
}

func TestDuckDBSelectSQLPlain(t *testing.T) {
	sql, err := duckdbSelectSQL(schema.QueryParams{
		Table: schema.TableAppResults,
		Start: schema.Earliest,
		End:   schema.Now,
	}, "proj", time.Now())
	require.NoError(t, err)
	assert.Contains(t, sql, "SELECT * FROM app_results")
	assert.Contains(t, sql, "project = 'proj'")
}

func TestDuckDBInterval(t *testing.T) {
	for window, want := range map[string]string{
		"10m": "INTERVAL '10 minutes'",
		"1h":  "INTERVAL '1 hours'",
		"2d":  "INTERVAL '2 days'",
	} {
		got, err := duckdbInterval(window)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := duckdbInterval("10s")
	assert.ErrorIs(t, err, merr.ErrInvalidArgument)
}

func TestTDEngineColumnValuesStripExtraData(t *testing.T) {
	c := NewTDEngineConnector("proj", nil)
	ev := &model.ResultEvent{
		Kind:            model.KindResult,
		EndpointID:      "ep-1",
		ApplicationName: "app",
		Name:            "drift",
		Value:           0.9,
		Status:          model.StatusDetected,
		ResultKind:      "data_drift",
		ExtraData:       "diagnostic payload",
		StartInferTime:  time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		EndInferTime:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CurrentStats:    map[string]any{"f": 1.0},
	}
	vals := c.columnValues(ev)
	// Extra data is diagnostic only and must never reach the time series.
	for _, v := range vals {
		assert.NotContains(t, v, "diagnostic payload")
	}
	assert.Equal(t, "2024-05-01T12:00:00.000Z", vals[schema.FieldEndInferTime])
	assert.Equal(t, "2", vals[schema.FieldResultStatus])
}
