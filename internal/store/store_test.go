package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"modelmon/internal/config"
	merr "modelmon/internal/errors"
	"modelmon/internal/model"
	"modelmon/internal/schema"
	"modelmon/internal/tsdb"
)

func sampleRecord(id string) *model.EndpointRecord {
	return &model.EndpointRecord{
		EndpointID:   id,
		Project:      "proj",
		FunctionURI:  "proj/serving",
		Model:        "churn-model:v3",
		ModelClass:   "ClassifierModel",
		State:        "ready",
		Labels:       map[string]any{"team": "fraud", "tier": "gold"},
		EndpointType: model.EndpointTypeNode,
	}
}

func TestMatchesFilterConjunction(t *testing.T) {
	r := sampleRecord("ep-1")

	assert.True(t, matchesFilter(r, ListFilter{}))
	assert.True(t, matchesFilter(r, ListFilter{Model: "churn-model:v3", Function: "proj/serving"}))
	assert.False(t, matchesFilter(r, ListFilter{Model: "other"}))
	assert.False(t, matchesFilter(r, ListFilter{Model: "churn-model:v3", Function: "other"}))
}

func TestMatchesFilterLabelBlob(t *testing.T) {
	r := sampleRecord("ep-1")

	// Serialization is canonical: key order in the query blob must not
	// matter as long as it was produced the same way.
	want := (&model.EndpointRecord{Labels: map[string]any{"tier": "gold", "team": "fraud"}}).LabelsBlob()
	assert.True(t, matchesFilter(r, ListFilter{LabelBlob: want}))
	assert.False(t, matchesFilter(r, ListFilter{LabelBlob: `{"team":"fraud"}`}))
}

func TestMatchesFilterUIDsDisjunctive(t *testing.T) {
	r := sampleRecord("ep-2")

	assert.True(t, matchesFilter(r, ListFilter{UIDs: []string{"ep-1", "ep-2"}}))
	assert.False(t, matchesFilter(r, ListFilter{UIDs: []string{"ep-1", "ep-3"}}))
	// Intersected with the other filters.
	assert.False(t, matchesFilter(r, ListFilter{UIDs: []string{"ep-2"}, Model: "other"}))
}

func TestMatchesFilterTopLevel(t *testing.T) {
	node := sampleRecord("ep-1")
	router := sampleRecord("ep-2")
	router.EndpointType = model.EndpointTypeRouter
	leaf := sampleRecord("ep-3")
	leaf.EndpointType = model.EndpointTypeLeaf

	filter := ListFilter{TopLevel: true}
	assert.True(t, matchesFilter(node, filter))
	assert.True(t, matchesFilter(router, filter))
	assert.False(t, matchesFilter(leaf, filter))
}

type stubReader struct {
	calls   int
	lastEnd schema.TimeBound
	series  []tsdb.SeriesResult
	err     error
}

func (r *stubReader) ReadMetrics(_ context.Context, _ string, _, end schema.TimeBound,
	refs []tsdb.MetricRef, _ model.EventKind) ([]tsdb.SeriesResult, error) {
	r.calls++
	r.lastEnd = end
	if r.err != nil {
		return nil, r.err
	}
	return r.series, nil
}

func TestAttachMetrics(t *testing.T) {
	reader := &stubReader{series: []tsdb.SeriesResult{{FullName: "proj.app.drift"}}}
	ep := &Endpoint{EndpointRecord: *sampleRecord("ep-1")}

	err := attachMetrics(context.Background(), reader, ep, GetOptions{
		Metrics: []tsdb.MetricRef{{Application: "app", Name: "drift"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, schema.Now, reader.lastEnd)
	require.Len(t, ep.Metrics, 1)
	assert.Equal(t, "proj.app.drift", ep.Metrics[0].FullName)
}

func TestAttachMetricsSkippedWithoutRefs(t *testing.T) {
	reader := &stubReader{}
	ep := &Endpoint{}

	require.NoError(t, attachMetrics(context.Background(), reader, ep, GetOptions{}))
	assert.Zero(t, reader.calls)
	require.NoError(t, attachMetrics(context.Background(), nil, ep, GetOptions{
		Metrics: []tsdb.MetricRef{{Application: "app", Name: "drift"}},
	}))
}

func TestRedisFieldsRoundTrip(t *testing.T) {
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := sampleRecord("ep-1")
	in.MonitoringMode = true
	in.FirstRequest = &first
	in.SetChildren([]string{"child-a", "child-b"})

	out, err := fieldsToRecord("ep-1", stringify(recordToFields(in)))
	require.NoError(t, err)
	assert.Equal(t, in.Project, out.Project)
	assert.Equal(t, in.Model, out.Model)
	assert.Equal(t, in.LabelsBlob(), out.LabelsBlob())
	assert.True(t, out.MonitoringMode)
	assert.Equal(t, model.EndpointTypeNode, out.EndpointType)
	require.NotNil(t, out.FirstRequest)
	assert.Equal(t, first, out.FirstRequest.UTC())
	assert.Nil(t, out.LastRequest)
	assert.Equal(t, []string{"child-a", "child-b"}, out.Children())
}

func stringify(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v.(string)
	}
	return out
}

func TestFieldsToRecordBadLabels(t *testing.T) {
	_, err := fieldsToRecord("ep-1", map[string]string{"labels": "{not json"})
	assert.ErrorIs(t, err, merr.ErrSchema)
}

func TestNormalizeAttrsRetypesLabels(t *testing.T) {
	attrs := map[string]any{
		"state":  "ready",
		"labels": map[string]any{"team": "fraud"},
	}
	out := normalizeAttrs(attrs)

	labels, ok := out["labels"].(datatypes.JSONMap)
	require.True(t, ok, "labels must go to the driver as the JSON column type")
	assert.Equal(t, "fraud", labels["team"])
	assert.Equal(t, "ready", out["state"])

	// The caller's map is not mutated.
	_, ok = attrs["labels"].(datatypes.JSONMap)
	assert.False(t, ok)
}

func TestNormalizeAttrsPassthrough(t *testing.T) {
	attrs := map[string]any{"state": "ready"}
	assert.Equal(t, attrs, normalizeAttrs(attrs))

	typed := map[string]any{"labels": datatypes.JSONMap{"a": "b"}}
	assert.Equal(t, typed, normalizeAttrs(typed))
}

func TestFactoryRejectsUnknownVariants(t *testing.T) {
	_, err := NewTimeSeriesConnector(&config.Config{TSDBType: "influx"})
	assert.ErrorIs(t, err, merr.ErrInvalidArgument)

	_, err = NewMetadataStore(&config.Config{StoreType: "mongo"}, nil)
	assert.ErrorIs(t, err, merr.ErrInvalidArgument)
}

func TestHasPostgresScheme(t *testing.T) {
	assert.True(t, hasPostgresScheme("postgres://u:p@localhost/db"))
	assert.True(t, hasPostgresScheme("postgresql://u:p@localhost/db"))
	assert.False(t, hasPostgresScheme("mysql://u:p@localhost/db"))
	assert.False(t, hasPostgresScheme(""))
}
