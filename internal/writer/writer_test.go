package writer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
	"modelmon/internal/notify"
	"modelmon/internal/schema"
	"modelmon/internal/store"
	"modelmon/internal/tsdb"
)

type fakeStore struct {
	records map[string]*model.EndpointRecord
	updates []map[string]any

	registered []string
	updateErr  error
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{records: make(map[string]*model.EndpointRecord)}
	for _, id := range ids {
		s.records[id] = &model.EndpointRecord{EndpointID: id, Project: "proj"}
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, r *model.EndpointRecord) error {
	if _, ok := s.records[r.EndpointID]; ok {
		return merr.NewAlreadyExists("endpoint", r.EndpointID)
	}
	s.records[r.EndpointID] = r
	return nil
}

func (s *fakeStore) Update(_ context.Context, id string, attrs map[string]any) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	r, ok := s.records[id]
	if !ok {
		return merr.NewNotFound("endpoint", id)
	}
	s.updates = append(s.updates, attrs)
	if v, ok := attrs["app_metrics"].(string); ok {
		r.AppMetrics = v
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string, _ store.GetOptions) (*store.Endpoint, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, merr.NewNotFound("endpoint", id)
	}
	return &store.Endpoint{EndpointRecord: *r}, nil
}

func (s *fakeStore) List(context.Context, store.ListFilter) ([]store.Endpoint, error) {
	return nil, nil
}

func (s *fakeStore) Delete(context.Context, string) error      { return nil }
func (s *fakeStore) DeleteAll(context.Context, []string) error { return nil }

func (s *fakeStore) RegisterReadSchema(_ context.Context, id string) error {
	s.registered = append(s.registered, id)
	return nil
}

type fakeConnector struct {
	written  []*model.ResultEvent
	writeErr error
}

func (c *fakeConnector) EnsureSchema(context.Context) error { return nil }

func (c *fakeConnector) WriteEvent(_ context.Context, ev *model.ResultEvent) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, ev)
	return nil
}

func (c *fakeConnector) Query(context.Context, schema.QueryParams) (*tsdb.Frame, error) {
	return &tsdb.Frame{}, nil
}

func (c *fakeConnector) ReadMetrics(context.Context, string, schema.TimeBound, schema.TimeBound,
	[]tsdb.MetricRef, model.EventKind) ([]tsdb.SeriesResult, error) {
	return nil, nil
}

func (c *fakeConnector) ReadInvocationCount(context.Context, string, schema.TimeBound,
	schema.TimeBound, string) (tsdb.SeriesResult, error) {
	return tsdb.SeriesResult{}, nil
}

func (c *fakeConnector) DeleteProjectResources(context.Context) error { return nil }

type countingPusher struct {
	pushes int
	err    error
}

func (p *countingPusher) Push(string, notify.Severity) error {
	p.pushes++
	return p.err
}

func rawResult(status int) map[string]any {
	return map[string]any{
		"endpoint_id":       "ep-1",
		"application_name":  "dummy-app",
		"start_infer_time":  "2024-05-01T11:00:00Z",
		"end_infer_time":    "2024-05-01T12:00:00Z",
		"result_name":       "drift",
		"result_kind":       "data_drift",
		"result_value":      0.91,
		"result_status":     status,
		"result_extra_data": "feature f1 drifted",
		"current_stats":     `{"f1": 0.4}`,
	}
}

func newPipeline(s *fakeStore, c *fakeConnector, p *countingPusher) *Writer {
	return New(s, c, notify.New(p))
}

func TestDoPersistsAndUpdatesMetadata(t *testing.T) {
	s := newFakeStore("ep-1")
	c := &fakeConnector{}
	p := &countingPusher{}
	w := newPipeline(s, c, p)

	require.NoError(t, w.Do(context.Background(), rawResult(0)))

	require.Len(t, c.written, 1)
	assert.Equal(t, "drift", c.written[0].Name)

	require.Len(t, s.updates, 1)
	var appMetrics map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(s.updates[0]["app_metrics"].(string)), &appMetrics))
	require.Contains(t, appMetrics, "dummy-app")
	assert.Contains(t, appMetrics["dummy-app"], "drift")

	assert.Zero(t, p.pushes)
}

func TestDoNotifiesOnDetection(t *testing.T) {
	s := newFakeStore("ep-1")
	p := &countingPusher{}
	w := newPipeline(s, &fakeConnector{}, p)

	require.NoError(t, w.Do(context.Background(), rawResult(2)))
	assert.Equal(t, 1, p.pushes)

	require.NoError(t, w.Do(context.Background(), rawResult(1)))
	assert.Equal(t, 1, p.pushes)
}

func TestDoRegistersSchemaOncePerEndpoint(t *testing.T) {
	s := newFakeStore("ep-1")
	w := newPipeline(s, &fakeConnector{}, &countingPusher{})

	require.NoError(t, w.Do(context.Background(), rawResult(0)))
	require.NoError(t, w.Do(context.Background(), rawResult(0)))
	assert.Equal(t, []string{"ep-1"}, s.registered)
}

func TestDoAccumulatesAcrossApplications(t *testing.T) {
	s := newFakeStore("ep-1")
	w := newPipeline(s, &fakeConnector{}, &countingPusher{})

	require.NoError(t, w.Do(context.Background(), rawResult(0)))
	second := rawResult(0)
	second["application_name"] = "other-app"
	second["result_name"] = "skew"
	require.NoError(t, w.Do(context.Background(), second))

	var appMetrics map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(s.records["ep-1"].AppMetrics), &appMetrics))
	assert.Contains(t, appMetrics["dummy-app"], "drift")
	assert.Contains(t, appMetrics["other-app"], "skew")
}

func TestDoRejectsBadInput(t *testing.T) {
	s := newFakeStore("ep-1")
	c := &fakeConnector{}
	w := newPipeline(s, c, &countingPusher{})

	err := w.Do(context.Background(), "not a record")
	assert.ErrorIs(t, err, merr.ErrMalformedEvent)

	incomplete := rawResult(0)
	delete(incomplete, "result_value")
	err = w.Do(context.Background(), incomplete)
	assert.ErrorIs(t, err, merr.ErrIncompleteEvent)

	// Nothing was persisted for either rejection.
	assert.Empty(t, c.written)
	assert.Empty(t, s.updates)
}

func TestDoPropagatesTimeSeriesFailure(t *testing.T) {
	s := newFakeStore("ep-1")
	c := &fakeConnector{writeErr: merr.NewWriteFailure("app_results", errors.New("conn reset"))}
	w := newPipeline(s, c, &countingPusher{})

	err := w.Do(context.Background(), rawResult(0))
	assert.ErrorIs(t, err, merr.ErrWriteFailure)
	// Metadata is only touched after the time-series append succeeds.
	assert.Empty(t, s.updates)
}

func TestDoFailsOnUnknownEndpoint(t *testing.T) {
	s := newFakeStore()
	w := newPipeline(s, &fakeConnector{}, &countingPusher{})

	err := w.Do(context.Background(), rawResult(0))
	assert.ErrorIs(t, err, merr.ErrNotFound)
}

func TestDoSurvivesPushFailure(t *testing.T) {
	s := newFakeStore("ep-1")
	p := &countingPusher{err: errors.New("webhook down")}
	w := newPipeline(s, &fakeConnector{}, p)

	// A failed push never fails the event.
	require.NoError(t, w.Do(context.Background(), rawResult(2)))
	assert.Equal(t, 1, p.pushes)
}
