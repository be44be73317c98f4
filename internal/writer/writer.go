// Package writer consumes raw monitoring-application records and drives
// each through the fixed persistence pipeline: normalize, append to the
// time series, fold into the endpoint's metadata record, notify.
package writer

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
	"modelmon/internal/notify"
	"modelmon/internal/store"
	"modelmon/internal/tsdb"
)

var (
	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelmon_writer_events_processed_total",
		Help: "Events fully persisted through the writer pipeline.",
	})
	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelmon_writer_events_rejected_total",
		Help: "Events dropped before persistence, by rejection reason.",
	}, []string{"reason"})
	notificationsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelmon_writer_notifications_total",
		Help: "Alert notifications pushed for detected results.",
	})
	writeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "modelmon_writer_write_duration_seconds",
		Help:    "Histogram of end-to-end event persistence durations in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// SchemaRegistrar is implemented by metadata stores whose read path needs
// a one-time per-endpoint schema registration before dashboard tooling
// can decode the per-application value map.
type SchemaRegistrar interface {
	RegisterReadSchema(ctx context.Context, endpointID string) error
}

// Writer is the event pipeline. One instance serves one stream consumer;
// the per-endpoint registration seen-set is instance-local, so a restart
// re-registers harmlessly.
type Writer struct {
	store    store.MetadataStore
	tsdb     tsdb.Connector
	notifier *notify.Notifier

	mu   sync.Mutex
	seen map[string]struct{}
}

func New(metadata store.MetadataStore, connector tsdb.Connector, notifier *notify.Notifier) *Writer {
	return &Writer{
		store:    metadata,
		tsdb:     connector,
		notifier: notifier,
		seen:     make(map[string]struct{}),
	}
}

// Do runs one raw record through the pipeline. Normalization failures are
// terminal for the event (counted, logged, never retried); persistence
// failures propagate so the stream runtime can redeliver.
func (w *Writer) Do(ctx context.Context, raw any) error {
	ev, err := model.NormalizeEvent(raw)
	if err != nil {
		eventsRejected.WithLabelValues(rejectionReason(err)).Inc()
		log.Printf("rejecting event: %v", err)
		return err
	}

	start := time.Now()
	defer func() { writeDuration.Observe(time.Since(start).Seconds()) }()

	if err := w.tsdb.WriteEvent(ctx, ev); err != nil {
		return err
	}
	if err := w.updateEndpoint(ctx, ev); err != nil {
		return err
	}

	if notify.ShouldNotify(ev) {
		if err := w.notifier.Notify(ev); err != nil {
			// Delivery is best-effort: the event is already persisted.
			log.Printf("notification for endpoint %s failed: %v", ev.EndpointID, err)
		} else {
			notificationsPushed.Inc()
		}
	}

	eventsProcessed.Inc()
	return nil
}

func rejectionReason(err error) string {
	switch {
	case merr.Is(err, merr.ErrIncompleteEvent):
		return "incomplete"
	default:
		return "malformed"
	}
}

// updateEndpoint folds the event into the endpoint's per-application value
// map (application -> result/metric name -> latest serialized payload) and
// registers the read schema the first time this instance touches the
// endpoint.
func (w *Writer) updateEndpoint(ctx context.Context, ev *model.ResultEvent) error {
	payload, err := ev.Attributes()
	if err != nil {
		return err
	}

	ep, err := w.store.Get(ctx, ev.EndpointID, store.GetOptions{})
	if err != nil {
		return err
	}

	appMetrics := decodeAppMetrics(ep.AppMetrics)
	byName, ok := appMetrics[ev.ApplicationName]
	if !ok {
		byName = make(map[string]string)
		appMetrics[ev.ApplicationName] = byName
	}
	byName[ev.Name] = payload

	encoded, err := json.Marshal(appMetrics)
	if err != nil {
		return err
	}
	attrs := map[string]any{
		"app_metrics":  string(encoded),
		"last_request": ev.EndInferTime.UTC(),
	}
	if err := w.store.Update(ctx, ev.EndpointID, attrs); err != nil {
		return err
	}

	return w.registerOnce(ctx, ev.EndpointID)
}

// registerOnce performs per-endpoint read-schema registration at most once
// per writer instance.
func (w *Writer) registerOnce(ctx context.Context, endpointID string) error {
	registrar, ok := w.store.(SchemaRegistrar)
	if !ok {
		return nil
	}
	w.mu.Lock()
	_, done := w.seen[endpointID]
	w.mu.Unlock()
	if done {
		return nil
	}
	if err := registrar.RegisterReadSchema(ctx, endpointID); err != nil {
		return err
	}
	w.mu.Lock()
	w.seen[endpointID] = struct{}{}
	w.mu.Unlock()
	return nil
}

func decodeAppMetrics(encoded string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	if encoded == "" {
		return out
	}
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		log.Printf("resetting undecodable per-application value map: %v", err)
		return make(map[string]map[string]string)
	}
	return out
}
