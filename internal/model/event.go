package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	merr "modelmon/internal/errors"
	"modelmon/internal/schema"
)

// EventKind discriminates result events (status-bearing evaluations) from
// plain metric events.
type EventKind string

const (
	KindResult EventKind = "result"
	KindMetric EventKind = "metric"
)

// ParseEventKind validates a kind value.
func ParseEventKind(v string) (EventKind, error) {
	switch k := EventKind(v); k {
	case KindResult, KindMetric:
		return k, nil
	default:
		return "", merr.NewInvalidArgument("event kind", v, "result, metric")
	}
}

// ResultStatus is the ordered anomaly scale attached to result events.
type ResultStatus int

const (
	StatusNoDetection        ResultStatus = 0
	StatusPotentialDetection ResultStatus = 1
	StatusDetected           ResultStatus = 2
)

// ParseResultStatus validates a status value against the ordered scale.
func ParseResultStatus(v int) (ResultStatus, error) {
	switch s := ResultStatus(v); s {
	case StatusNoDetection, StatusPotentialDetection, StatusDetected:
		return s, nil
	default:
		return 0, merr.NewInvalidArgument("result status", v,
			"0 (no detection), 1 (potential detection), 2 (detected)")
	}
}

// ResultEvent is one monitoring-application evaluation, reconstructed from
// a raw stream record. Events are append-only: produced once, consumed
// exactly once by the writer, never updated after persistence. The
// (endpoint, application, name) triple is the addressing key for both
// storage and notification.
type ResultEvent struct {
	EndpointID      string
	ApplicationName string
	StartInferTime  time.Time
	EndInferTime    time.Time

	Kind EventKind

	// Name is the result or metric name, depending on Kind.
	Name  string
	Value float64

	// Status and ResultKind are meaningful for result events only.
	Status     ResultStatus
	ResultKind string

	// ExtraData is a free-form diagnostic payload. It is delivered with
	// notifications but never persisted to the time series.
	ExtraData string

	// CurrentStats is the parsed live feature-statistics blob.
	CurrentStats map[string]any
}

// resultFields are the declared raw-record fields for result events.
var resultFields = []string{
	schema.FieldEndpointID,
	schema.FieldApplicationName,
	schema.FieldStartInferTime,
	schema.FieldEndInferTime,
	schema.FieldResultName,
	schema.FieldResultKind,
	schema.FieldResultValue,
	schema.FieldResultStatus,
	schema.FieldResultExtraData,
	schema.FieldCurrentStats,
}

// metricFields are the declared raw-record fields for metric events.
var metricFields = []string{
	schema.FieldEndpointID,
	schema.FieldApplicationName,
	schema.FieldStartInferTime,
	schema.FieldEndInferTime,
	schema.FieldMetricName,
	schema.FieldMetricValue,
}

// NormalizeEvent projects a raw stream record onto the declared event field
// set and reconstructs the typed event. A non-mapping input is a malformed
// event; a missing declared field is an incomplete event; both are terminal
// for that event and never retried here.
func NormalizeEvent(raw any) (*ResultEvent, error) {
	record, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("event of type %T, expected a key/value record: %w",
			raw, merr.ErrMalformedEvent)
	}

	kind := KindResult
	if v, present := record[schema.FieldEventKind]; present {
		s, ok := v.(string)
		if !ok {
			return nil, fieldTypeError(schema.FieldEventKind, v)
		}
		parsed, err := ParseEventKind(s)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, merr.ErrMalformedEvent)
		}
		kind = parsed
	}

	declared := resultFields
	if kind == KindMetric {
		declared = metricFields
	}
	for _, f := range declared {
		if _, present := record[f]; !present {
			return nil, fmt.Errorf("missing declared field %q: %w", f, merr.ErrIncompleteEvent)
		}
	}

	ev := &ResultEvent{Kind: kind}
	var err error
	if ev.EndpointID, err = stringField(record, schema.FieldEndpointID); err != nil {
		return nil, err
	}
	if ev.ApplicationName, err = stringField(record, schema.FieldApplicationName); err != nil {
		return nil, err
	}
	if ev.StartInferTime, err = timeField(record, schema.FieldStartInferTime); err != nil {
		return nil, err
	}
	if ev.EndInferTime, err = timeField(record, schema.FieldEndInferTime); err != nil {
		return nil, err
	}

	if kind == KindMetric {
		if ev.Name, err = stringField(record, schema.FieldMetricName); err != nil {
			return nil, err
		}
		if ev.Value, err = floatField(record, schema.FieldMetricValue); err != nil {
			return nil, err
		}
		return ev, nil
	}

	if ev.Name, err = stringField(record, schema.FieldResultName); err != nil {
		return nil, err
	}
	if ev.ResultKind, err = stringField(record, schema.FieldResultKind); err != nil {
		return nil, err
	}
	if ev.Value, err = floatField(record, schema.FieldResultValue); err != nil {
		return nil, err
	}
	status, err := intField(record, schema.FieldResultStatus)
	if err != nil {
		return nil, err
	}
	if ev.Status, err = ParseResultStatus(status); err != nil {
		return nil, fmt.Errorf("%v: %w", err, merr.ErrMalformedEvent)
	}
	if ev.ExtraData, err = stringField(record, schema.FieldResultExtraData); err != nil {
		return nil, err
	}

	stats, err := stringField(record, schema.FieldCurrentStats)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stats), &ev.CurrentStats); err != nil {
		return nil, fmt.Errorf("parsing %s: %v: %w",
			schema.FieldCurrentStats, err, merr.ErrMalformedEvent)
	}
	return ev, nil
}

// Attributes returns the serialized per-metric payload stored by the
// writer under the endpoint's (application, name) slot.
func (ev *ResultEvent) Attributes() (string, error) {
	payload := map[string]any{
		schema.FieldStartInferTime: ev.StartInferTime.UTC().Format(time.RFC3339),
		schema.FieldEndInferTime:   ev.EndInferTime.UTC().Format(time.RFC3339),
	}
	if ev.Kind == KindMetric {
		payload[schema.FieldMetricValue] = ev.Value
	} else {
		payload[schema.FieldResultValue] = ev.Value
		payload[schema.FieldResultStatus] = int(ev.Status)
		payload[schema.FieldResultKind] = ev.ResultKind
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fieldTypeError(field string, v any) error {
	return fmt.Errorf("field %q of type %T: %w", field, v, merr.ErrMalformedEvent)
}

func stringField(record map[string]any, field string) (string, error) {
	s, ok := record[field].(string)
	if !ok {
		return "", fieldTypeError(field, record[field])
	}
	return s, nil
}

func floatField(record map[string]any, field string) (float64, error) {
	switch v := record[field].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fieldTypeError(field, record[field])
		}
		return f, nil
	case string:
		// Stream runtimes that carry flat field/value entries deliver
		// numbers as strings.
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fieldTypeError(field, record[field])
		}
		return f, nil
	default:
		return 0, fieldTypeError(field, record[field])
	}
}

func intField(record map[string]any, field string) (int, error) {
	switch v := record[field].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fieldTypeError(field, record[field])
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fieldTypeError(field, record[field])
		}
		return n, nil
	default:
		return 0, fieldTypeError(field, record[field])
	}
}

func timeField(record map[string]any, field string) (time.Time, error) {
	switch v := record[field].(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %q: %v: %w", field, err, merr.ErrMalformedEvent)
		}
		return t, nil
	default:
		return time.Time{}, fieldTypeError(field, record[field])
	}
}
