// Package store provides CRUD over endpoint metadata records, polymorphic
// over a relational (gorm/Postgres) and a document (Redis) backend, plus
// the factory resolving configuration to concrete instances.
package store

import (
	"context"

	"modelmon/internal/model"
	"modelmon/internal/schema"
	"modelmon/internal/tsdb"
)

// MetricsReader is the slice of the time-series connector the metadata
// store needs to attach computed values on get. It is injected, never
// hard-wired, so either connector variant (or a fake) can serve it.
type MetricsReader interface {
	ReadMetrics(ctx context.Context, endpointID string, start, end schema.TimeBound,
		refs []tsdb.MetricRef, kind model.EventKind) ([]tsdb.SeriesResult, error)
}

// GetOptions controls metric attachment on get.
type GetOptions struct {
	// Metrics lists the (application, name) pairs to join in from the
	// time-series connector. Empty means metadata only.
	Metrics []tsdb.MetricRef
	Start   schema.TimeBound
	End     schema.TimeBound
}

// Endpoint is a metadata record, optionally joined with computed
// time-series values.
type Endpoint struct {
	model.EndpointRecord

	// Metrics is populated only when GetOptions requested it; one entry
	// per requested ref, no-data entries included.
	Metrics []tsdb.SeriesResult
}

// ListFilter selects endpoints within the project. Filters compose
// conjunctively, except UIDs which composes disjunctively (a record
// matches if its id is any of the listed ids) and is then intersected
// with the other filters.
type ListFilter struct {
	Model    string
	Function string

	// LabelBlob matches against the canonical serialized form of the
	// record's label map, exact string equality.
	LabelBlob string

	// TopLevel keeps only endpoints that are not children of a router.
	TopLevel bool

	UIDs []string
}

// MetadataStore is the backend-polymorphic CRUD contract over endpoint
// metadata records.
type MetadataStore interface {
	// Create ensures the backing table/collection exists, then inserts
	// one full record. A duplicate id fails with an already-exists
	// error; a record is never partially written.
	Create(ctx context.Context, record *model.EndpointRecord) error

	// Update partially updates a record by attribute map. Unknown keys
	// fail with an invalid-argument error; a missing record fails with
	// a not-found error and is never created.
	Update(ctx context.Context, endpointID string, attrs map[string]any) error

	// Get fetches one record, optionally joined with computed
	// time-series values for the given range.
	Get(ctx context.Context, endpointID string, opts GetOptions) (*Endpoint, error)

	// List returns the project's records matching the filter.
	List(ctx context.Context, filter ListFilter) ([]Endpoint, error)

	// Delete removes a record; deleting an absent record is not an
	// error.
	Delete(ctx context.Context, endpointID string) error

	// DeleteAll deletes each id independently; a failing id never
	// aborts the remaining deletes. Errors are reported per id.
	DeleteAll(ctx context.Context, endpointIDs []string) error
}

// matchesFilter applies the in-memory part of list filtering, shared by
// both variants: label-blob equality and the disjunctive id-list filter.
func matchesFilter(r *model.EndpointRecord, filter ListFilter) bool {
	if filter.Model != "" && r.Model != filter.Model {
		return false
	}
	if filter.Function != "" && r.FunctionURI != filter.Function {
		return false
	}
	if filter.LabelBlob != "" && r.LabelsBlob() != filter.LabelBlob {
		return false
	}
	if filter.TopLevel &&
		r.EndpointType != model.EndpointTypeNode && r.EndpointType != model.EndpointTypeRouter {
		return false
	}
	if len(filter.UIDs) > 0 {
		found := false
		for _, uid := range filter.UIDs {
			if r.EndpointID == uid {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// attachMetrics joins computed values from the injected reader.
func attachMetrics(ctx context.Context, reader MetricsReader, ep *Endpoint, opts GetOptions) error {
	if reader == nil || len(opts.Metrics) == 0 {
		return nil
	}
	start, end := opts.Start, opts.End
	if start == "" {
		start = "now-1h"
	}
	if end == "" {
		end = schema.Now
	}
	series, err := reader.ReadMetrics(ctx, ep.EndpointID, start, end, opts.Metrics, model.KindResult)
	if err != nil {
		return err
	}
	ep.Metrics = series
	return nil
}
