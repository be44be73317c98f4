package handlers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"modelmon/internal/model"
	"modelmon/internal/schema"
	"modelmon/internal/store"
	"modelmon/internal/tsdb"
)

type endpointPayload struct {
	EndpointID     string         `json:"endpoint_id"`
	FunctionURI    string         `json:"function_uri,omitempty"`
	Model          string         `json:"model,omitempty"`
	ModelClass     string         `json:"model_class,omitempty"`
	State          string         `json:"state,omitempty"`
	Labels         map[string]any `json:"labels,omitempty"`
	FeatureStats   string         `json:"feature_stats,omitempty"`
	MonitoringMode bool           `json:"monitoring_mode,omitempty"`
	EndpointType   int            `json:"endpoint_type,omitempty"`
	ChildrenUIDs   []string       `json:"children_uids,omitempty"`
}

func CreateEndpoint(metadata store.MetadataStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var payload endpointPayload
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if payload.EndpointID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "endpoint_id is required")
			return
		}

		record := &model.EndpointRecord{
			EndpointID:     payload.EndpointID,
			FunctionURI:    payload.FunctionURI,
			Model:          payload.Model,
			ModelClass:     payload.ModelClass,
			State:          payload.State,
			Labels:         payload.Labels,
			FeatureStats:   payload.FeatureStats,
			MonitoringMode: payload.MonitoringMode,
		}
		if payload.EndpointType != 0 {
			t, err := model.ParseEndpointType(payload.EndpointType)
			if err != nil {
				failWith(ctx, err)
				return
			}
			record.EndpointType = t
		} else {
			record.EndpointType = model.EndpointTypeNode
		}
		record.SetChildren(payload.ChildrenUIDs)

		if err := metadata.Create(ctx, record); err != nil {
			failWith(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusCreated)
		jsonResponse(ctx, map[string]any{"endpoint_id": record.EndpointID})
	}
}

func UpdateEndpoint(metadata store.MetadataStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := ctx.UserValue("id").(string)
		var attrs map[string]any
		if err := json.Unmarshal(ctx.PostBody(), &attrs); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(attrs) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no attributes provided")
			return
		}
		if err := metadata.Update(ctx, id, attrs); err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"endpoint_id": id, "updated": len(attrs)})
	}
}

func GetEndpoint(metadata store.MetadataStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := ctx.UserValue("id").(string)
		opts := store.GetOptions{
			Metrics: parseMetricRefs(ctx),
			Start:   schema.TimeBound(ctx.QueryArgs().Peek("start")),
			End:     schema.TimeBound(ctx.QueryArgs().Peek("end")),
		}
		ep, err := metadata.Get(ctx, id, opts)
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, endpointResponse(ep))
	}
}

func ListEndpoints(metadata store.MetadataStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		filter := store.ListFilter{
			Model:    string(ctx.QueryArgs().Peek("model")),
			Function: string(ctx.QueryArgs().Peek("function")),
			TopLevel: ctx.QueryArgs().Has("top-level"),
		}
		if labels := ctx.QueryArgs().Peek("labels"); len(labels) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(labels, &parsed); err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "labels must be a JSON object")
				return
			}
			filter.LabelBlob = (&model.EndpointRecord{Labels: parsed}).LabelsBlob()
		}
		for _, uid := range ctx.QueryArgs().PeekMulti("uid") {
			filter.UIDs = append(filter.UIDs, string(uid))
		}

		eps, err := metadata.List(ctx, filter)
		if err != nil {
			failWith(ctx, err)
			return
		}
		out := make([]map[string]any, 0, len(eps))
		for i := range eps {
			out = append(out, endpointResponse(&eps[i]))
		}
		jsonResponse(ctx, map[string]any{"endpoints": out})
	}
}

func DeleteEndpoint(metadata store.MetadataStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := ctx.UserValue("id").(string)
		if err := metadata.Delete(ctx, id); err != nil {
			failWith(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}

// DeleteProject tears down the project's monitoring footprint: every
// endpoint record and every time-series subtable.
func DeleteProject(metadata store.MetadataStore, connector tsdb.Connector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		eps, err := metadata.List(ctx, store.ListFilter{})
		if err != nil {
			failWith(ctx, err)
			return
		}
		ids := make([]string, 0, len(eps))
		for i := range eps {
			ids = append(ids, eps[i].EndpointID)
		}
		if err := metadata.DeleteAll(ctx, ids); err != nil {
			failWith(ctx, err)
			return
		}
		if err := connector.DeleteProjectResources(ctx); err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"deleted_endpoints": len(ids)})
	}
}

// parseMetricRefs reads repeated "metric" query parameters of the form
// "application.name". The name may itself contain dots; only the first
// one separates the application.
func parseMetricRefs(ctx *fasthttp.RequestCtx) []tsdb.MetricRef {
	var refs []tsdb.MetricRef
	for _, v := range ctx.QueryArgs().PeekMulti("metric") {
		parts := strings.SplitN(string(v), ".", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		refs = append(refs, tsdb.MetricRef{Application: parts[0], Name: parts[1]})
	}
	return refs
}

func endpointResponse(ep *store.Endpoint) map[string]any {
	out := map[string]any{
		"endpoint_id":     ep.EndpointID,
		"project":         ep.Project,
		"function_uri":    ep.FunctionURI,
		"model":           ep.Model,
		"model_class":     ep.ModelClass,
		"state":           ep.State,
		"labels":          map[string]any(ep.Labels),
		"monitoring_mode": ep.MonitoringMode,
		"endpoint_type":   int(ep.EndpointType),
	}
	if children := ep.Children(); len(children) > 0 {
		out["children_uids"] = children
	}
	if ep.FirstRequest != nil {
		out["first_request"] = ep.FirstRequest.UTC().Format(time.RFC3339)
	}
	if ep.LastRequest != nil {
		out["last_request"] = ep.LastRequest.UTC().Format(time.RFC3339)
	}
	if ep.AppMetrics != "" {
		var appMetrics map[string]map[string]string
		if err := json.Unmarshal([]byte(ep.AppMetrics), &appMetrics); err == nil {
			out["app_metrics"] = appMetrics
		}
	}
	if ep.Metrics != nil {
		out["metrics"] = seriesResponse(ep.Metrics)
	}
	return out
}

func seriesResponse(series []tsdb.SeriesResult) []map[string]any {
	out := make([]map[string]any, 0, len(series))
	for _, s := range series {
		entry := map[string]any{
			"full_name":   s.FullName,
			"application": s.Ref.Application,
			"name":        s.Ref.Name,
			"kind":        string(s.Kind),
		}
		if s.NoData {
			entry["no_data"] = true
			out = append(out, entry)
			continue
		}
		values := make([]map[string]any, 0, len(s.Values))
		for _, p := range s.Values {
			values = append(values, map[string]any{
				"timestamp": p.Timestamp.UTC().Format(time.RFC3339),
				"value":     p.Value,
				"status":    int(p.Status),
			})
		}
		entry["values"] = values
		out = append(out, entry)
	}
	return out
}
