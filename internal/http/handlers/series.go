package handlers

import (
	"github.com/valyala/fasthttp"

	"modelmon/internal/model"
	"modelmon/internal/schema"
	"modelmon/internal/tsdb"
)

// defaultStart bounds series reads that omit an explicit range.
const defaultStart = schema.TimeBound("now-1h")

func timeRange(ctx *fasthttp.RequestCtx) (start, end schema.TimeBound) {
	start = schema.TimeBound(ctx.QueryArgs().Peek("start"))
	end = schema.TimeBound(ctx.QueryArgs().Peek("end"))
	if start == "" {
		start = defaultStart
	}
	if end == "" {
		end = schema.Now
	}
	return start, end
}

// EndpointValues reads the requested result or metric series of one
// endpoint. Requested series with no samples in range come back marked
// no-data rather than disappearing.
func EndpointValues(connector tsdb.Connector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := ctx.UserValue("id").(string)
		refs := parseMetricRefs(ctx)
		if len(refs) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "at least one metric parameter is required")
			return
		}
		kind := model.KindResult
		if k := string(ctx.QueryArgs().Peek("kind")); k != "" {
			parsed, err := model.ParseEventKind(k)
			if err != nil {
				failWith(ctx, err)
				return
			}
			kind = parsed
		}
		start, end := timeRange(ctx)

		series, err := connector.ReadMetrics(ctx, id, start, end, refs, kind)
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"series": seriesResponse(series)})
	}
}

// EndpointInvocations counts prediction samples per aggregation window.
func EndpointInvocations(connector tsdb.Connector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := ctx.UserValue("id").(string)
		start, end := timeRange(ctx)
		window := string(ctx.QueryArgs().Peek("window"))

		series, err := connector.ReadInvocationCount(ctx, id, start, end, window)
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"series": seriesResponse([]tsdb.SeriesResult{series})})
	}
}
