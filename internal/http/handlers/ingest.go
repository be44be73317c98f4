package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	merr "modelmon/internal/errors"
	"modelmon/internal/writer"
)

type ingestRequest struct {
	Events []map[string]any `json:"events"`
}

// IngestHandler accepts monitoring-application records over HTTP and runs
// each through the writer pipeline. It exists for producers that cannot
// reach the result stream; semantics match stream consumption exactly.
func IngestHandler(w *writer.Writer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var payload ingestRequest
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(payload.Events) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no events provided")
			return
		}

		accepted, rejected := 0, 0
		for _, record := range payload.Events {
			if err := w.Do(ctx, record); err != nil {
				if merr.IsRejection(err) {
					rejected++
					continue
				}
				failWith(ctx, err)
				return
			}
			accepted++
		}

		ctx.SetStatusCode(fasthttp.StatusAccepted)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"accepted","count":` + strconv.Itoa(accepted) +
			`,"rejected":` + strconv.Itoa(rejected) + `}`)
	}
}
