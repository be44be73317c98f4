// Package handlers exposes the metadata store and the time-series
// connector over HTTP.
package handlers

import (
	"encoding/json"
	"log"
	"time"

	"github.com/valyala/fasthttp"

	merr "modelmon/internal/errors"
)

// RequestLogger returns fasthttp middleware that logs method, path, status, duration.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.Printf("%s %s -> %d (%s) ip=%s", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start), ctx.RemoteAddr())
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}

// failWith maps the shared error taxonomy onto HTTP status codes.
func failWith(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case merr.IsNotFound(err):
		errResponse(ctx, fasthttp.StatusNotFound, err.Error())
	case merr.IsAlreadyExists(err):
		errResponse(ctx, fasthttp.StatusConflict, err.Error())
	case merr.Is(err, merr.ErrInvalidArgument) || merr.IsRejection(err):
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	default:
		errResponse(ctx, fasthttp.StatusInternalServerError, err.Error())
	}
}
