package router

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"kitbridge/pkg/logger"
)

// WriteJSON writes a JSON response.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, data interface{}) error {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONError writes a JSON error response, replacing any body written so far.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.Response.ResetBody()
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}

// DefaultErrorHandler logs err and answers 500 without leaking details.
func DefaultErrorHandler(ctx *fasthttp.RequestCtx, err error) {
	var pe *PanicError
	if errors.As(err, &pe) {
		logger.Error("handler_panic", "panic", pe.Error(), "uri", string(ctx.RequestURI()), "stack", string(pe.Stack))
	} else {
		logger.Error("handler_error", "error", err, "uri", string(ctx.RequestURI()))
	}
	WriteJSONError(ctx, fasthttp.StatusInternalServerError, "internal server error")
}
