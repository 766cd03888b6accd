package app

import (
	"errors"

	"github.com/valyala/fasthttp"

	"kitbridge/pkg/bridge"
	"kitbridge/pkg/logger"
	"kitbridge/pkg/router"
)

// buildHandler registers the host's own routes and sends everything else to
// the downstream app.
func (a *App) buildHandler(opts bridge.RequestOptions) (fasthttp.RequestHandler, error) {
	serve, err := bridge.New(bridge.Config{App: a.downstream, RequestOptions: opts})
	if err != nil {
		return nil, err
	}

	r := router.New()
	// health and ready handlers
	r.GET("/healthz", a.healthzHandlerFast)
	r.GET("/readyz", a.readyzHandlerFast)
	r.GET("/metrics", a.metrics.Handler())

	r.OPTIONS("/healthz", a.probeOptions)
	r.OPTIONS("/readyz", a.probeOptions)

	r.NotFound(r.Catch(serve))
	r.OnError(a.handleError)
	r.Use(a.gw.Middleware, a.metrics.Middleware, a.defaultHeaders)
	return r.Handler, nil
}

// defaultHeaders adds the configured response headers whose names the
// response does not carry yet.
func (a *App) defaultHeaders(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if len(a.extraHeaders) == 0 {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		for name, vals := range a.extraHeaders {
			if ctx.Response.Header.Peek(name) != nil {
				continue
			}
			for _, v := range vals {
				ctx.Response.Header.Add(name, v)
			}
		}
	}
}

// healthzHandlerFast handles the /healthz endpoint.
func (a *App) healthzHandlerFast(ctx *fasthttp.RequestCtx) {
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

// probeOptions answers preflight requests for the probe endpoints.
func (a *App) probeOptions(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Allow", "GET, HEAD, OPTIONS")
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// readyzHandlerFast handles the /readyz endpoint.
func (a *App) readyzHandlerFast(ctx *fasthttp.RequestCtx) {
	if !a.ready.Load() {
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "not ready")
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	kind := "site"
	if a.upstream != nil {
		kind = "upstream"
	}
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "version": ver, "app": kind})
}

// handleError renders a failed bridge call.
func (a *App) handleError(ctx *fasthttp.RequestCtx, err error) {
	var pe *router.PanicError
	switch {
	case errors.Is(err, bridge.ErrBadRequestTarget):
		a.metrics.BridgeError("bad_request_target")
		logger.Warn("bad_request_target", "uri", string(ctx.Request.Header.RequestURI()), "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "bad request")
	case errors.As(err, &pe):
		a.metrics.BridgeError("panic")
		router.DefaultErrorHandler(ctx, err)
	case errors.Is(err, bridge.ErrNilResponse):
		a.metrics.BridgeError("nil_response")
		router.DefaultErrorHandler(ctx, err)
	case a.upstream != nil:
		a.metrics.BridgeError("upstream")
		logger.Error("upstream_failed", "uri", string(ctx.Request.Header.RequestURI()), "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusBadGateway, "bad gateway")
	default:
		a.metrics.BridgeError("app_error")
		router.DefaultErrorHandler(ctx, err)
	}
}

// handleServeError answers requests fasthttp could not parse or read.
func (a *App) handleServeError(ctx *fasthttp.RequestCtx, err error) {
	status := fasthttp.StatusBadRequest
	if errors.Is(err, fasthttp.ErrBodyTooLarge) {
		status = fasthttp.StatusRequestEntityTooLarge
	}
	logger.Warn("request_rejected", "status", status, "error", err, "remote", ctx.RemoteAddr().String())
	router.WriteJSONError(ctx, status, fasthttp.StatusMessage(status))
}
