package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newCtx(method, uri string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	return &ctx
}

func TestMiddlewareCountsByMethodAndCode(t *testing.T) {
	m := New()
	h := m.Middleware(func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/missing" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	})

	h(newCtx("GET", "/"))
	h(newCtx("GET", "/"))
	h(newCtx("GET", "/missing"))
	h(newCtx("PROPFIND", "/"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("OTHER", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestBridgeError(t *testing.T) {
	m := New()
	m.BridgeError("app_error")
	m.BridgeError("app_error")
	m.BridgeError("panic")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bridgeErrors.WithLabelValues("app_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeErrors.WithLabelValues("panic")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.BridgeError("nil_response")

	ctx := newCtx("GET", "/metrics")
	m.Handler()(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.True(t, strings.Contains(body, `kitbridge_bridge_errors_total{reason="nil_response"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
