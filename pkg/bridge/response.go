package bridge

import (
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"

	"kitbridge/pkg/headers"
	"kitbridge/pkg/logger"
)

// WriteResponse copies status, headers and body of res onto ctx. A present
// body is attached as a stream: fasthttp pulls it chunk by chunk while
// writing to the connection and closes it once done, so the payload is never
// held in memory as a whole.
func WriteResponse(ctx *fasthttp.RequestCtx, res *http.Response) {
	ctx.Response.Header.SetNoDefaultContentType(true)
	ctx.SetStatusCode(res.StatusCode)
	if n := headers.Apply(&ctx.Response.Header, res.Header); n > 0 {
		logger.Warn("bridge_headers_skipped", "count", n, "status", res.StatusCode)
	}

	body := res.Body
	if body == nil || body == http.NoBody {
		ctx.Response.ResetBody()
		return
	}
	if !bodyAllowedForStatus(res.StatusCode) || ctx.IsHead() {
		_ = body.Close()
		ctx.Response.ResetBody()
		return
	}

	size := bodySize(res)
	if size < 0 {
		ctx.Response.ImmediateHeaderFlush = true
	}
	ctx.SetBodyStream(body, size)
}

// bodySize returns the declared body length, or -1 to stream chunked. A zero
// ContentLength is treated as unknown since it is also the zero value of a
// hand-built response.
func bodySize(res *http.Response) int {
	if res.ContentLength > 0 {
		return int(res.ContentLength)
	}
	if v := res.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return int(n)
		}
	}
	return -1
}

// bodyAllowedForStatus reports whether a response with the given status may
// carry a body.
func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent:
		return false
	case status == http.StatusNotModified:
		return false
	}
	return true
}
