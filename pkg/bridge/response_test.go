package bridge

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func newResponse(status int, body io.ReadCloser) *http.Response {
	return &http.Response{StatusCode: status, Header: make(http.Header), Body: body}
}

func TestWriteResponseStatusAndHeaders(t *testing.T) {
	ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
	res := newResponse(418, nil)
	res.Header.Add("Set-Cookie", "a=1; Expires=Wed, 21 Oct 2015 07:28:00 GMT")
	res.Header.Add("Set-Cookie", "b=2")
	res.Header.Add("X-Multi", "x")
	res.Header.Add("X-Multi", "y")

	WriteResponse(ctx, res)

	assert.Equal(t, 418, ctx.Response.StatusCode())
	wire := ctx.Response.Header.String()
	assert.Contains(t, wire, "Set-Cookie: a=1; Expires=Wed, 21 Oct 2015 07:28:00 GMT\r\n")
	assert.Contains(t, wire, "Set-Cookie: b=2\r\n")
	assert.Contains(t, wire, "X-Multi: x\r\n")
	assert.Contains(t, wire, "X-Multi: y\r\n")
	assert.NotContains(t, wire, "Content-Type")
}

func TestWriteResponseNullBody(t *testing.T) {
	for _, body := range []io.ReadCloser{nil, http.NoBody} {
		ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
		WriteResponse(ctx, newResponse(http.StatusOK, body))

		assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
		assert.False(t, ctx.Response.IsBodyStream())
		assert.Empty(t, ctx.Response.Body())
	}
}

func TestWriteResponseStreamsBody(t *testing.T) {
	ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
	body := &trackedBody{Reader: strings.NewReader("hello world")}
	WriteResponse(ctx, newResponse(http.StatusOK, body))

	assert.True(t, ctx.Response.IsBodyStream())
	assert.True(t, ctx.Response.ImmediateHeaderFlush)
	assert.False(t, body.closed, "closed before it was sent")

	assert.Equal(t, "hello world", string(ctx.Response.Body()))
	assert.True(t, body.closed)
}

func TestWriteResponseKnownLength(t *testing.T) {
	ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
	res := newResponse(http.StatusOK, io.NopCloser(strings.NewReader("12345")))
	res.ContentLength = 5
	WriteResponse(ctx, res)

	assert.Equal(t, 5, ctx.Response.Header.ContentLength())
	assert.False(t, ctx.Response.ImmediateHeaderFlush)
}

func TestWriteResponseDropsBodyWhenNotAllowed(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotModified, http.StatusSwitchingProtocols} {
		ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
		body := &trackedBody{Reader: strings.NewReader("ignored")}
		WriteResponse(ctx, newResponse(status, body))

		assert.Equal(t, status, ctx.Response.StatusCode())
		assert.True(t, body.closed, status)
		assert.False(t, ctx.Response.IsBodyStream(), status)
	}

	ctx := parseCtx(t, "HEAD / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
	body := &trackedBody{Reader: strings.NewReader("ignored")}
	WriteResponse(ctx, newResponse(http.StatusOK, body))
	assert.True(t, body.closed)
	assert.False(t, ctx.Response.IsBodyStream())
}

func TestWriteResponseSkipsInvalidHeaders(t *testing.T) {
	ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
	res := newResponse(http.StatusOK, nil)
	res.Header["X-Bad"] = []string{"a\r\nInjected: yes"}
	res.Header.Set("X-Good", "ok")

	WriteResponse(ctx, res)

	assert.Equal(t, "ok", string(ctx.Response.Header.Peek("X-Good")))
	assert.Empty(t, ctx.Response.Header.Peek("Injected"))
	assert.Empty(t, ctx.Response.Header.Peek("X-Bad"))
}

func TestBodySize(t *testing.T) {
	res := newResponse(http.StatusOK, nil)
	assert.Equal(t, -1, bodySize(res))

	res.Header.Set("Content-Length", "42")
	assert.Equal(t, 42, bodySize(res))

	res.ContentLength = 7
	assert.Equal(t, 7, bodySize(res))

	res.ContentLength = 0
	res.Header.Set("Content-Length", "nope")
	assert.Equal(t, -1, bodySize(res))
}

func TestBodyAllowedForStatus(t *testing.T) {
	for _, s := range []int{100, 101, 199, 204, 304} {
		assert.False(t, bodyAllowedForStatus(s), s)
	}
	for _, s := range []int{200, 201, 206, 301, 404, 500} {
		assert.True(t, bodyAllowedForStatus(s), s)
	}
}
