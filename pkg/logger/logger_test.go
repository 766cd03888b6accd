package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("warn", &buf)
	defer func() { Log = nil }()

	Info("hidden_event")
	Warn("shown_event", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden_event")
	assert.Contains(t, out, "shown_event")
	assert.Contains(t, out, "k=v")
}

func TestNilLoggerIsSafe(t *testing.T) {
	Log = nil
	Debug("x")
	Info("x")
	Warn("x")
	Error("x")
}

func TestSafeHeadersFastMasksCredentials(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Authorization", "Bearer secret-token")
	ctx.Request.Header.Set("X-Trace", "abc")

	out := SafeHeadersFast(&ctx)

	assert.Contains(t, out, "Authorization=B*****n")
	assert.Contains(t, out, "X-Trace=abc")
	assert.NotContains(t, out, "secret-token")
}

func TestLogResponseFastListsEachCookie(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.SetStatusCode(fasthttp.StatusCreated)
	ctx.Response.Header.Add("Set-Cookie", "a=secret-one; Path=/")
	ctx.Response.Header.Add("Set-Cookie", "b=secret-two; Path=/")
	ctx.Response.Header.Set("X-Trace", "abc")

	var buf bytes.Buffer
	InitWithWriter("info", &buf)
	defer func() { Log = nil }()
	LogResponseFast(&ctx)
	assert.Empty(t, buf.String())

	InitWithWriter("debug", &buf)
	LogResponseFast(&ctx)
	out := buf.String()
	assert.Contains(t, out, "outgoing_response")
	assert.Contains(t, out, "status=201")
	assert.Contains(t, out, "set_cookie_count=2")
	assert.Contains(t, out, "X-Trace=abc")
	assert.NotContains(t, out, "secret-one")
	assert.NotContains(t, out, "secret-two")
}
