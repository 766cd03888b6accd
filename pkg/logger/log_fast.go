package logger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasthttp"

	"kitbridge/pkg/headers"
)

// headers whose values are never logged in clear
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
}

func maskedValue(v string) string {
	if v == "" {
		return ""
	}
	l := utf8.RuneCountInString(v)
	if l <= 2 {
		return "<redacted>"
	}
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	return string(first) + "*****" + string(last)
}

func redactHeaderValue(k string, v string) string {
	if _, ok := sensitiveHeaders[strings.ToLower(k)]; !ok {
		return v
	}
	return maskedValue(v)
}

// SafeHeadersFast renders request headers as "k=v; k=v" with credentials masked.
func SafeHeadersFast(ctx *fasthttp.RequestCtx) string {
	parts := make([]string, 0)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		parts = append(parts, key+"="+redactHeaderValue(key, string(v)))
	})
	return strings.Join(parts, "; ")
}

func LogRequestFast(ctx *fasthttp.RequestCtx) {
	if Log == nil {
		return
	}
	Info("incoming_request",
		"method", string(ctx.Method()),
		"uri", string(ctx.Request.Header.RequestURI()),
		"remote", ctx.RemoteAddr().String(),
	)
	Debug("incoming_request_headers", "headers", SafeHeadersFast(ctx))
}

// LogResponseFast logs the status and headers of the response held by ctx at
// debug level. Every Set-Cookie value is listed on its own, masked.
func LogResponseFast(ctx *fasthttp.RequestCtx) {
	if Log == nil || !Log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	h := headers.FromResponse(&ctx.Response.Header)
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, headers.Len(h))
	for _, k := range names {
		for _, v := range h[k] {
			parts = append(parts, k+"="+redactHeaderValue(k, v))
		}
	}
	Debug("outgoing_response",
		"status", ctx.Response.StatusCode(),
		"header_count", headers.Len(h),
		"set_cookie_count", len(headers.SetCookies(h)),
		"headers", strings.Join(parts, "; "),
	)
}
