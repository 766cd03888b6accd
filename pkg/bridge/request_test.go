package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

// parseCtx reads a raw HTTP/1.1 request into a RequestCtx so the
// request-target stays exactly as written.
func parseCtx(t *testing.T, raw string, remote string) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	require.NoError(t, req.Read(bufio.NewReader(strings.NewReader(raw))))
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(remote), Port: 51000}, nil)
	return &ctx
}

func TestNewRequestKeepsRawPath(t *testing.T) {
	for _, target := range []string{"/", "//", "//foo//bar", "/a/../b", "/x%2Fy?q=a%20b&q=2"} {
		t.Run(target, func(t *testing.T) {
			ctx := parseCtx(t, "GET "+target+" HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
			req, err := NewRequest(ctx, RequestOptions{})
			require.NoError(t, err)

			assert.Equal(t, "http://example.com"+target, req.URL.String())
			assert.Equal(t, target, req.URL.RequestURI())
			assert.Equal(t, target, req.RequestURI)
			assert.Equal(t, "example.com", req.Host)
		})
	}
}

func TestNewRequestMethodAndHeaders(t *testing.T) {
	raw := "PROPFIND /dav HTTP/1.1\r\nHost: example.com\r\nX-Multi: one\r\nX-Multi: two\r\nContent-Length: 4\r\n\r\nbody"
	ctx := parseCtx(t, raw, "10.0.0.1")

	req, err := NewRequest(ctx, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "PROPFIND", req.Method)
	assert.Equal(t, []string{"one", "two"}, req.Header.Values("X-Multi"))
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, 1, req.ProtoMajor)
	assert.Equal(t, 1, req.ProtoMinor)
	assert.Equal(t, "10.0.0.1:51000", req.RemoteAddr)
	assert.Nil(t, req.TLS)

	assert.EqualValues(t, 4, req.ContentLength)
	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "body", string(b))
}

func TestNewRequestBodyOnlyForMethodsThatCarryOne(t *testing.T) {
	for _, m := range []string{"GET", "HEAD"} {
		ctx := parseCtx(t, m+" / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
		req, err := NewRequest(ctx, RequestOptions{})
		require.NoError(t, err)
		assert.Equal(t, http.NoBody, req.Body, m)
		assert.Zero(t, req.ContentLength, m)
	}

	ctx := parseCtx(t, "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\n\r\n", "10.0.0.1")
	req, err := NewRequest(ctx, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.NoBody, req.Body)

	ctx = parseCtx(t, "DELETE /item HTTP/1.1\r\nHost: example.com\r\nContent-Length: 2\r\n\r\nid", "10.0.0.1")
	req, err = NewRequest(ctx, RequestOptions{})
	require.NoError(t, err)
	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "id", string(b))
}

func TestNewRequestOrigin(t *testing.T) {
	raw := "GET /p?x=1 HTTP/1.1\r\nHost: internal:3000\r\nX-Forwarded-Proto: https, http\r\nX-Forwarded-Host: public.example\r\n\r\n"

	cases := []struct {
		name string
		opts RequestOptions
		want string
	}{
		{"request host", RequestOptions{}, "http://internal:3000/p?x=1"},
		{"fixed origin", RequestOptions{Origin: "https://fixed.example/", ProtocolHeader: "X-Forwarded-Proto"}, "https://fixed.example/p?x=1"},
		{"forwarded", RequestOptions{ProtocolHeader: "X-Forwarded-Proto", HostHeader: "X-Forwarded-Host"}, "https://public.example/p?x=1"},
		{"protocol only", RequestOptions{ProtocolHeader: "x-forwarded-proto"}, "https://internal:3000/p?x=1"},
		{"header absent", RequestOptions{HostHeader: "X-Original-Host"}, "http://internal:3000/p?x=1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := NewRequest(parseCtx(t, raw, "10.0.0.1"), tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.URL.String())
		})
	}
}

func TestNewRequestRejectsHostsThatReshapeTheURL(t *testing.T) {
	cases := []struct {
		name string
		hdr  string
		opts RequestOptions
	}{
		{"fragment in host", "Host: x#\r\n", RequestOptions{}},
		{"query in host", "Host: x?\r\n", RequestOptions{}},
		{"path in host", "Host: x/evil\r\n", RequestOptions{}},
		{"userinfo in host", "Host: user@x\r\n", RequestOptions{}},
		{"path in forwarded host", "Host: ok\r\nX-Forwarded-Host: a/b\r\n", RequestOptions{HostHeader: "X-Forwarded-Host"}},
		{"unknown protocol", "Host: ok\r\nX-Forwarded-Proto: javascript\r\n", RequestOptions{ProtocolHeader: "X-Forwarded-Proto"}},
		{"protocol with path", "Host: ok\r\nX-Forwarded-Proto: http://evil/\r\n", RequestOptions{ProtocolHeader: "X-Forwarded-Proto"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := parseCtx(t, "GET //foo//bar?a=1 HTTP/1.1\r\n"+tc.hdr+"\r\n", "10.0.0.1")
			_, err := NewRequest(ctx, tc.opts)
			assert.True(t, errors.Is(err, ErrBadRequestTarget), err)
		})
	}
}

func TestNewRequestForwardedValuesKeepPath(t *testing.T) {
	raw := "GET //foo//bar?a=1 HTTP/1.1\r\nHost: internal\r\nX-Forwarded-Proto: HTTPS\r\nX-Forwarded-Host: [2001:db8::1]:8443\r\n\r\n"
	req, err := NewRequest(parseCtx(t, raw, "10.0.0.1"), RequestOptions{ProtocolHeader: "X-Forwarded-Proto", HostHeader: "X-Forwarded-Host"})
	require.NoError(t, err)

	assert.Equal(t, "https", req.URL.Scheme)
	assert.Equal(t, "[2001:db8::1]:8443", req.URL.Host)
	assert.Equal(t, "//foo//bar", req.URL.Path)
	assert.Equal(t, "a=1", req.URL.RawQuery)
	assert.Equal(t, "//foo//bar?a=1", req.URL.RequestURI())
}

func TestNewRequestAbsoluteForm(t *testing.T) {
	ctx := parseCtx(t, "GET http://example.com//a//b?c=d HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
	req, err := NewRequest(ctx, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "//a//b", req.URL.Path)
	assert.Equal(t, "c=d", req.URL.RawQuery)
}

func TestNewRequestBadTarget(t *testing.T) {
	ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "10.0.0.1")
	ctx.Request.Header.SetRequestURI("http:///nohost")
	_, err := NewRequest(ctx, RequestOptions{})
	assert.True(t, errors.Is(err, ErrBadRequestTarget), err)
}

func TestNewRequestContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "base")
	ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "192.0.2.7")

	req, err := NewRequest(ctx, RequestOptions{
		BaseContext: base,
		Platform: func(ctx *fasthttp.RequestCtx) any {
			return map[string]string{"remote": ctx.RemoteIP().String()}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "base", req.Context().Value(key{}))
	assert.Equal(t, map[string]string{"remote": "192.0.2.7"}, Platform(req.Context()))

	addr, err := ClientAddress(req.Context())
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7", addr)
}

func TestPlatformAbsent(t *testing.T) {
	assert.Nil(t, Platform(context.Background()))
	_, err := ClientAddress(context.Background())
	assert.ErrorIs(t, err, ErrNotBridged)
}

func TestClientAddress(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nX-Forwarded-For: 203.0.113.1, 198.51.100.2 , 10.0.0.3\r\nTrue-Client-IP: 203.0.113.50\r\n\r\n"

	cases := []struct {
		name    string
		opts    RequestOptions
		want    string
		wantErr error
	}{
		{"peer", RequestOptions{}, "10.9.9.9", nil},
		{"xff depth 1", RequestOptions{AddressHeader: "X-Forwarded-For", XFFDepth: 1}, "10.0.0.3", nil},
		{"xff depth 2", RequestOptions{AddressHeader: "X-Forwarded-For", XFFDepth: 2}, "198.51.100.2", nil},
		{"xff depth 3", RequestOptions{AddressHeader: "x-forwarded-for", XFFDepth: 3}, "203.0.113.1", nil},
		{"xff too deep", RequestOptions{AddressHeader: "X-Forwarded-For", XFFDepth: 4}, "", ErrXFFDepth},
		{"xff depth zero", RequestOptions{AddressHeader: "X-Forwarded-For"}, "", ErrXFFDepth},
		{"other header", RequestOptions{AddressHeader: "True-Client-IP"}, "203.0.113.50", nil},
		{"header missing", RequestOptions{AddressHeader: "CF-Connecting-IP"}, "", ErrAddressHeaderMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := parseCtx(t, raw, "10.9.9.9")
			req, err := NewRequest(ctx, tc.opts)
			require.NoError(t, err)

			// the address is resolved lazily, so a bad setting never fails
			// the request itself
			got, err := ClientAddress(req.Context())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			direct, err := ResolveClientAddress(ctx, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, direct)
		})
	}
}

func TestClientAddressOutlivesRequestCtx(t *testing.T) {
	ctx := parseCtx(t, "GET / HTTP/1.1\r\nHost: example.com\r\nTrue-Client-IP: 203.0.113.50\r\n\r\n", "10.9.9.9")
	req, err := NewRequest(ctx, RequestOptions{AddressHeader: "True-Client-IP"})
	require.NoError(t, err)

	ctx.Request.Reset()
	addr, err := ClientAddress(req.Context())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.50", addr)
}
