package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/http/httpguts"

	"kitbridge/pkg/headers"
)

var (
	// ErrBadRequestTarget wraps request-targets, hosts and protocols that do
	// not form a valid absolute URL.
	ErrBadRequestTarget = errors.New("bridge: invalid request target")
	// ErrAddressHeaderMissing is returned by ClientAddress when an address
	// header is configured but the request does not carry it.
	ErrAddressHeaderMissing = errors.New("bridge: address header absent from request")
	// ErrXFFDepth is returned by ClientAddress when the configured
	// X-Forwarded-For depth cannot be satisfied.
	ErrXFFDepth = errors.New("bridge: x-forwarded-for depth out of range")
)

// RequestOptions controls how the absolute URL, client address and request
// context of a translated request are derived.
type RequestOptions struct {
	// Origin fixes scheme://host for every request, e.g. "https://example.com".
	Origin string
	// ProtocolHeader names a header carrying the original scheme,
	// e.g. "X-Forwarded-Proto".
	ProtocolHeader string
	// HostHeader names a header carrying the original host,
	// e.g. "X-Forwarded-Host".
	HostHeader string
	// AddressHeader names a header carrying the client address,
	// e.g. "X-Forwarded-For" or "True-Client-IP".
	AddressHeader string
	// XFFDepth selects the address counted from the right of
	// X-Forwarded-For, i.e. the number of trusted proxies.
	XFFDepth int
	// BaseContext is the parent of every request context. Defaults to
	// context.Background.
	BaseContext context.Context
	// Platform builds a per-request value exposed to the application through
	// Platform(req.Context()).
	Platform func(ctx *fasthttp.RequestCtx) any
}

// NewRequest builds the standard request equivalent to the request held by
// ctx. The path is taken from the raw request-target, so repeated slashes
// survive. GET and HEAD requests never carry a body; for every other method
// the body is handed over as is.
func NewRequest(ctx *fasthttp.RequestCtx, opts RequestOptions) (*http.Request, error) {
	method := string(ctx.Method())
	rawURI := string(ctx.Request.Header.RequestURI())

	scheme, host, err := resolveOrigin(ctx, opts)
	if err != nil {
		return nil, err
	}
	u, err := requestURL(scheme, host, rawURI)
	if err != nil {
		return nil, err
	}

	proto := string(ctx.Request.Header.Protocol())
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		proto, major, minor = "HTTP/1.1", 1, 1
	}

	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	rctx := context.WithValue(base, addressKey, newAddressResolver(ctx, opts))
	if opts.Platform != nil {
		rctx = context.WithValue(rctx, platformKey, opts.Platform(ctx))
	}

	req := &http.Request{
		Method:     method,
		URL:        u,
		Proto:      proto,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     headers.FromRequest(&ctx.Request.Header),
		Host:       u.Host,
		RemoteAddr: ctx.RemoteAddr().String(),
		RequestURI: rawURI,
	}
	if ctx.IsTLS() {
		req.TLS = ctx.TLSConnectionState()
	}

	if method == fasthttp.MethodGet || method == fasthttp.MethodHead {
		req.Body = http.NoBody
	} else {
		req.Body, req.ContentLength = requestBody(ctx)
	}
	return req.WithContext(rctx), nil
}

func requestBody(ctx *fasthttp.RequestCtx) (io.ReadCloser, int64) {
	if stream := ctx.RequestBodyStream(); stream != nil {
		n := int64(ctx.Request.Header.ContentLength())
		if n < 0 {
			n = -1
		}
		return io.NopCloser(stream), n
	}
	b := ctx.Request.Body()
	if len(b) == 0 {
		return http.NoBody, 0
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b))
}

// resolveOrigin returns the scheme and host of ctx. A fixed origin wins;
// then the configured forwarding headers; then the connection itself.
// Client supplied values must be a plain http(s) scheme and a valid host so
// they cannot reshape the URL built around them.
func resolveOrigin(ctx *fasthttp.RequestCtx, opts RequestOptions) (scheme, host string, err error) {
	if opts.Origin != "" {
		u, err := url.Parse(opts.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", "", fmt.Errorf("%w: invalid origin %q", ErrBadRequestTarget, opts.Origin)
		}
		return u.Scheme, u.Host, nil
	}
	scheme = "http"
	if ctx.IsTLS() {
		scheme = "https"
	}
	if v := firstValue(ctx, opts.ProtocolHeader); v != "" {
		scheme = strings.ToLower(v)
	}
	if scheme != "http" && scheme != "https" {
		return "", "", fmt.Errorf("%w: unsupported protocol %q", ErrBadRequestTarget, scheme)
	}
	host = string(ctx.Request.Header.Host())
	if v := firstValue(ctx, opts.HostHeader); v != "" {
		host = v
	}
	if host == "" {
		host = ctx.LocalAddr().String()
	}
	if !httpguts.ValidHostHeader(host) {
		return "", "", fmt.Errorf("%w: invalid host %q", ErrBadRequestTarget, host)
	}
	return scheme, host, nil
}

// firstValue returns the first comma separated element of the named header.
func firstValue(ctx *fasthttp.RequestCtx, name string) string {
	if name == "" {
		return ""
	}
	v := string(ctx.Request.Header.Peek(name))
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// requestURL builds the absolute URL from its parts. Path and query come
// only from the request-target.
func requestURL(scheme, host, rawURI string) (*url.URL, error) {
	u := &url.URL{Scheme: scheme, Host: host}
	switch {
	case rawURI == "":
		u.Path = "/"
		return u, nil
	case rawURI == "*":
		u.Path = "*"
		return u, nil
	}
	target, err := url.ParseRequestURI(rawURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequestTarget, err)
	}
	// absolute-form keeps its path and query; the host was already resolved
	// from the request
	if rawURI[0] != '/' && target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadRequestTarget, rawURI)
	}
	u.Path = target.Path
	u.RawPath = target.RawPath
	u.RawQuery = target.RawQuery
	u.ForceQuery = target.ForceQuery
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// addressResolver holds what ClientAddress needs, copied out of the fasthttp
// request so it stays valid after the handler returns.
type addressResolver struct {
	remote   string
	header   string
	value    string
	present  bool
	xffDepth int
}

func newAddressResolver(ctx *fasthttp.RequestCtx, opts RequestOptions) *addressResolver {
	remote := ctx.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	r := &addressResolver{remote: remote, header: opts.AddressHeader, xffDepth: opts.XFFDepth}
	if r.header != "" {
		v := ctx.Request.Header.Peek(r.header)
		r.present = v != nil
		r.value = string(v)
	}
	return r
}

func (r *addressResolver) resolve() (string, error) {
	if r.header == "" {
		return r.remote, nil
	}
	if !r.present {
		return "", fmt.Errorf("%w: %s", ErrAddressHeaderMissing, r.header)
	}
	if !strings.EqualFold(r.header, "X-Forwarded-For") {
		return strings.TrimSpace(r.value), nil
	}
	addresses := strings.Split(r.value, ",")
	if r.xffDepth < 1 {
		return "", fmt.Errorf("%w: depth must be a positive integer, got %d", ErrXFFDepth, r.xffDepth)
	}
	if r.xffDepth > len(addresses) {
		return "", fmt.Errorf("%w: depth is %d, but only found %d addresses", ErrXFFDepth, r.xffDepth, len(addresses))
	}
	return strings.TrimSpace(addresses[len(addresses)-r.xffDepth]), nil
}

// ResolveClientAddress applies the ClientAddress rules of opts directly to a
// fasthttp request, for host middleware running before the bridge.
func ResolveClientAddress(ctx *fasthttp.RequestCtx, opts RequestOptions) (string, error) {
	return newAddressResolver(ctx, opts).resolve()
}
