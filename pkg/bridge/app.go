package bridge

import (
	"net/http"
	"net/url"
	"strings"

	"kitbridge/pkg/headers"
)

// App is a downstream application: it turns a standard request into a
// standard response. A non-nil response with a nil error is expected; the
// caller owns and closes the response body.
type App interface {
	Handle(req *http.Request) (*http.Response, error)
}

// AppFunc adapts a plain function to App.
type AppFunc func(req *http.Request) (*http.Response, error)

func (f AppFunc) Handle(req *http.Request) (*http.Response, error) {
	return f(req)
}

// hop-by-hop headers, removed in both directions when talking to another
// process
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders deletes the fixed hop-by-hop headers and every header
// named by Connection.
func removeHopHeaders(h http.Header) {
	if v, ok := headers.Join(h, "Connection"); ok {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// FromRoundTripper returns an App served by another process reachable at
// upstream. The request path is appended to the upstream path unchanged and
// the original Host is kept; X-Forwarded-Host and X-Forwarded-Proto are set
// when absent.
func FromRoundTripper(rt http.RoundTripper, upstream *url.URL) App {
	prefix := strings.TrimSuffix(upstream.Path, "/")
	return AppFunc(func(req *http.Request) (*http.Response, error) {
		out := req.Clone(req.Context())
		out.RequestURI = ""
		out.Close = false

		if out.Header.Get("X-Forwarded-Host") == "" {
			out.Header.Set("X-Forwarded-Host", req.URL.Host)
		}
		if out.Header.Get("X-Forwarded-Proto") == "" {
			out.Header.Set("X-Forwarded-Proto", req.URL.Scheme)
		}
		removeHopHeaders(out.Header)

		out.URL.Scheme = upstream.Scheme
		out.URL.Host = upstream.Host
		if prefix != "" {
			out.URL.Path = prefix + req.URL.Path
			if req.URL.RawPath != "" {
				out.URL.RawPath = prefix + req.URL.RawPath
			}
		}
		res, err := rt.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		removeHopHeaders(res.Header)
		return res, nil
	})
}
