package router

import (
	"bytes"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/valyala/fasthttp"
)

// Router is a minimal fasthttp router. It matches the raw request path,
// supports parameterised paths using {name}, dispatches handlers by HTTP
// method and hands errors returned by Catch-wrapped handlers to a single
// error handler.
type Router struct {
	routes   map[string][]route
	notFound fasthttp.RequestHandler
	onError  ErrorHandler
	chain    fasthttp.RequestHandler
	mw       []Middleware
}

// Middleware wraps a handler.
type Middleware func(next fasthttp.RequestHandler) fasthttp.RequestHandler

// ErrorHandler renders an error returned, or a panic raised, by a handler.
type ErrorHandler func(ctx *fasthttp.RequestCtx, err error)

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

type route struct {
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

// New constructs a new Router.
func New() *Router {
	r := &Router{routes: make(map[string][]route)}
	r.chain = r.serve
	return r
}

// Use appends middleware. The first one registered runs outermost.
func (r *Router) Use(mw ...Middleware) {
	r.mw = append(r.mw, mw...)
	h := fasthttp.RequestHandler(r.serve)
	for i := len(r.mw) - 1; i >= 0; i-- {
		h = r.mw[i](h)
	}
	r.chain = h
}

// Handler satisfies the fasthttp.Server handler interface.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	r.chain(ctx)
}

func (r *Router) serve(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := RequestPath(ctx)
	if r.dispatch(ctx, method, path) {
		return
	}
	// HEAD falls back to GET; fasthttp drops the body
	if method == fasthttp.MethodHead && r.dispatch(ctx, fasthttp.MethodGet, path) {
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

// RequestPath returns the path of the raw request-target, without the query
// and without the normalization fasthttp applies to ctx.Path, so "//a" and
// "/a" stay distinct.
func RequestPath(ctx *fasthttp.RequestCtx) string {
	uri := ctx.Request.Header.RequestURI()
	if i := bytes.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if len(uri) > 0 && uri[0] != '/' {
		// absolute-form
		if i := bytes.Index(uri, []byte("://")); i >= 0 {
			rest := uri[i+3:]
			if j := bytes.IndexByte(rest, '/'); j >= 0 {
				uri = rest[j:]
			} else {
				uri = nil
			}
		}
	}
	if len(uri) == 0 {
		return "/"
	}
	return string(uri)
}

func (r *Router) dispatch(ctx *fasthttp.RequestCtx, method, path string) bool {
	for _, rt := range r.routes[method] {
		if values, ok := match(path, rt.segments); ok {
			for k, v := range values {
				ctx.SetUserValue(k, v)
			}
			rt.handler(ctx)
			return true
		}
	}
	return false
}

// GET registers a GET handler.
func (r *Router) GET(path string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodGet, path, h)
}

// POST registers a POST handler.
func (r *Router) POST(path string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodPost, path, h)
}

// PUT registers a PUT handler.
func (r *Router) PUT(path string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodPut, path, h)
}

// PATCH registers a PATCH handler.
func (r *Router) PATCH(path string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodPatch, path, h)
}

// DELETE registers a DELETE handler.
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodDelete, path, h)
}

// HEAD registers a HEAD handler. Without one, HEAD falls back to GET.
func (r *Router) HEAD(path string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodHead, path, h)
}

// OPTIONS registers an OPTIONS handler.
func (r *Router) OPTIONS(path string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodOptions, path, h)
}

// Handle registers a handler for an arbitrary method.
func (r *Router) Handle(method, path string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{segments: parse(path), handler: h})
}

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

// OnError replaces the default error handler.
func (r *Router) OnError(h ErrorHandler) {
	r.onError = h
}

// Catch adapts an error-returning handler. A returned error, or a recovered
// panic wrapped in *PanicError, goes to the router's error handler.
func (r *Router) Catch(h func(ctx *fasthttp.RequestCtx) error) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if p := recover(); p != nil {
				r.fail(ctx, &PanicError{Value: p, Stack: debug.Stack()})
			}
		}()
		if err := h(ctx); err != nil {
			r.fail(ctx, err)
		}
	}
}

func (r *Router) fail(ctx *fasthttp.RequestCtx, err error) {
	if r.onError != nil {
		r.onError(ctx, err)
		return
	}
	DefaultErrorHandler(ctx, err)
}

func parse(path string) []segment {
	if path == "" {
		return nil
	}
	if path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return []segment{{name: "", isParam: false}}
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part, isParam: false}
		}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	if len(segs) == 1 && !segs[0].isParam && segs[0].name == "" {
		if path == "/" || path == "" {
			return map[string]string{}, true
		}
		return nil, false
	}
	if path == "" {
		path = "/"
	}
	if path[0] == '/' {
		path = path[1:]
	}
	parts := []string{}
	if path != "" {
		parts = strings.Split(path, "/")
	}
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			v, err := url.PathUnescape(parts[i])
			if err != nil {
				v = parts[i]
			}
			values[seg.name] = v
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
