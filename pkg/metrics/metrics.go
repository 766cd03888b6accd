// Package metrics exposes Prometheus collectors for the host.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics owns a registry and the request collectors registered on it.
type Metrics struct {
	reg          *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	bridgeErrors *prometheus.CounterVec
}

// New builds a registry holding the request collectors plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_requests_total",
			Help: "Requests served, by method and status code.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kitbridge_request_duration_seconds",
			Help:    "Time until the response head is ready. Streamed bodies are written afterwards.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kitbridge_requests_in_flight",
			Help: "Requests currently being handled.",
		}),
		bridgeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitbridge_bridge_errors_total",
			Help: "Requests the downstream app failed to answer, by reason.",
		}, []string{"reason"}),
	}
	m.reg.MustRegister(
		m.requests,
		m.duration,
		m.inFlight,
		m.bridgeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Middleware records every request passing through next.
func (m *Metrics) Middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next(ctx)

		method := methodLabel(ctx)
		m.requests.WithLabelValues(method, strconv.Itoa(ctx.Response.StatusCode())).Inc()
		m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

// BridgeError counts one failed bridge call.
func (m *Metrics) BridgeError(reason string) {
	m.bridgeErrors.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}

// methodLabel bounds the label set to the registered methods.
func methodLabel(ctx *fasthttp.RequestCtx) string {
	switch m := string(ctx.Method()); m {
	case fasthttp.MethodGet, fasthttp.MethodHead, fasthttp.MethodPost, fasthttp.MethodPut,
		fasthttp.MethodPatch, fasthttp.MethodDelete, fasthttp.MethodOptions,
		fasthttp.MethodConnect, fasthttp.MethodTrace:
		return m
	default:
		return "OTHER"
	}
}
