package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"kitbridge/internal/retention"
	"kitbridge/internal/site"
	"kitbridge/pkg/banner"
	"kitbridge/pkg/bridge"
	"kitbridge/pkg/config"
	"kitbridge/pkg/gateway"
	"kitbridge/pkg/headers"
	"kitbridge/pkg/logger"
	"kitbridge/pkg/metrics"
	"kitbridge/pkg/telemetry"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	downstream bridge.App
	upstream   *url.URL
	metrics    *metrics.Metrics
	gw         *gateway.Gateway
	retention  *retention.Manager
	handler    fasthttp.RequestHandler
	srvFast    *fasthttp.Server

	// added to responses lacking them
	extraHeaders http.Header

	// parent of every request context handed to the downstream app
	baseCtx    context.Context
	baseCancel context.CancelFunc

	ready atomic.Bool
	state string
}

// New wires the downstream app, middleware and routes. It does not listen;
// call Run for that.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if eff.Config == nil {
		return nil, fmt.Errorf("effective config is nil")
	}
	cfg := eff.Config
	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, state: "new"}
	a.baseCtx, a.baseCancel = context.WithCancel(context.Background())

	if cfg.App.Upstream != "" {
		u, err := url.Parse(cfg.App.Upstream)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream: %w", err)
		}
		a.upstream = u
		a.downstream = bridge.FromRoundTripper(newTransport(), u)
		logger.Info("downstream_app", "kind", "upstream", "url", u.String())
	} else {
		a.downstream = bridge.FromHandler(site.New(cfg.App.BuildDir))
		logger.Info("downstream_app", "kind", "site", "build_dir", cfg.App.BuildDir)
	}

	if cfg.Telemetry.Enabled {
		err := telemetry.Init(telemetry.Options{
			Dir:           cfg.Telemetry.Dir,
			SampleRate:    cfg.Telemetry.SampleRate,
			SlowThreshold: cfg.Telemetry.SlowThreshold.Duration(),
			BufferSize:    int(cfg.Telemetry.BufferSize.Int64()),
			QueueCapacity: cfg.Telemetry.QueueCapacity,
			FlushInterval: cfg.Telemetry.FlushInterval.Duration(),
			MaxFileSize:   cfg.Telemetry.MaxFileSize.Int64(),
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	a.metrics = metrics.New()
	a.extraHeaders = headers.FromMap(cfg.Server.ResponseHeaders())

	if cfg.Retention.Enabled {
		rm, err := retention.Start(a.baseCtx, retention.Options{
			Dir:    cfg.CrashDir(),
			Cron:   cfg.Retention.Cron,
			MaxAge: cfg.Retention.MaxAge.Duration(),
		})
		if err != nil {
			return nil, err
		}
		a.retention = rm
	}

	opts := a.requestOptions()
	gw, err := gateway.New(gateway.Config{
		RPS:         cfg.Server.RateLimit.RPS,
		Burst:       cfg.Server.RateLimit.Burst,
		IPWhitelist: cfg.Server.IPWhitelist,
		ClientIP: func(ctx *fasthttp.RequestCtx) (string, error) {
			return bridge.ResolveClientAddress(ctx, opts)
		},
		Exempt: []string{"/healthz", "/readyz"},
	})
	if err != nil {
		return nil, err
	}
	a.gw = gw

	h, err := a.buildHandler(opts)
	if err != nil {
		gw.Close()
		return nil, err
	}
	a.handler = h
	return a, nil
}

// Handler returns the complete host handler, middleware included.
func (a *App) Handler() fasthttp.RequestHandler {
	return a.handler
}

// Run listens on the configured address and blocks until ctx is cancelled or
// the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp4", a.eff.Config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.eff.Config.Addr(), err)
	}
	a.printBanner()
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.srvFast = a.newServer()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srvFast.Serve(ln)
	}()
	a.ready.Store(true)
	a.state = "running"
	logger.Info("server_listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		a.ready.Store(false)
		return err
	}
}

func (a *App) newServer() *fasthttp.Server {
	cfg := a.eff.Config
	const readBufferSize = 64 * 1024 // room for large cookie headers
	return &fasthttp.Server{
		Handler:               a.handler,
		ErrorHandler:          a.handleServeError,
		Logger:                fastLogger{},
		ReadBufferSize:        readBufferSize,
		MaxRequestBodySize:    int(cfg.Server.MaxRequestBodySize.Int64()),
		StreamRequestBody:     cfg.StreamRequestBody(),
		ReadTimeout:           cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:          cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:           cfg.Server.IdleTimeout.Duration(),
		NoDefaultServerHeader: true,
		NoDefaultContentType:  true,
		// an upstream app sends its own Date
		NoDefaultDate:   a.upstream != nil,
		CloseOnShutdown: true,
	}
}

// requestOptions maps the bridge config onto the request translator.
func (a *App) requestOptions() bridge.RequestOptions {
	b := a.eff.Config.Bridge
	return bridge.RequestOptions{
		Origin:         b.Origin,
		ProtocolHeader: b.ProtocolHeader,
		HostHeader:     b.HostHeader,
		AddressHeader:  b.AddressHeader,
		XFFDepth:       b.XFFDepth,
		BaseContext:    a.baseCtx,
		Platform: func(ctx *fasthttp.RequestCtx) any {
			return site.Platform{
				ConnID:     ctx.ConnID(),
				ConnReqNum: ctx.ConnRequestNum(),
				ReceivedAt: ctx.Time(),
				TLS:        ctx.IsTLS(),
			}
		},
	}
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(os.Stdout, a.eff, verStr)
}

func newTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.MaxIdleConnsPerHost = 64
	tr.IdleConnTimeout = 90 * time.Second
	// bodies are relayed as the app encoded them
	tr.DisableCompression = true
	return tr
}

// fastLogger routes fasthttp's own messages into the structured log.
type fastLogger struct{}

func (fastLogger) Printf(format string, args ...any) {
	logger.Warn("fasthttp", "msg", fmt.Sprintf(format, args...))
}
