// Package gateway holds the host middleware run in front of every request:
// request logging, the IP allowlist and per-client rate limiting.
package gateway

import (
	"fmt"
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"kitbridge/pkg/logger"
	"kitbridge/pkg/router"
)

// Config tunes a Gateway.
type Config struct {
	// RPS and Burst size each client's token bucket. RPS <= 0 disables
	// rate limiting.
	RPS   float64
	Burst int
	// IPWhitelist holds addresses or CIDR ranges; empty allows everyone.
	IPWhitelist []string
	// ClientIP identifies the client. Defaults to the peer address.
	ClientIP func(ctx *fasthttp.RequestCtx) (string, error)
	// Exempt paths skip the allowlist and the rate limit (health probes).
	Exempt []string
}

// Gateway is the middleware state shared by all requests.
type Gateway struct {
	cfg      Config
	ips      map[string]struct{}
	nets     []*net.IPNet
	limiters *limiterPool
	exempt   map[string]struct{}
}

// New parses cfg. It fails on a malformed allowlist entry.
func New(cfg Config) (*Gateway, error) {
	g := &Gateway{
		cfg:    cfg,
		ips:    make(map[string]struct{}),
		exempt: make(map[string]struct{}, len(cfg.Exempt)),
	}
	for _, w := range cfg.IPWhitelist {
		w = strings.TrimSpace(w)
		if ip := net.ParseIP(w); ip != nil {
			g.ips[ip.String()] = struct{}{}
			continue
		}
		_, n, err := net.ParseCIDR(w)
		if err != nil {
			return nil, fmt.Errorf("gateway: invalid allowlist entry %q", w)
		}
		g.nets = append(g.nets, n)
	}
	for _, p := range cfg.Exempt {
		g.exempt[p] = struct{}{}
	}
	if g.cfg.ClientIP == nil {
		g.cfg.ClientIP = peerIP
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiters = newLimiterPool(cfg.RPS, burst)
	}
	return g, nil
}

// Middleware wraps next with the gateway checks.
func (g *Gateway) Middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		// log request (redacts sensitive headers)
		logger.LogRequestFast(ctx)

		if _, ok := g.exempt[router.RequestPath(ctx)]; ok {
			next(ctx)
			return
		}

		ip, err := g.cfg.ClientIP(ctx)
		if err != nil {
			logger.Warn("client_ip_unresolved", "error", err, "remote", ctx.RemoteAddr().String())
			ip = ""
		}

		if g.restricted() {
			logger.Debug("ip_check", "ip", ip)
			if !g.allowed(ip) {
				router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
				logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", router.RequestPath(ctx))
				return
			}
		}

		// preflights pass through to the app without spending tokens
		if g.limiters != nil && !ctx.IsOptions() {
			key := ip
			if key == "" {
				key = peerIPString(ctx)
			}
			if !g.limiters.Allow(key) {
				router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "ip", key, "path", router.RequestPath(ctx))
				return
			}
		}

		next(ctx)
		logger.LogResponseFast(ctx)
	}
}

// Close stops the limiter cleanup goroutine.
func (g *Gateway) Close() {
	if g.limiters != nil {
		g.limiters.Close()
	}
}

func (g *Gateway) restricted() bool {
	return len(g.ips) > 0 || len(g.nets) > 0
}

func (g *Gateway) allowed(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if _, ok := g.ips[parsed.String()]; ok {
		return true
	}
	for _, n := range g.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func peerIP(ctx *fasthttp.RequestCtx) (string, error) {
	return peerIPString(ctx), nil
}

func peerIPString(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}
