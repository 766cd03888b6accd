package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/adhocore/gronx"
	"golang.org/x/net/http/httpguts"
)

// set defaults, fail fast on critical errors
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	cfg.ApplyDefaults()

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}

	// exactly one downstream app
	app := cfg.App
	switch {
	case app.BuildDir == "" && app.Upstream == "":
		return fmt.Errorf("no downstream app: set --build-dir, KITBRIDGE_BUILD_DIR or app.build_dir, or an upstream")
	case app.BuildDir != "" && app.Upstream != "":
		return fmt.Errorf("app.build_dir and app.upstream are mutually exclusive")
	case app.BuildDir != "":
		fi, err := os.Stat(app.BuildDir)
		if err != nil {
			return fmt.Errorf("build directory not accessible: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("build directory %s is not a directory", app.BuildDir)
		}
	default:
		u, err := url.Parse(app.Upstream)
		if err != nil {
			return fmt.Errorf("invalid app.upstream: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid app.upstream %q: want http(s)://host[:port][/path]", app.Upstream)
		}
	}

	b := cfg.Bridge
	if b.Origin != "" {
		u, err := url.Parse(b.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid bridge.origin %q: want scheme://host", b.Origin)
		}
		if strings.TrimSuffix(u.Path, "/") != "" || u.RawQuery != "" {
			return fmt.Errorf("invalid bridge.origin %q: must not carry a path or query", b.Origin)
		}
	}
	for name, h := range map[string]string{
		"bridge.protocol_header": b.ProtocolHeader,
		"bridge.host_header":     b.HostHeader,
		"bridge.address_header":  b.AddressHeader,
	} {
		if h != "" && !httpguts.ValidHeaderFieldName(h) {
			return fmt.Errorf("invalid %s %q", name, h)
		}
	}
	if b.XFFDepth != 0 {
		if !strings.EqualFold(b.AddressHeader, "X-Forwarded-For") {
			return fmt.Errorf("bridge.xff_depth requires bridge.address_header to be X-Forwarded-For")
		}
		if b.XFFDepth < 0 {
			return fmt.Errorf("bridge.xff_depth must be a positive integer, got %d", b.XFFDepth)
		}
	} else if strings.EqualFold(b.AddressHeader, "X-Forwarded-For") {
		cfg.Bridge.XFFDepth = 1
	}

	if cfg.Server.RateLimit.RPS < 0 || cfg.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("invalid rate limit: rps and burst must not be negative")
	}
	for _, ip := range cfg.Server.IPWhitelist {
		if net.ParseIP(ip) == nil {
			if _, _, err := net.ParseCIDR(ip); err != nil {
				return fmt.Errorf("invalid server.ip_whitelist entry %q", ip)
			}
		}
	}

	for name, vals := range cfg.Server.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid server.headers name %q", name)
		}
		switch strings.ToLower(name) {
		case "set-cookie", "content-length", "transfer-encoding", "connection":
			return fmt.Errorf("server.headers must not set %s", name)
		}
		for _, v := range vals {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("invalid server.headers value for %s", name)
			}
		}
	}

	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1], got %v", cfg.Telemetry.SampleRate)
	}
	if cfg.Retention.Enabled {
		if !gronx.New().IsValid(cfg.Retention.Cron) {
			return fmt.Errorf("invalid retention.cron %q", cfg.Retention.Cron)
		}
		if cfg.Retention.MaxAge.Duration() < 0 {
			return fmt.Errorf("retention.max_age must not be negative")
		}
	}
	return nil
}
