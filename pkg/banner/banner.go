package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"kitbridge/pkg/config"
)

const banner = `
 _    _ _   _          _     _
| | _(_) |_| |__  _ __(_) __| | __ _  ___
| |/ / | __| '_ \| '__| |/ _' |/ _' |/ _ \
|   <| | |_| |_) | |  | | (_| | (_| |  __/
|_|\_\_|\__|_.__/|_|  |_|\__,_|\__, |\___|
                               |___/
`

// PrintWithEff writes the banner and a summary of the effective config.
func PrintWithEff(w io.Writer, eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", addr)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", src)

	cfg := eff.Config
	if cfg == nil {
		return
	}

	fmt.Fprintln(w, "\n== App ========================================================")
	if cfg.App.Upstream != "" {
		fmt.Fprintf(w, "- Upstream: %s\n", cfg.App.Upstream)
	} else {
		fmt.Fprintf(w, "- Build dir: %s\n", cfg.App.BuildDir)
	}
	if cfg.Bridge.Origin != "" {
		fmt.Fprintf(w, "- Origin: %s (fixed)\n", cfg.Bridge.Origin)
	} else {
		origin := "request"
		if cfg.Bridge.ProtocolHeader != "" || cfg.Bridge.HostHeader != "" {
			origin = fmt.Sprintf("request, protocol=%s host=%s", orUnset(cfg.Bridge.ProtocolHeader), orUnset(cfg.Bridge.HostHeader))
		}
		fmt.Fprintf(w, "- Origin: from %s\n", origin)
	}
	if cfg.Bridge.AddressHeader != "" {
		if strings.EqualFold(cfg.Bridge.AddressHeader, "X-Forwarded-For") {
			fmt.Fprintf(w, "- Client address: %s (depth %d)\n", cfg.Bridge.AddressHeader, cfg.Bridge.XFFDepth)
		} else {
			fmt.Fprintf(w, "- Client address: %s\n", cfg.Bridge.AddressHeader)
		}
	} else {
		fmt.Fprintln(w, "- Client address: peer")
	}

	fmt.Fprintln(w, "\n== Limits =====================================================")
	fmt.Fprintf(w, "- Max request body: %s\n", humanize.IBytes(uint64(cfg.Server.MaxRequestBodySize.Int64())))
	if cfg.StreamRequestBody() {
		fmt.Fprintln(w, "- Request bodies: streamed")
	} else {
		fmt.Fprintln(w, "- Request bodies: buffered")
	}
	fmt.Fprintf(w, "- Rate limit: %s rps, burst %s\n",
		humanize.Ftoa(cfg.Server.RateLimit.RPS), humanize.Comma(int64(cfg.Server.RateLimit.Burst)))
	if n := len(cfg.Server.IPWhitelist); n > 0 {
		fmt.Fprintf(w, "- IP allowlist: %d entries\n", n)
	} else {
		fmt.Fprintln(w, "- IP allowlist: open")
	}
	if cfg.Telemetry.Enabled {
		fmt.Fprintf(w, "- Telemetry: %s (sample %s)\n", cfg.Telemetry.Dir, humanize.Ftoa(cfg.Telemetry.SampleRate))
	} else {
		fmt.Fprintln(w, "- Telemetry: disabled")
	}
	fmt.Fprintln(w)
}

func orUnset(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
