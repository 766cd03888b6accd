package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds command-line values and which of them were set explicitly.
type Flags struct {
	Addr     string
	BuildDir string
	Upstream string
	Config   string
	Set      map[string]bool
}

// EnvResult reports what ParseConfigEnvs found.
type EnvResult struct {
	EnvUsed bool
	// Errors lists variables that were set but could not be parsed.
	Errors []error
}

// EffectiveConfigResult holds the result of LoadEffectiveConfig.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	Source string // "flags", "config", or "env"
}

// ParseConfigFile loads the config file selected by flags. A missing file is
// reported through the found result; LoadEffectiveConfig decides whether
// that is fatal.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	if cfgPath == "" {
		return &Config{}, false, nil
	}
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs loads KITBRIDGE_* environment variables into a new Config.
func ParseConfigEnvs() (*Config, EnvResult) {
	envs := map[string]string{
		"SERVER_ADDR":                  os.Getenv("KITBRIDGE_SERVER_ADDR"),
		"SERVER_ADDRESS":               os.Getenv("KITBRIDGE_SERVER_ADDRESS"),
		"SERVER_PORT":                  os.Getenv("KITBRIDGE_SERVER_PORT"),
		"SERVER_READ_TIMEOUT":          os.Getenv("KITBRIDGE_SERVER_READ_TIMEOUT"),
		"SERVER_WRITE_TIMEOUT":         os.Getenv("KITBRIDGE_SERVER_WRITE_TIMEOUT"),
		"SERVER_IDLE_TIMEOUT":          os.Getenv("KITBRIDGE_SERVER_IDLE_TIMEOUT"),
		"SERVER_SHUTDOWN_TIMEOUT":      os.Getenv("KITBRIDGE_SERVER_SHUTDOWN_TIMEOUT"),
		"SERVER_MAX_REQUEST_BODY_SIZE": os.Getenv("KITBRIDGE_SERVER_MAX_REQUEST_BODY_SIZE"),
		"SERVER_STREAM_REQUEST_BODY":   os.Getenv("KITBRIDGE_SERVER_STREAM_REQUEST_BODY"),
		"RATE_RPS":                     os.Getenv("KITBRIDGE_RATE_RPS"),
		"RATE_BURST":                   os.Getenv("KITBRIDGE_RATE_BURST"),
		"IP_WHITELIST":                 os.Getenv("KITBRIDGE_IP_WHITELIST"),

		// request translation, named after the equivalent adapter-node variables
		"ORIGIN":          os.Getenv("KITBRIDGE_ORIGIN"),
		"PROTOCOL_HEADER": os.Getenv("KITBRIDGE_PROTOCOL_HEADER"),
		"HOST_HEADER":     os.Getenv("KITBRIDGE_HOST_HEADER"),
		"ADDRESS_HEADER":  os.Getenv("KITBRIDGE_ADDRESS_HEADER"),
		"XFF_DEPTH":       os.Getenv("KITBRIDGE_XFF_DEPTH"),

		"BUILD_DIR": os.Getenv("KITBRIDGE_BUILD_DIR"),
		"UPSTREAM":  os.Getenv("KITBRIDGE_UPSTREAM"),

		"LOG_LEVEL": os.Getenv("KITBRIDGE_LOG_LEVEL"),

		"TELEMETRY_ENABLED":        os.Getenv("KITBRIDGE_TELEMETRY_ENABLED"),
		"TELEMETRY_DIR":            os.Getenv("KITBRIDGE_TELEMETRY_DIR"),
		"TELEMETRY_SAMPLE_RATE":    os.Getenv("KITBRIDGE_TELEMETRY_SAMPLE_RATE"),
		"TELEMETRY_SLOW_THRESHOLD": os.Getenv("KITBRIDGE_TELEMETRY_SLOW_THRESHOLD"),
		"TELEMETRY_BUFFER_SIZE":    os.Getenv("KITBRIDGE_TELEMETRY_BUFFER_SIZE"),
		"TELEMETRY_QUEUE_CAPACITY": os.Getenv("KITBRIDGE_TELEMETRY_QUEUE_CAPACITY"),
		"TELEMETRY_FLUSH_INTERVAL": os.Getenv("KITBRIDGE_TELEMETRY_FLUSH_INTERVAL"),
		"TELEMETRY_MAX_FILE_SIZE":  os.Getenv("KITBRIDGE_TELEMETRY_MAX_FILE_SIZE"),

		"RETENTION_ENABLED": os.Getenv("KITBRIDGE_RETENTION_ENABLED"),
		"RETENTION_CRON":    os.Getenv("KITBRIDGE_RETENTION_CRON"),
		"RETENTION_MAX_AGE": os.Getenv("KITBRIDGE_RETENTION_MAX_AGE"),
	}

	var res EnvResult
	for _, v := range envs {
		if v != "" {
			res.EnvUsed = true
			break
		}
	}
	envCfg := &Config{}

	bad := func(key string, err error) {
		res.Errors = append(res.Errors, fmt.Errorf("KITBRIDGE_%s: %w", key, err))
	}
	parseInt := func(key string, dst *int) {
		if v := strings.TrimSpace(envs[key]); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				bad(key, err)
				return
			}
			*dst = n
		}
	}
	parseFloat := func(key string, dst *float64) {
		if v := strings.TrimSpace(envs[key]); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				bad(key, err)
				return
			}
			*dst = f
		}
	}
	parseDur := func(key string, dst *Duration) {
		if v := envs[key]; v != "" {
			d, err := parseDuration(v)
			if err != nil {
				bad(key, err)
				return
			}
			*dst = d
		}
	}
	parseBytes := func(key string, dst *SizeBytes) {
		if v := envs[key]; v != "" {
			s, err := parseSize(v)
			if err != nil {
				bad(key, err)
				return
			}
			*dst = s
		}
	}

	if v := envs["SERVER_ADDR"]; v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			envCfg.Server.Port = parsePortFromAddr(v)
			if envCfg.Server.Port == 0 {
				bad("SERVER_ADDR", fmt.Errorf("invalid port %q", p))
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		envCfg.Server.Address = strings.TrimSpace(envs["SERVER_ADDRESS"])
		parseInt("SERVER_PORT", &envCfg.Server.Port)
	}
	parseDur("SERVER_READ_TIMEOUT", &envCfg.Server.ReadTimeout)
	parseDur("SERVER_WRITE_TIMEOUT", &envCfg.Server.WriteTimeout)
	parseDur("SERVER_IDLE_TIMEOUT", &envCfg.Server.IdleTimeout)
	parseDur("SERVER_SHUTDOWN_TIMEOUT", &envCfg.Server.ShutdownTimeout)
	parseBytes("SERVER_MAX_REQUEST_BODY_SIZE", &envCfg.Server.MaxRequestBodySize)
	if v := envs["SERVER_STREAM_REQUEST_BODY"]; v != "" {
		b := parseBool(v)
		envCfg.Server.StreamRequestBody = &b
	}
	parseFloat("RATE_RPS", &envCfg.Server.RateLimit.RPS)
	parseInt("RATE_BURST", &envCfg.Server.RateLimit.Burst)
	envCfg.Server.IPWhitelist = parseList(envs["IP_WHITELIST"])

	envCfg.Bridge.Origin = strings.TrimSpace(envs["ORIGIN"])
	envCfg.Bridge.ProtocolHeader = strings.TrimSpace(envs["PROTOCOL_HEADER"])
	envCfg.Bridge.HostHeader = strings.TrimSpace(envs["HOST_HEADER"])
	envCfg.Bridge.AddressHeader = strings.TrimSpace(envs["ADDRESS_HEADER"])
	parseInt("XFF_DEPTH", &envCfg.Bridge.XFFDepth)

	envCfg.App.BuildDir = strings.TrimSpace(envs["BUILD_DIR"])
	envCfg.App.Upstream = strings.TrimSpace(envs["UPSTREAM"])

	envCfg.Logging.Level = strings.TrimSpace(envs["LOG_LEVEL"])

	if v := envs["TELEMETRY_ENABLED"]; v != "" {
		envCfg.Telemetry.Enabled = parseBool(v)
	}
	envCfg.Telemetry.Dir = strings.TrimSpace(envs["TELEMETRY_DIR"])
	parseFloat("TELEMETRY_SAMPLE_RATE", &envCfg.Telemetry.SampleRate)
	parseDur("TELEMETRY_SLOW_THRESHOLD", &envCfg.Telemetry.SlowThreshold)
	parseBytes("TELEMETRY_BUFFER_SIZE", &envCfg.Telemetry.BufferSize)
	parseInt("TELEMETRY_QUEUE_CAPACITY", &envCfg.Telemetry.QueueCapacity)
	parseDur("TELEMETRY_FLUSH_INTERVAL", &envCfg.Telemetry.FlushInterval)
	parseBytes("TELEMETRY_MAX_FILE_SIZE", &envCfg.Telemetry.MaxFileSize)

	if v := envs["RETENTION_ENABLED"]; v != "" {
		envCfg.Retention.Enabled = parseBool(v)
	}
	envCfg.Retention.Cron = strings.TrimSpace(envs["RETENTION_CRON"])
	parseDur("RETENTION_MAX_AGE", &envCfg.Retention.MaxAge)

	return envCfg, res
}

// LoadEffectiveConfig decides which source wins. An explicit --config uses
// only that file. Otherwise the config file, when present, is the base and
// the environment is used when it is not; explicitly set flags are laid on
// top of either.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.Source = "config"
		return res, nil
	}

	base, source := envCfg, "env"
	if fileExists {
		base, source = fileCfg, "config"
	} else if len(envRes.Errors) > 0 {
		return res, errors.Join(envRes.Errors...)
	}
	if base == nil {
		base = &Config{}
	}

	if flags.Set["addr"] {
		h, _, err := net.SplitHostPort(flags.Addr)
		if err != nil {
			return res, fmt.Errorf("invalid --addr %q: %w", flags.Addr, err)
		}
		base.Server.Address = h
		base.Server.Port = parsePortFromAddr(flags.Addr)
		source = "flags"
	}
	if flags.Set["build-dir"] {
		base.App.BuildDir = flags.BuildDir
		source = "flags"
	}
	if flags.Set["upstream"] {
		base.App.Upstream = flags.Upstream
		source = "flags"
	}

	res.Config = base
	res.Addr = base.Addr()
	res.Source = source
	return res, nil
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// extracts port integer from host:port string
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}
