package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	defaultAddress            = "0.0.0.0"
	defaultPort               = 8080
	defaultReadTimeout        = 30 * time.Second
	defaultWriteTimeout       = 0 // streamed responses may take arbitrarily long
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMaxRequestBodySize = 512 * 1024 * 1024 // 512 MiB
	defaultRateRPS            = 1000
	defaultRateBurst          = 1000
	defaultLogLevel           = "info"
	// telemetry defaults
	defaultTelemetryDir           = "./.telemetry"
	defaultTelemetrySampleRate    = 0.001
	defaultTelemetrySlowMs        = 200
	defaultTelemetryBufferSize    = 8 * 1024 * 1024 // 8MB
	defaultTelemetryFileMaxSize   = 40 * 1024 * 1024
	defaultTelemetryFlushMs       = 2000
	defaultTelemetryQueueCapacity = 2048
	defaultRetentionCron          = "0 * * * *"
	defaultRetentionMaxAge        = 7 * 24 * time.Hour
)

// CrashDir is where fatal startup errors are dumped.
func (c *Config) CrashDir() string {
	if c.Telemetry.Dir == "" {
		return ""
	}
	return filepath.Join(c.Telemetry.Dir, "crash")
}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// StreamRequestBody reports whether request bodies are streamed to the app.
func (c *Config) StreamRequestBody() bool {
	return c.Server.StreamRequestBody == nil || *c.Server.StreamRequestBody
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills in every unset value.
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.ReadTimeout.Duration() == 0 {
		c.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.Server.WriteTimeout.Duration() == 0 {
		c.Server.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if c.Server.IdleTimeout.Duration() == 0 {
		c.Server.IdleTimeout = Duration(defaultIdleTimeout)
	}
	if c.Server.ShutdownTimeout.Duration() == 0 {
		c.Server.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}
	if c.Server.MaxRequestBodySize.Int64() == 0 {
		c.Server.MaxRequestBodySize = SizeBytes(defaultMaxRequestBodySize)
	}

	// rate limiting
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = defaultRateRPS
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = defaultRateBurst
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	// Telemetry defaults
	if c.Telemetry.Dir == "" {
		c.Telemetry.Dir = defaultTelemetryDir
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = defaultTelemetrySampleRate
	}
	if c.Telemetry.SlowThreshold.Duration() == 0 {
		c.Telemetry.SlowThreshold = Duration(time.Duration(defaultTelemetrySlowMs) * time.Millisecond)
	}
	if c.Telemetry.BufferSize.Int64() == 0 {
		c.Telemetry.BufferSize = SizeBytes(defaultTelemetryBufferSize)
	}
	if c.Telemetry.MaxFileSize.Int64() == 0 {
		c.Telemetry.MaxFileSize = SizeBytes(defaultTelemetryFileMaxSize)
	}
	if c.Telemetry.FlushInterval.Duration() == 0 {
		c.Telemetry.FlushInterval = Duration(time.Duration(defaultTelemetryFlushMs) * time.Millisecond)
	}
	if c.Telemetry.QueueCapacity <= 0 {
		c.Telemetry.QueueCapacity = defaultTelemetryQueueCapacity
	}

	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if c.Retention.MaxAge.Duration() == 0 {
		c.Retention.MaxAge = Duration(defaultRetentionMaxAge)
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("KITBRIDGE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
