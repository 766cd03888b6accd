package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds settings of the fasthttp host.
type ServerConfig struct {
	Address            string    `yaml:"address"`
	Port               int       `yaml:"port"`
	ReadTimeout        Duration  `yaml:"read_timeout"`
	WriteTimeout       Duration  `yaml:"write_timeout"`
	IdleTimeout        Duration  `yaml:"idle_timeout"`
	ShutdownTimeout    Duration  `yaml:"shutdown_timeout"`
	MaxRequestBodySize SizeBytes `yaml:"max_request_body_size"`
	// StreamRequestBody hands request bodies to the app as they arrive
	// instead of buffering them first. Nil means enabled.
	StreamRequestBody *bool `yaml:"stream_request_body"`
	RateLimit         struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	// Headers are added to every host response that does not already carry
	// the name, e.g. security headers.
	Headers map[string]HeaderValues `yaml:"headers"`
}

// HeaderValues is a single string or a list of strings.
type HeaderValues []string

func (v *HeaderValues) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = HeaderValues{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = list
		return nil
	}
	return fmt.Errorf("line %d: header values must be a string or a list of strings", node.Line)
}

// ResponseHeaders returns Headers as a plain name -> values map.
func (s ServerConfig) ResponseHeaders() map[string][]string {
	out := make(map[string][]string, len(s.Headers))
	for k, v := range s.Headers {
		out[k] = []string(v)
	}
	return out
}

// BridgeConfig controls how incoming requests are presented to the app.
type BridgeConfig struct {
	Origin         string `yaml:"origin"`
	ProtocolHeader string `yaml:"protocol_header"`
	HostHeader     string `yaml:"host_header"`
	AddressHeader  string `yaml:"address_header"`
	XFFDepth       int    `yaml:"xff_depth"`
}

// AppConfig selects the downstream app: the built-in site serving BuildDir,
// or a separate process reachable at Upstream.
type AppConfig struct {
	BuildDir string `yaml:"build_dir"`
	Upstream string `yaml:"upstream"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig controls sampling and slow-request thresholds.
// RetentionConfig controls pruning of crash dumps.
type RetentionConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	MaxAge  Duration `yaml:"max_age"`
}

type TelemetryConfig struct {
	Enabled       bool      `yaml:"enabled"`
	Dir           string    `yaml:"dir"`
	SampleRate    float64   `yaml:"sample_rate"`
	SlowThreshold Duration  `yaml:"slow_threshold"`
	BufferSize    SizeBytes `yaml:"buffer_size"`
	QueueCapacity int       `yaml:"queue_capacity"`
	FlushInterval Duration  `yaml:"flush_interval"`
	MaxFileSize   SizeBytes `yaml:"max_file_size"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
