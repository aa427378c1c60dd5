// Package config handles YAML config file loading for the tether CLI.
package config

import (
	"fmt"
	"time"
)

// Config represents a tether.yaml configuration file.
// All values are optional and act as defaults for CLI flags.
// Flags always override config values.
type Config struct {
	Host      HostConfig      `yaml:"host"`
	Client    ClientConfig    `yaml:"client"`
	Health    HealthConfig    `yaml:"health"`
	Retry     RetryConfig     `yaml:"retry"`
	History   HistoryConfig   `yaml:"history"`
	Adapter   AdapterConfig   `yaml:"adapter"`
	Supervise SuperviseConfig `yaml:"supervise"`
}

// HostConfig holds host-side listener and executor defaults.
type HostConfig struct {
	Addr          string   `yaml:"addr"`
	QueueCapacity int      `yaml:"queue_capacity"`
	MaxFrameBytes int      `yaml:"max_frame_bytes"`
	TickInterval  Duration `yaml:"tick_interval"`
	MaxPerTick    int      `yaml:"max_per_tick"`
	SceneName     string   `yaml:"scene_name"`
}

// ClientConfig holds controller-side connection defaults.
type ClientConfig struct {
	Addr           string   `yaml:"addr"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	RequestTimeout Duration `yaml:"request_timeout"`
	MaxFrameBytes  int      `yaml:"max_frame_bytes"`
}

// HealthConfig holds health monitor defaults.
type HealthConfig struct {
	ProbeInterval         Duration `yaml:"probe_interval"`
	WarnRTT               Duration `yaml:"warn_rtt"`
	UnresponsiveThreshold int      `yaml:"unresponsive_threshold"`
}

// RetryConfig holds reconnection retry defaults.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`
}

// HistoryConfig holds execution history defaults.
type HistoryConfig struct {
	Capacity int      `yaml:"capacity"`
	Archive  S3Config `yaml:"archive"`
}

// S3Config holds the optional S3 archive target. An empty bucket
// disables archival.
type S3Config struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// SuperviseConfig holds the host launch command used by `tether launch`
// when no binary is given on the command line. An empty command disables
// config-driven launching.
type SuperviseConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// AdapterConfig holds bridge-event adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects values no component could accept. Zero values pass;
// they mean "use the built-in default".
func (c *Config) Validate() error {
	if c.Host.QueueCapacity < 0 {
		return fmt.Errorf("host.queue_capacity must be >= 0, got %d", c.Host.QueueCapacity)
	}
	if c.Host.MaxPerTick < 0 {
		return fmt.Errorf("host.max_per_tick must be >= 0, got %d", c.Host.MaxPerTick)
	}
	if c.Health.UnresponsiveThreshold < 0 {
		return fmt.Errorf("health.unresponsive_threshold must be >= 0, got %d", c.Health.UnresponsiveThreshold)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0, got %d", c.Retry.MaxAttempts)
	}
	if c.History.Capacity < 0 {
		return fmt.Errorf("history.capacity must be >= 0, got %d", c.History.Capacity)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required when adapter.type is set")
	}
	return nil
}
