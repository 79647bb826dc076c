package config

import (
	"fmt"
	"time"
)

// Config represents an inletd.yaml configuration file.
// All values are optional and act as defaults for inletd serve flags.
// CLI flags always override config values.
type Config struct {
	Listen      string     `yaml:"listen"`
	TLS         TLSConfig  `yaml:"tls"`
	ReadTimeout Duration   `yaml:"read_timeout"`
	MaxPending  int        `yaml:"max_pending"`
	LogLevel    string     `yaml:"log_level"`
	Sink        SinkConfig `yaml:"sink"`
}

// DefaultListen is the forward protocol's conventional port.
const DefaultListen = ":24224"

// TLSConfig holds the listener certificate pair. Both fields must be set
// together; leaving both empty serves plaintext TCP.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SinkConfig holds sink defaults from the config file.
type SinkConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url,omitempty"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Options map[string]any    `yaml:"options,omitempty"`
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

// Validate reports structurally invalid configuration.
func (c *Config) Validate() error {
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}
	if c.ReadTimeout.Duration < 0 {
		return fmt.Errorf("read_timeout must not be negative")
	}
	if c.MaxPending < 0 {
		return fmt.Errorf("max_pending must not be negative")
	}
	if c.Sink.Retries != nil && *c.Sink.Retries < 0 {
		return fmt.Errorf("sink retries must be >= 0, got %d", *c.Sink.Retries)
	}
	switch c.Sink.Type {
	case "", "stdout", "webhook", "redis":
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}
	return nil
}

// ListenAddr returns the configured listen address or the protocol default.
func (c *Config) ListenAddr() string {
	if c.Listen == "" {
		return DefaultListen
	}
	return c.Listen
}
