// Package config holds application configuration: built-in defaults,
// optionally overlaid with a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use the human-readable
// "10s" / "500ms" form.
type Duration time.Duration

// UnmarshalYAML decodes a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds application configuration.
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	Side         string `yaml:"side" default:"left"`
	SessionTicks int    `yaml:"session_ticks" default:"20"`

	ScanTimeout    Duration `yaml:"scan_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	TickInterval   Duration `yaml:"tick_interval"`
	SimInterval    Duration `yaml:"sim_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{
		ScanTimeout:    Duration(10 * time.Second),
		ConnectTimeout: Duration(30 * time.Second),
		TickInterval:   Duration(time.Second),
		SimInterval:    Duration(500 * time.Millisecond),
	}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.SessionTicks <= 0 {
		return fmt.Errorf("session_ticks must be positive, got %d", c.SessionTicks)
	}
	return nil
}

// NewLogger creates a logger configured from this Config.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
