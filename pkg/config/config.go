// Package config holds the stack's configuration: an explicit struct passed
// to the components that need it, never a global.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the connectivity stack configuration.
type Config struct {
	// LogLevel is a logrus level name (panic, error, warn, info, debug, trace).
	LogLevel string `yaml:"log_level" default:"info"`

	// ScanTimeout bounds a CLI scan run; zero scans until interrupted.
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`
	// RSSICutoff rejects advertisements at or below this signal strength.
	RSSICutoff int `yaml:"rssi_cutoff" default:"-90"`
	// RemovalTimeout removes a discovered device that stopped advertising.
	RemovalTimeout time.Duration `yaml:"removal_timeout" default:"10s"`

	// ConnectTimeout bounds a session from connect to open; zero disables.
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	// EventBuffer sizes the overwrite-oldest event rings.
	EventBuffer int `yaml:"event_buffer" default:"100"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level parses the configured log level.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger creates a logger configured from the struct. An invalid level
// falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
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
