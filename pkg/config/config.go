// Package config loads the manager's configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the manager configuration.
type Config struct {
	// Redis is the document store and job queue backend.
	Redis RedisConfig `yaml:"redis"`

	// PublicAddrLimit damps tunnels on interfaces whose public address
	// keeps changing.
	PublicAddrLimit LimitConfig `yaml:"public_addr_limit"`

	// Log controls manager logging.
	Log LogConfig `yaml:"log"`

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// AuditLog is the path of the JSON-lines audit trail. Empty disables
	// audit logging.
	AuditLog string `yaml:"audit_log,omitempty"`
}

// RedisConfig selects the Redis instance and database.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// LimitConfig bounds public-address churn per interface.
type LimitConfig struct {
	// Threshold is the number of changes within Window that blocks the
	// interface's tunnels.
	Threshold int `yaml:"threshold"`
	// Window is the sliding window; a full quiet window releases the
	// block.
	Window time.Duration `yaml:"window"`
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level string `yaml:"level"`
	// JSON switches from text to JSON output.
	JSON bool `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		PublicAddrLimit: LimitConfig{
			Threshold: 3,
			Window:    time.Minute,
		},
		Log:         LogConfig{Level: "info"},
		MetricsAddr: ":9090",
	}
}

// LoadFrom reads a config file, layering it over the defaults. A
// missing file returns the defaults.
func LoadFrom(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate rejects configurations the manager cannot run with.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set")
	}
	if c.PublicAddrLimit.Threshold < 1 {
		return fmt.Errorf("public_addr_limit.threshold must be at least 1")
	}
	if c.PublicAddrLimit.Window <= 0 {
		return fmt.Errorf("public_addr_limit.window must be positive")
	}
	return nil
}
