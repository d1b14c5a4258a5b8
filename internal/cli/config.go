package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kavaro/sync-worker/logging"
)

// Config is the YAML configuration for the syncworker binary.
type Config struct {
	// Listen is the HTTP listen address for the serve command.
	Listen string `yaml:"listen"`

	// Database configures the authoritative replica.
	Database DatabaseConfig `yaml:"database"`

	// Logging configures structured logging.
	Logging logging.Config `yaml:"logging"`

	// Metrics configures the Prometheus scrape endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `yaml:"driver"`

	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn"`

	// Channel is the NOTIFY channel for the postgres driver. Optional.
	Channel string `yaml:"channel"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen:   ":8080",
		Database: DatabaseConfig{Driver: "memory"},
		Logging:  logging.DefaultConfig,
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// LoadConfig reads a YAML config file, applying defaults for anything the
// file leaves unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	return nil
}
