// Package config handles loading and managing jobtalk configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the jobtalk configuration.
type Config struct {
	Data    DataConfig    `toml:"data"`
	Device  DeviceConfig  `toml:"device"`
	Outbox  OutboxConfig  `toml:"outbox"`
	Sweeper SweeperConfig `toml:"sweeper"`
	Server  ServerConfig  `toml:"server"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// DeviceConfig identifies this device; the id is embedded in every
// locally generated message id.
type DeviceConfig struct {
	ID string `toml:"id"`
}

// OutboxConfig bounds the delivery retry policy.
type OutboxConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

// BaseDelay returns the backoff base as a duration.
func (o OutboxConfig) BaseDelay() time.Duration {
	return time.Duration(o.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration.
func (o OutboxConfig) MaxDelay() time.Duration {
	return time.Duration(o.MaxDelayMS) * time.Millisecond
}

// SweeperConfig controls the periodic pending-message sweep.
type SweeperConfig struct {
	Schedule string `toml:"schedule"` // cron expression
	Enabled  bool   `toml:"enabled"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort      int     `toml:"api_port"`
	BindAddr     string  `toml:"bind_addr"`
	APIKey       string  `toml:"api_key"`
	RateLimitRPS float64 `toml:"rate_limit_rps"`
}

// DefaultHome returns the default jobtalk home directory.
// Respects the JOBTALK_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("JOBTALK_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jobtalk"
	}
	return filepath.Join(home, ".jobtalk")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.jobtalk/config.toml).
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Outbox: OutboxConfig{
			MaxAttempts: 5,
			BaseDelayMS: 500,
			MaxDelayMS:  30000,
		},
		Sweeper: SweeperConfig{
			Schedule: "*/5 * * * *",
			Enabled:  true,
		},
		Server: ServerConfig{
			APIPort:      8080,
			BindAddr:     "127.0.0.1",
			RateLimitRPS: 10,
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	return cfg, nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "jobtalk.db")
}

// EnsureDataDir creates the data directory if missing.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Data.DataDir, 0755)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
