package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
	Backend      BackendConfig      `yaml:"backend"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	Backup       BackupConfig       `yaml:"backup"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"` // sqlite, redis or memory
	Path     string `yaml:"path"`
	Failover bool   `yaml:"failover"` // serve from memory while the primary is down
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

type ConnectivityConfig struct {
	ProbeURL string        `yaml:"probe_url"`
	Interval string        `yaml:"interval"`
	Debounce string        `yaml:"debounce"`
	Backoff  BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	InitialDelay string  `yaml:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay"`
	Factor       float64 `yaml:"factor"`
}

type SyncConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	Interval   string `yaml:"interval"` // empty or 0 means event-driven only
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	HeaderAPIKey string `yaml:"header_api_key"`
	APIKey       string `yaml:"api_key"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Substitute environment variables before parsing
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "driftsync"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/driftsync.db"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 5
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 10
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store path is required for the sqlite driver")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Backend.BaseURL == "" {
		return errors.New("backend base_url is required")
	}

	if c.Sync.MaxRetries < 1 {
		return errors.New("sync max_retries must be at least 1")
	}

	if c.API.Enabled {
		if c.API.Port <= 0 {
			return errors.New("api port must be positive")
		}
		if c.API.Auth.Enabled && c.API.Auth.APIKey == "" {
			return errors.New("api auth is enabled but no api key is configured")
		}
	}

	durations := map[string]string{
		"backend.timeout":                    c.Backend.Timeout,
		"connectivity.interval":              c.Connectivity.Interval,
		"connectivity.debounce":              c.Connectivity.Debounce,
		"connectivity.backoff.initial_delay": c.Connectivity.Backoff.InitialDelay,
		"connectivity.backoff.max_delay":     c.Connectivity.Backoff.MaxDelay,
		"sync.interval":                      c.Sync.Interval,
		"backup.schedule":                    c.Backup.Schedule,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field, err)
		}
	}

	return nil
}

// Duration parses a config duration string, returning def when the string is
// empty or malformed. Validate reports malformed values at startup; consumers
// use this to own their defaults.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
