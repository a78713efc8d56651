package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for tably-auth. Values are loaded
// from YAML and can be overridden by TABLY_* environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionConfig  `yaml:"sessions"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains the PostgreSQL connection settings. When DSN
// is empty the service runs on the in-memory store (single process only).
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionConfig contains session lifetime policy values.
type SessionConfig struct {
	AdminTTL time.Duration `yaml:"admin_ttl"`
	StaffTTL time.Duration `yaml:"staff_ttl"`
}

// ThrottleConfig contains the per-IP HTTP token bucket settings. This
// is distinct from the credential lockout limiter.
type ThrottleConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
}

// CleanupConfig controls the background purge of expired rate-limit
// and session rows.
type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Sessions: SessionConfig{
			AdminTTL: 24 * time.Hour,
			StaffTTL: 8 * time.Hour,
		},
		Throttle: ThrottleConfig{
			Burst:     20,
			PerSecond: 10,
		},
		Cleanup: CleanupConfig{
			Interval: 10 * time.Minute,
		},
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server addr is required")
	}
	if c.Sessions.AdminTTL <= 0 || c.Sessions.StaffTTL <= 0 {
		return fmt.Errorf("config: session TTLs must be positive")
	}
	if c.Sessions.StaffTTL > c.Sessions.AdminTTL {
		return fmt.Errorf("config: staff session TTL must not exceed admin session TTL")
	}
	if c.Throttle.Burst <= 0 || c.Throttle.PerSecond <= 0 {
		return fmt.Errorf("config: throttle burst and per_second must be positive")
	}
	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("config: cleanup interval must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "TABLY_ADDR")
	setString(&cfg.Database.DSN, "TABLY_PG_DSN")
	setInt(&cfg.Database.MaxOpenConns, "TABLY_PG_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "TABLY_PG_MAX_IDLE_CONNS")
	setDuration(&cfg.Sessions.AdminTTL, "TABLY_ADMIN_SESSION_TTL")
	setDuration(&cfg.Sessions.StaffTTL, "TABLY_STAFF_SESSION_TTL")
	setInt(&cfg.Throttle.Burst, "TABLY_THROTTLE_BURST")
	setInt(&cfg.Throttle.PerSecond, "TABLY_THROTTLE_PER_SECOND")
	setDuration(&cfg.Cleanup.Interval, "TABLY_CLEANUP_INTERVAL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
