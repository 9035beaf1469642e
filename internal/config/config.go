package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the keyguard server.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Admin    AdminConfig
	Keys     KeysConfig
	Breaker  BreakerConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel slog.Level
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

type SQLiteConfig struct {
	Path string
}

// RedisConfig is optional; an empty URL disables usage tracking.
type RedisConfig struct {
	URL string
}

// AdminConfig is consumed verbatim by the admin gate.
type AdminConfig struct {
	AllowedIPs                  string
	AllowLoopbackIfUnconfigured bool
}

type KeysConfig struct {
	Pepper          []byte
	MaxValidityDays int
}

type BreakerConfig struct {
	ConsecutiveFailures int
	OpenTimeout         time.Duration
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	minPepperLen = 16
	maxPepperLen = 64
)

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	env := envString("KEYGUARD_ENV", "development")
	allowLoopback, err := envBool("ADMIN_ALLOW_LOOPBACK_WHEN_UNCONFIGURED", env != "production")
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("API_PORT", 8003),
			Env:      env,
			LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(envString("STORE_DRIVER", DriverPostgres)),
		},
		Database: LoadDatabase(),
		SQLite: SQLiteConfig{
			Path: envString("SQLITE_PATH", "keyguard.db"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Admin: AdminConfig{
			AllowedIPs:                  os.Getenv("ADMIN_ALLOWED_IPS"),
			AllowLoopbackIfUnconfigured: allowLoopback,
		},
		Keys: KeysConfig{
			Pepper:          []byte(os.Getenv("API_KEY_PEPPER")),
			MaxValidityDays: envInt("API_KEY_MAX_VALIDITY_DAYS", 3650),
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: envInt("STORE_BREAKER_FAILURES", 5),
			OpenTimeout:         envDuration("STORE_BREAKER_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
			return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
		}
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite; got %q", c.Store.Driver)
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("DATABASE_QUERY_TIMEOUT must be positive")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://")
	}

	if len(c.Keys.Pepper) == 0 {
		return fmt.Errorf("API_KEY_PEPPER is required")
	}
	if len(c.Keys.Pepper) < minPepperLen || len(c.Keys.Pepper) > maxPepperLen {
		return fmt.Errorf("API_KEY_PEPPER must be between %d and %d bytes, got %d",
			minPepperLen, maxPepperLen, len(c.Keys.Pepper))
	}
	if c.Keys.MaxValidityDays <= 0 {
		return fmt.Errorf("API_KEY_MAX_VALIDITY_DAYS must be positive")
	}

	if c.Breaker.ConsecutiveFailures <= 0 {
		return fmt.Errorf("STORE_BREAKER_FAILURES must be positive")
	}

	return nil
}

// LoadDatabase reads only the Postgres settings. Tools that need a database
// connection and nothing else use it instead of Load.
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{
		URL:             databaseURL(),
		MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		QueryTimeout:    envDuration("DATABASE_QUERY_TIMEOUT", 5*time.Second),
	}
}

// databaseURL prefers DATABASE_URL and falls back to the DB_* component variables.
func databaseURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(envString("DB_USER", "postgres"), envString("DB_PASS", "postgres")),
		Host:   net.JoinHostPort(envString("DB_HOST", "localhost"), envString("DB_PORT", "5432")),
		Path:   "/" + envString("DB_NAME", "db"),
	}
	return u.String()
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// envBool returns an error for unparsable values instead of the default.
func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
