// Package config loads application settings from an optional .env file, an
// optional TOML file and environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration wraps [time.Duration] so it can be written as "5m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type DatabaseConfig struct {
	URL             string   `toml:"url"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
}

// OrthancConfig is the fallback server used when no connection profile is selected (CLI).
type OrthancConfig struct {
	URL        string   `toml:"url"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"`
	Timeout    Duration `toml:"timeout"`
	RetryCount int      `toml:"retry_count"`
}

type CatalogConfig struct {
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	CacheTTL          Duration `toml:"cache_ttl"`
	CacheCapacity     int      `toml:"cache_capacity"`
}

type TrackerConfig struct {
	ReconcileConcurrency int `toml:"reconcile_concurrency"`
	FetchAttempts        int `toml:"fetch_attempts"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Orthanc  OrthancConfig  `toml:"orthanc"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Log      LogConfig      `toml:"log"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{5 * time.Minute},
		},
		Orthanc: OrthancConfig{
			URL:        "http://localhost:8042",
			Timeout:    Duration{2 * time.Minute},
			RetryCount: 3,
		},
		Catalog: CatalogConfig{
			RequestsPerSecond: 5,
			Burst:             2,
			CacheTTL:          Duration{10 * time.Minute},
			CacheCapacity:     512,
		},
		Tracker: TrackerConfig{
			ReconcileConcurrency: 4,
			FetchAttempts:        3,
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath returns $CONFIG_PATH or <user config dir>/tciasync/config.toml.
func DefaultPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tciasync", "config.toml")
}

// Load builds the configuration. A missing .env or TOML file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Database.URL = getEnvString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime.Duration = getEnvDuration("DB_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime.Duration)

	cfg.Orthanc.URL = getEnvString("ORTHANC_URL", cfg.Orthanc.URL)
	cfg.Orthanc.Username = getEnvString("ORTHANC_USERNAME", cfg.Orthanc.Username)
	cfg.Orthanc.Password = getEnvString("ORTHANC_PASSWORD", cfg.Orthanc.Password)

	cfg.Catalog.RequestsPerSecond = getEnvFloat("CATALOG_RATE_LIMIT", cfg.Catalog.RequestsPerSecond)

	cfg.Log.Level = getEnvString("LOG_LEVEL", cfg.Log.Level)
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration from environment variable with default fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}
