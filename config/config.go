/*
Package config loads service settings.

PRECEDENCE (later wins):
  1. Defaults
  2. YAML file (path given to Load, or STOCKFLUX_CONFIG)
  3. .env file in the working directory, if any
  4. STOCKFLUX_* environment variables
  5. Command-line flags (applied by cmd/server)

EXAMPLE FILE:
  server:
    port: 8080
    allowed_origins: ["http://localhost:5173"]
  storage:
    driver: sqlite        # memory | sqlite | postgres
    dsn: ./stockflux.db
  export:
    prefix: stock-flux-
    auto_dir: ./exports   # empty disables automatic export
    interval: 6h          # periodic export, 0 disables
  log:
    mode: production      # debug | production
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/stockflux/ledger"
)

const envPrefix = "STOCKFLUX_"

// DefaultSQLitePath is used when the sqlite driver is chosen without a dsn.
const DefaultSQLitePath = "stockflux.db"

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	// Timezone names the local calendar used for "today" and export names.
	Timezone string `yaml:"timezone"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Key    string `yaml:"key"`
}

type ExportConfig struct {
	Prefix  string `yaml:"prefix"`
	AutoDir string `yaml:"auto_dir"`
	// Interval adds a periodic export on top of per-commit exports; zero
	// disables it.
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Key:    ledger.DefaultStorageKey,
		},
		Export:  ExportConfig{Prefix: ledger.DefaultExportPrefix},
		Log:     LogConfig{Mode: "production", Level: "info"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = DefaultSQLitePath
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	var err error
	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setString(&cfg.Storage.DSN, "STORAGE_DSN")
	setString(&cfg.Storage.Key, "STORAGE_KEY")
	setString(&cfg.Export.Prefix, "EXPORT_PREFIX")
	setString(&cfg.Export.AutoDir, "EXPORT_DIR")
	setString(&cfg.Log.Mode, "LOG_MODE")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Timezone, "TIMEZONE")

	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitCSV(v)
	}
	if v, ok := lookup("PORT"); ok {
		if cfg.Server.Port, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid %sPORT: %w", envPrefix, err)
		}
	}
	if v, ok := lookup("EXPORT_INTERVAL"); ok {
		if cfg.Export.Interval, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %sEXPORT_INTERVAL: %w", envPrefix, err)
		}
	}
	if v, ok := lookup("METRICS_ENABLED"); ok {
		if cfg.Metrics.Enabled, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("invalid %sMETRICS_ENABLED: %w", envPrefix, err)
		}
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != DriverMemory && c.Storage.DSN == "" {
		return fmt.Errorf("storage driver %s needs a dsn", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Export.Interval < 0 {
		return fmt.Errorf("invalid export interval %s", c.Export.Interval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone; empty means the host's local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
