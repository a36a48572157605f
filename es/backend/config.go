// Package backend opens a store from a YAML configuration file.
package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/store"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverKV       = "kv"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid backend configuration")

// Config selects and configures a backend.
//
//	driver: sqlite
//	path: ./data/messages.db
//	page_size: 500
//	log_level: info
type Config struct {
	Driver string `yaml:"driver"`

	// Path is the SQLite file or the KV directory.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL or MySQL connection string. Environment variables
	// are expanded when the file is loaded.
	DSN string `yaml:"dsn"`

	PageSize int    `yaml:"page_size"`
	LogLevel string `yaml:"log_level"`

	// MessagesTable overrides the table name of the relational drivers.
	MessagesTable string `yaml:"messages_table"`

	// NoSync disables WAL syncing on the KV driver.
	NoSync bool `yaml:"no_sync"`

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver:   DriverSQLite,
		Path:     "messages.db",
		PageSize: store.DefaultPageSize,
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	config.DSN = os.ExpandEnv(config.DSN)
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks that the driver is known and has what it needs.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverKV:
		if c.Path == "" {
			return fmt.Errorf("%w: driver %s requires path", ErrInvalidConfig, c.Driver)
		}
	case DriverPostgres, DriverMySQL:
		if c.DSN == "" {
			return fmt.Errorf("%w: driver %s requires dsn", ErrInvalidConfig, c.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.PageSize < 0 || c.PageSize > store.MaxReadLimit {
		return fmt.Errorf("%w: page_size must be within [0, %d]", ErrInvalidConfig, store.MaxReadLimit)
	}
	if _, err := c.level(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Logger returns a text slog logger at the configured level.
func (c *Config) Logger() es.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	out := c.LogOutput
	if out == nil {
		out = os.Stderr
	}
	return es.NewSlogLogger(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}
