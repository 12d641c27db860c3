// Package config loads vectorbank settings from a TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/MereWhiplash/vectorbank/internal/logging"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/storage"
)

// DefaultCollections are served when the config names none
var DefaultCollections = []string{"documents", "code_examples"}

// Config is the full vectorbank configuration
type Config struct {
	Collections []string      `toml:"collections"`
	Index       IndexConfig   `toml:"index"`
	Storage     StorageConfig `toml:"storage"`
	Server      ServerConfig  `toml:"server"`
	Log         LogConfig     `toml:"log"`
}

// IndexConfig describes the dimension buckets
type IndexConfig struct {
	Dimensions        []int `toml:"dimensions"`
	MaxIndexDimension int   `toml:"max_index_dimension"`
	Lists             int   `toml:"lists"`
	Probes            int   `toml:"probes"`
	// RebuildOnOpen rebuilds buckets persisted as ready or stale at start.
	RebuildOnOpen bool `toml:"rebuild_on_open"`
}

// StorageConfig selects the durable backend
type StorageConfig struct {
	Driver          string `toml:"driver"`
	SQLitePath      string `toml:"sqlite_path"`
	PostgresDSN     string `toml:"postgres_dsn"`
	MongoDBURI      string `toml:"mongodb_uri"`
	MongoDBDatabase string `toml:"mongodb_database"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr         string   `toml:"addr"`
	RateLimit    int      `toml:"rate_limit"` // requests per minute per IP, 0 disables
	Timeout      Duration `toml:"timeout"`
	CORSOrigins  []string `toml:"cors_origins"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string like "30s"
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Collections: append([]string(nil), DefaultCollections...),
		Index: IndexConfig{
			Dimensions:        append([]int(nil), registry.DefaultDimensions...),
			MaxIndexDimension: registry.DefaultMaxIndexDimension,
			Lists:             registry.DefaultLists,
			Probes:            registry.DefaultProbes,
		},
		Storage: StorageConfig{
			Driver:          "memory",
			MongoDBDatabase: "vectorbank",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			RateLimit:    600,
			Timeout:      Duration{30 * time.Second},
			ReadTimeout:  Duration{10 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes TOML into cfg. Keys absent from data keep cfg's values;
// unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("failed to parse config at line %d column %d: %w", row, col, err)
		}
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Marshal renders cfg as TOML
func Marshal(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// Validate reports the first problem with cfg
func (c Config) Validate() error {
	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, name := range c.Collections {
		if name == "" {
			return fmt.Errorf("collection names must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate collection %q", name)
		}
		seen[name] = true
	}

	if _, err := registry.New(c.RegistryConfig()); err != nil {
		return fmt.Errorf("invalid index config: %w", err)
	}

	switch c.Storage.Driver {
	case "", "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	case "mongodb":
		if c.Storage.MongoDBURI == "" {
			return fmt.Errorf("storage.mongodb_uri is required for the mongodb driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch logging.Format(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("unknown log format: %s", c.Log.Format)
	}

	return nil
}

// RegistryConfig converts the index section for registry.New
func (c Config) RegistryConfig() registry.Config {
	return registry.Config{
		Dimensions:        c.Index.Dimensions,
		MaxIndexDimension: c.Index.MaxIndexDimension,
		Lists:             c.Index.Lists,
		Probes:            c.Index.Probes,
	}
}

// StorageConfig converts the storage section for storage.New
func (c Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:          c.Storage.Driver,
		SQLitePath:      c.Storage.SQLitePath,
		PostgresDSN:     c.Storage.PostgresDSN,
		MongoDBURI:      c.Storage.MongoDBURI,
		MongoDBDatabase: c.Storage.MongoDBDatabase,
	}
}

// Logger builds the logger described by the log section
func (c Config) Logger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, logging.Format(c.Log.Format), level)
}
