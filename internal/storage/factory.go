package storage

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/vectorbank/internal/registry"
)

// Config holds storage configuration
type Config struct {
	Driver string // "memory", "sqlite", "postgres", "mongodb"

	// SQLite
	SQLitePath string

	// Postgres
	PostgresDSN string

	// MongoDB
	MongoDBURI      string
	MongoDBDatabase string
}

// New creates a Storage implementation based on config. The registry decides
// which dimension columns are provisioned.
func New(ctx context.Context, cfg Config, reg *registry.Registry) (Storage, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil

	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		return NewSQLite(cfg.SQLitePath, reg)

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
		return NewPostgres(ctx, cfg.PostgresDSN, reg)

	case "mongodb":
		if cfg.MongoDBURI == "" {
			return nil, fmt.Errorf("mongodb URI is required")
		}
		if cfg.MongoDBDatabase == "" {
			cfg.MongoDBDatabase = "vectorbank"
		}
		return NewMongoDB(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, reg)

	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
