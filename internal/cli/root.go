// Package cli implements the vectorbank command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/vectorbank/internal/config"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/service"
	"github.com/MereWhiplash/vectorbank/internal/storage"
)

// version is set by goreleaser via ldflags
var version = "dev"

var (
	configPath      string
	storageDriver   string
	sqlitePath      string
	postgresDSN     string
	mongoURI        string
	mongoDatabase   string
	logLevel        string
	logFormat       string
	collectionNames []string
)

var rootCmd = &cobra.Command{
	Use:   "vectorbank",
	Short: "Multi-dimension embedding store",
	Long: `vectorbank stores embedding vectors of several fixed dimensions side by side
and answers cosine similarity searches within the dimension of the query.`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "vectorbank.toml", "path to TOML config file")
	f.StringVar(&storageDriver, "storage-driver", "", "storage driver: memory, sqlite, postgres, mongodb")
	f.StringVar(&sqlitePath, "sqlite-path", "", "path to SQLite database (sqlite driver)")
	f.StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL connection string (postgres driver)")
	f.StringVar(&mongoURI, "mongodb-uri", "", "MongoDB connection URI (mongodb driver)")
	f.StringVar(&mongoDatabase, "mongodb-database", "", "MongoDB database name (mongodb driver)")
	f.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&logFormat, "log-format", "", "log format: text, json")
	f.StringSliceVar(&collectionNames, "collections", nil, "collections to serve")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies any flags the user set
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("storage-driver") {
		cfg.Storage.Driver = storageDriver
	}
	if flags.Changed("sqlite-path") {
		cfg.Storage.SQLitePath = sqlitePath
	}
	if flags.Changed("postgres-dsn") {
		cfg.Storage.PostgresDSN = postgresDSN
	}
	if flags.Changed("mongodb-uri") {
		cfg.Storage.MongoDBURI = mongoURI
	}
	if flags.Changed("mongodb-database") {
		cfg.Storage.MongoDBDatabase = mongoDatabase
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("collections") {
		cfg.Collections = collectionNames
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openService opens storage and loads every collection into memory
func openService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*service.Service, error) {
	reg, err := registry.New(cfg.RegistryConfig())
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.StorageConfig(), reg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc, err := service.Open(ctx, reg, store, cfg.Collections,
		service.WithLogger(logger),
		service.WithRebuildOnOpen(cfg.Index.RebuildOnOpen),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}
	return svc, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
