package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/MereWhiplash/vectorbank/internal/api"
	"github.com/MereWhiplash/vectorbank/internal/config"
	"github.com/MereWhiplash/vectorbank/internal/service"
)

var (
	serveAddr          string
	serveRateLimit     int
	serveCORSOrigins   []string
	serveRebuildOnOpen bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "server address (default from config, :8080)")
	serveCmd.Flags().IntVar(&serveRateLimit, "rate-limit", 0, "requests per minute per IP (0 disables)")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origins", nil, "allowed CORS origins (empty disables)")
	serveCmd.Flags().BoolVar(&serveRebuildOnOpen, "rebuild-on-open", false, "rebuild indexes persisted as ready or stale at start")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = serveAddr
	}
	if flags.Changed("rate-limit") {
		cfg.Server.RateLimit = serveRateLimit
	}
	if flags.Changed("cors-origins") {
		cfg.Server.CORSOrigins = serveCORSOrigins
	}
	if flags.Changed("rebuild-on-open") {
		cfg.Index.RebuildOnOpen = serveRebuildOnOpen
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background(), logger)
	defer cancel()

	svc, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(svc, cfg.Server, logger),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", cfg.Server.Addr, "collections", svc.Collections())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// newRouter assembles the middleware chain and API routes
func newRouter(svc *service.Service, cfg config.ServerConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	if cfg.Timeout.Duration > 0 {
		r.Use(middleware.Timeout(cfg.Timeout.Duration))
	}
	r.Use(api.RequestID)
	r.Use(api.MaxBodySize)

	if cfg.RateLimit > 0 {
		limiter := api.NewRateLimiter(cfg.RateLimit, time.Minute)
		r.Use(limiter.Middleware)
	}

	if len(cfg.CORSOrigins) > 0 {
		r.Use(api.CORSMiddleware(cfg.CORSOrigins))
	}

	api.NewHandlers(svc, logger).Routes(r)
	return r
}
