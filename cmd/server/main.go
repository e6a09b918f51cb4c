/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll configuration server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the store (SQLite or PostgreSQL)
  3. Build the kind registry, lifecycle controller and payslip service
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     .env file to load (default: .env, missing is fine)
  -port    HTTP server port, overrides APP_PORT
  -db      SQLite database path, overrides SQLITE_PATH
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go for the full list. The essentials:
    DB_DRIVER=sqlite|postgres   DATABASE_URL=postgres://...
    JWT_SECRET=...              (required when APP_ENV=production)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payslip"
	"github.com/warp/payroll-engine/store/postgres"
	"github.com/warp/payroll-engine/store/sqlite"
)

// backend is what both SQL stores provide.
type backend interface {
	generic.EntityStore
	generic.AuditLog
	generic.TxStore
	payslip.Store
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load")
	port := flag.Int("port", 0, "HTTP server port (overrides APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := api.NewRequestLogger(cfg.LogLevel())
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()
	codec := factory.NewCodec()

	store, closeStore, err := openStore(ctx, cfg, codec)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore()

	directory := payslip.NewMemoryDirectory()
	registry := payroll.NewRegistry(cfg.Rules(), directory)
	m := metrics.New()

	ctrl := generic.NewController(registry, store, store,
		generic.WithObserver(m),
		generic.WithReferenceResolver(directory),
		generic.WithMinReasonLength(cfg.Payroll.RejectionReasonMin),
		generic.WithLogger(logger),
	)

	payslips := payslip.NewService(store, store, directory,
		payslip.WithAudit(store),
		payslip.WithPublisher(payslip.LogPublisher{Logger: logger}),
		payslip.WithObserver(m),
		payslip.WithLogger(logger),
	)
	payslips.BaseURL = cfg.App.PublicBaseURL
	payslips.BatchConcurrency = cfg.Payroll.BatchConcurrency
	payslips.MinReasonLength = cfg.Payroll.RejectionReasonMin

	handler := api.NewHandler(ctrl, codec, payslips, directory, store, logger)

	opts := api.RouterOptions{
		CORSOrigins: cfg.App.CORSOrigins,
		Logger:      logger,
		Metrics:     m,
		Health:      store.Ping,
	}
	if cfg.JWT.Secret != "" {
		opts.TokenAuth = api.NewTokenAuth(cfg.JWT.Secret)
	} else {
		logger.Warn("JWT_SECRET is empty: trusting X-Actor-ID and X-Actor-Role headers")
	}
	router := api.NewRouter(handler, opts)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.App.Port, "env", cfg.App.Env, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, codec generic.PayloadCodec) (backend, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		s, err := postgres.New(ctx, cfg.Database.URL, codec)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlite.New(cfg.Database.SQLitePath, codec)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
