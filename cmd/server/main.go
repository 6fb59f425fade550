/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the appeals case-status server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, APPEALS_* environment)
  2. Build the slog logger
  3. Open the store (sqlite, postgres or memory)
  4. Build the notification pipeline: templates, sender, cache,
     sweeper, dispatcher
  5. Build ledger and lifecycle, API handler and router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the cache sweeper
  4. Close the store

EXAMPLES:
  # SQLite file database, emulated emails written to ./emails
  ./server -db=./data/appeals.db -email-dir=./emails

  # PostgreSQL with the real provider
  APPEALS_POSTGRES_DSN=postgres://... ./server -driver=postgres \
      -notify-mode=provider -provider-url=https://mail.example/v2/email

  # Everything in memory
  ./server -driver=memory

SEE ALSO:
  - config/config.go: Flags and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/api"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal"
	memstore "github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal/store"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/config"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/store/postgres"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/store/sqlite"
)

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintln(os.Stderr, "appeals-server:", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string) error {
	cfg, err := config.Load(args, getenv)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	// Notification pipeline
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	sender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}
	cache := notify.NewCache(cfg.DedupTTL)
	sweeper := notify.NewSweeper(cache, cfg.SweepInterval, logger)
	sweeper.Start()
	defer sweeper.Stop()
	dispatcher := notify.NewDispatcher(cache, registry, sender, b.audit, logger)

	// Ledger and lifecycle events
	ledger := appeal.NewLedger(b.store,
		appeal.WithLogger(logger),
		appeal.WithBroadcaster(appeal.LogBroadcaster{Logger: logger}),
	)
	lifecycle := appeal.NewLifecycle(ledger, dispatcher, logger)

	// Initialize handler
	handler := api.NewHandler(ledger, lifecycle, b.audit, logger)
	handler.Health = b.ping

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "driver", cfg.Driver, "notify_mode", cfg.NotifyMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
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

// =============================================================================
// WIRING
// =============================================================================

// backend bundles the ledger store and the notification audit store of
// one driver.
type backend struct {
	store appeal.TxStore
	audit notify.AuditStore
	ping  func(ctx context.Context) error
	close func() error
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return backend{}, fmt.Errorf("initialize postgres: %w", err)
		}
		return backend{store: s, audit: s, ping: s.Ping, close: s.Close}, nil

	case config.DriverMemory:
		return backend{
			store: memstore.NewTxMemory(),
			audit: notify.NewMemoryAuditStore(),
			close: func() error { return nil },
		}, nil

	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return backend{}, fmt.Errorf("initialize sqlite: %w", err)
		}
		return backend{store: s, audit: s, ping: s.Ping, close: s.Close}, nil
	}
}

func loadRegistry(cfg config.Config) (*notify.Registry, error) {
	if cfg.TemplatesPath != "" {
		return notify.LoadRegistryFile(cfg.TemplatesPath)
	}
	return notify.DefaultRegistry()
}

func newSender(cfg config.Config, logger *slog.Logger) (notify.Sender, error) {
	if cfg.NotifyMode == config.NotifyProvider {
		return notify.NewHTTPSender(cfg.ProviderURL, cfg.ProviderAPIKey, 10*time.Second), nil
	}
	return notify.NewEmulatedSender(cfg.EmailDir, logger)
}
