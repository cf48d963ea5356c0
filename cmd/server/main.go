/*
main.go - Application entry point

PURPOSE:
  Starts the bar ledger server: loads configuration, opens the store,
  builds the ledger services and serves the HTTP API until a signal
  arrives.

STARTUP SEQUENCE:
  1. Load configuration (config.env / .env, then environment)
  2. Initialize the logger
  3. Open the store selected by DB_DRIVER (sqlite or postgres)
  4. Seed missing global settings from BAR_* defaults
  5. Optionally create the first admin and load a demo scenario
  6. Configure the router and start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -scenario         Load a demo scenario into an empty store (menu, friday-night)
  -admin-user       Create this admin account if it does not exist
  -admin-password   Password for -admin-user
  -admin-email      Email for -admin-user
  -admin-birthdate  Birthdate for -admin-user, YYYY-MM-DD

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Local SQLite file with demo data
  DB_PATH=./data/bar.db ./server -scenario=friday-night

  # PostgreSQL
  DB_DRIVER=postgres DATABASE_URL=postgres://bar@localhost/bar ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/foyer/barledger/api"
	"github.com/foyer/barledger/config"
	"github.com/foyer/barledger/demo"
	"github.com/foyer/barledger/ledger"
	"github.com/foyer/barledger/logging"
	"github.com/foyer/barledger/metrics"
	"github.com/foyer/barledger/store/postgres"
	"github.com/foyer/barledger/store/sqlite"
)

// store is what main needs from either backend.
type store interface {
	ledger.Store
	Close() error
}

func main() {
	scenario := flag.String("scenario", "", "Load a demo scenario into an empty store")
	adminUser := flag.String("admin-user", "", "Create this admin account if missing")
	adminPassword := flag.String("admin-password", "", "Password for -admin-user")
	adminEmail := flag.String("admin-email", "", "Email for -admin-user")
	adminBirthdate := flag.String("admin-birthdate", "1970-01-01", "Birthdate for -admin-user (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Env: cfg.App.Env, Level: cfg.Log.Level}).
		With().Str("app", cfg.App.Name).Logger()

	loc, err := cfg.Bar.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg.DB)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("failed to open store")
	}
	defer st.Close()

	reg := metrics.NewRegistry()
	opts := ledger.Options{
		Location: loc,
		Logger:   logger,
		Recorder: metrics.NewCollector(reg),
	}
	handler := api.NewHandler(st, opts, cfg.Bar.PageSize)
	handler.Metrics = metrics.Handler(reg)

	if err := handler.Settings.Seed(ctx, cfg.Bar.SettingDefaults()); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed settings")
	}
	if *adminUser != "" {
		if err := ensureAdmin(ctx, handler.Accounts, *adminUser, *adminPassword, *adminEmail, *adminBirthdate); err != nil {
			logger.Fatal().Err(err).Msg("failed to create admin")
		}
	}
	if *scenario != "" {
		svc := demo.Services{Ledger: handler.Ledger, Inventory: handler.Inventory, Accounts: handler.Accounts}
		if err := demo.Load(ctx, svc, *scenario); err != nil {
			logger.Fatal().Err(err).Str("scenario", *scenario).Msg("failed to load scenario")
		}
		logger.Info().Str("scenario", *scenario).Msg("demo scenario loaded")
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("env", cfg.App.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg config.DBConfig) (store, error) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, err
			}
		}
		return sqlite.New(cfg.Path)
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st, err := postgres.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func ensureAdmin(ctx context.Context, accounts *ledger.Accounts, username, password, email, birthdate string) error {
	_, err := accounts.GetUser(ctx, username)
	if err == nil {
		return nil
	}
	if !ledger.IsNotFound(err) {
		return err
	}
	born, err := time.Parse("2006-01-02", birthdate)
	if err != nil {
		return fmt.Errorf("admin birthdate: %w", err)
	}
	_, err = accounts.CreateUser(ctx, ledger.NewUser{
		Username:  username,
		Email:     email,
		Password:  password,
		Birthdate: born,
		Role:      ledger.RoleAdmin,
	})
	return err
}
