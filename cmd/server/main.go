// Package main is the entrypoint for the keyguard API server.
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

	"github.com/kiranshivaraju/keyguard/internal/api"
	"github.com/kiranshivaraju/keyguard/internal/api/handler"
	mw "github.com/kiranshivaraju/keyguard/internal/api/middleware"
	"github.com/kiranshivaraju/keyguard/internal/api/response"
	"github.com/kiranshivaraju/keyguard/internal/cache"
	"github.com/kiranshivaraju/keyguard/internal/config"
	"github.com/kiranshivaraju/keyguard/internal/gate"
	"github.com/kiranshivaraju/keyguard/internal/keys"
	"github.com/kiranshivaraju/keyguard/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout = 30 * time.Second
	healthTimeout   = 2 * time.Second
)

var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logLevel.Set(cfg.Server.LogLevel)
	slog.Info("config loaded", "store", cfg.Store.Driver, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the credential store and apply migrations
	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	credStore := store.NewBreakerStore(backend, "credential-store",
		cfg.Breaker.ConsecutiveFailures, cfg.Breaker.OpenTimeout)

	// 3. Optional Redis usage tracker
	var usage *cache.RedisCache
	if cfg.Redis.URL != "" {
		usage, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer usage.Close()

		if err := usage.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected, usage tracking enabled")
	} else {
		slog.Info("REDIS_URL not set, usage tracking disabled")
	}

	// 4. Key lifecycle
	digester, err := keys.NewDigester(cfg.Keys.Pepper)
	if err != nil {
		return fmt.Errorf("create digester: %w", err)
	}
	metrics := keys.NewMetrics("keyguard")
	opts := []keys.Option{
		keys.WithMetrics(metrics),
		keys.WithMaxValidityDays(cfg.Keys.MaxValidityDays),
	}
	if usage != nil {
		opts = append(opts, keys.WithUsageTracker(usage))
	}
	manager := keys.NewManager(credStore, keys.NewGenerator(credStore, digester, opts...), opts...)
	validator := keys.NewValidator(credStore, digester, opts...)

	// 5. Admin gate
	adminGate, err := gate.FromAllowlist(cfg.Admin.AllowedIPs, cfg.Admin.AllowLoopbackIfUnconfigured)
	if err != nil {
		return fmt.Errorf("parse ADMIN_ALLOWED_IPS: %w", err)
	}

	// 6. Build router with dependencies
	keyHandler := handler.NewKeyHandler(manager)
	deps := api.Dependencies{
		Auth:  mw.NewAuth(validator, manager),
		Admin: adminGate,

		StatusHandler:      handler.Status,
		HealthHandler:      healthHandler(credStore, usage),
		MetricsHandler:     promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}),
		CreateKeyHandler:   keyHandler.Create,
		ListKeysHandler:    keyHandler.List,
		RevokeKeyHandler:   keyHandler.Revoke,
		DeleteKeyHandler:   keyHandler.Delete,
		ValidateKeyHandler: keyHandler.Validate,
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore connects the configured backend, applies its migrations and
// returns it with a release function.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := store.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := store.RunSQLiteMigrations(db.Writer); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("sqlite store ready", "path", cfg.SQLite.Path)
		return store.NewSQLiteStore(db, cfg.Database.QueryTimeout), func() { db.Close() }, nil

	default:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresStore(pool, cfg.Database.QueryTimeout), pool.Close, nil
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity. A nil cache is
// reported as disabled and never degrades health.
func healthHandler(s pinger, c *cache.RedisCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{
			"database": "ok",
			"cache":    "disabled",
		}

		if err := s.Ping(ctx); err != nil {
			checks["database"] = "degraded"
		}
		if c != nil {
			checks["cache"] = "ok"
			if err := c.Ping(ctx); err != nil {
				checks["cache"] = "degraded"
			}
		}

		if checks["database"] == "degraded" || checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
