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

	"github.com/aus-receiving/api/internal/cache"
	"github.com/aus-receiving/api/internal/config"
	"github.com/aus-receiving/api/internal/router"
	"github.com/aus-receiving/api/internal/service"
	"github.com/aus-receiving/api/internal/storage"
	"github.com/aus-receiving/api/internal/telemetry"
	"github.com/aus-receiving/api/internal/ws"
)

var version = "dev"

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger, level)
	cancel()
	if err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, level *slog.LevelVar) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logger.Warn("unknown log level, using info", "level", cfg.LogLevel)
	}

	logger.Info("receiving api starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, storage.Options{
		DSN:                cfg.DatabaseURL,
		MaxConns:           int32(cfg.DBMaxConns), //nolint:gosec // validated positive in config.Validate
		ConnectTimeout:     cfg.DBConnectTimeout,
		BreakerMaxFailures: uint32(cfg.BreakerMaxFailures), //nolint:gosec // validated positive in config.Validate
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RegisterMetrics(telemetry.Meter("receiving/storage")); err != nil {
		logger.Warn("register pool metrics", "error", err)
	}

	prober := storage.NewProber(db, cfg.DBProbeInterval, logger)
	go prober.Run(ctx)

	catalogCache, closeCache := newCatalogCache(ctx, cfg, logger)
	defer closeCache()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(cfg, logger, db, prober, catalogCache, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("receiving api shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("receiving api stopped")
	return nil
}

// newCatalogCache connects the optional Redis catalog cache. Lookups go
// straight to Postgres when it is not configured or cannot be reached.
func newCatalogCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.CatalogCache, func()) {
	if cfg.RedisURL == "" {
		return cache.Noop{}, func() {}
	}
	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("catalog cache unavailable, reading catalog from postgres", "error", err)
		return cache.Noop{}, func() {}
	}
	logger.Info("catalog cache enabled", "ttl", cfg.CatalogCacheTTL)
	return cache.NewCatalog(rdb, cfg.CatalogCacheTTL), func() { _ = rdb.Close() }
}
