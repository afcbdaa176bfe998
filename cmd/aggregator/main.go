// aggregator runs the multi-account Lighter data service: per-account
// REST pollers and websocket connectors feeding the shared cache, the
// broadcast hub, the HTTP query API, and (when configured) the durable
// Postgres sink.
//
// Accounts come from the environment (Lighter_<n>_* variable blocks) or
// from an ACCOUNTS_FILE YAML list. See internal/config for the full
// variable set.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/rickgao/lighter-data/internal/cache"
	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/errlog"
	"github.com/rickgao/lighter-data/internal/hub"
	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/server"
	"github.com/rickgao/lighter-data/internal/sink"
	"github.com/rickgao/lighter-data/internal/supervisor"
	"github.com/rickgao/lighter-data/internal/version"
)

const errorLogCapacity = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting aggregator",
		"version", version.Version,
		"commit", version.Commit,
		"accounts", len(cfg.Accounts),
		"poll_interval", cfg.PollInterval,
		"cache_ttl", cfg.CacheTTL,
	)

	if len(cfg.Accounts) == 0 {
		logger.Error("no accounts configured; set Lighter_<n>_* variables or ACCOUNTS_FILE")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	store := cache.New(cfg.CacheTTL)
	tracker := metrics.NewTracker()
	errLog := errlog.New(errorLogCapacity)
	broadcast := hub.New(logger)

	snk := sink.Open(ctx, cfg.Sink, logger)

	sup, err := supervisor.New(cfg, store, tracker, errLog, broadcast, snk, logger)
	if err != nil {
		logger.Error("failed to build supervisor", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, store, tracker, errLog, broadcast, sup, snk, logger)
	if err != nil {
		logger.Error("failed to build api server", "error", err)
		os.Exit(1)
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr)

	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	}()
	go func() {
		if err := metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("aggregator running",
		"api_addr", cfg.Host, "api_port", cfg.Port,
		"metrics_addr", metricsSrv.Addr(),
		"sink_enabled", snk.Enabled(),
	)

	<-ctx.Done()

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first, then drain the data pipeline. The
	// sink flushes inside supervisor.Stop.
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", "error", err)
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Warn("supervisor shutdown error", "error", err)
	}
	if err := metricsSrv.Stop(); err != nil {
		logger.Warn("metrics server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
