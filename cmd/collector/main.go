// Command collector runs the market-data surveillance pipeline: it
// subscribes to a rotating subset of a venue's market universe, reconstructs
// order-book depth per (market, outcome), and persists periodic snapshots to
// a partitioned Parquet store. Load config, build the driver, start an
// optional status server, wait for a shutdown signal, tear down in reverse
// order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pmsurveil/internal/api"
	"pmsurveil/internal/collector"
	"pmsurveil/internal/config"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("COLLECTOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newHandler(cfg))

	c, err := collector.New(cfg, logger)
	if err != nil {
		logger.Error("failed to construct collector", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start collector", "error", err)
		os.Exit(1)
	}

	var statusServer *api.Server
	if cfg.Status.Enabled {
		statusServer = api.NewServer(cfg.Status.Port, c, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status server started", "url", fmt.Sprintf("http://localhost:%d/health", cfg.Status.Port))
	}

	logger.Info("collector started", "mock", cfg.Mock.Enabled, "venues", len(cfg.Venues))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if statusServer != nil {
		if err := statusServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}
	c.Stop()
}

func newHandler(cfg *config.Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
