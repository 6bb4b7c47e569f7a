package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/passbi/localtransport/internal/api"
	"github.com/passbi/localtransport/internal/cache"
	"github.com/passbi/localtransport/internal/config"
	"github.com/passbi/localtransport/internal/metrics"
	"github.com/passbi/localtransport/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Widget.LogLevel()}))
	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	checks := map[string]api.HealthCheck{}

	nc, err := transport.Connect(cfg.Infra.NATSURL, "localtransport-fetcher-"+uuid.NewString()[:8], logger, collector)
	if err != nil {
		return err
	}
	defer nc.Close()
	checks["nats"] = transport.HealthCheck(nc)

	var responseCache transport.ResponseCache
	if cacheConfig := cache.LoadConfigFromEnv(); cacheConfig.Enabled {
		client, err := cache.GetClient()
		if err != nil {
			return err
		}
		defer cache.Close()

		store := cache.NewStore(client, cacheConfig)
		responseCache = store
		checks["redis"] = store.HealthCheck
	}

	client := transport.NewClient(cfg.Widget.ClientConfig(cfg.Infra.FetchTimeout), responseCache, logger)
	worker := transport.NewWorker(nc, client, cfg.Infra.FetchTimeout, collector, logger)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := worker.Stop(); err != nil {
			logger.Warn("failed to drain subscription", "error", err)
		}
	}()

	app := api.NewOpsApp(checks, collector.Handler(), logger)
	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		if err := app.Shutdown(); err != nil {
			logger.Warn("error during shutdown", "error", err)
		}
	}()

	addr := ":" + cfg.Infra.Port
	logger.Info("fetcher listening", "addr", addr, "nats", nc.ConnectedUrl())
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
