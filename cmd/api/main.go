package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/passbi/localtransport/internal/alternatives"
	"github.com/passbi/localtransport/internal/api"
	"github.com/passbi/localtransport/internal/cache"
	"github.com/passbi/localtransport/internal/calendar"
	"github.com/passbi/localtransport/internal/config"
	"github.com/passbi/localtransport/internal/db"
	"github.com/passbi/localtransport/internal/i18n"
	"github.com/passbi/localtransport/internal/metrics"
	"github.com/passbi/localtransport/internal/models"
	"github.com/passbi/localtransport/internal/routing"
	"github.com/passbi/localtransport/internal/session"
	"github.com/passbi/localtransport/internal/transport"
)

// responseBuffer holds one poll cycle's envelopes
const responseBuffer = 16

// calendarLimit bounds the events read per poll
const calendarLimit = 10

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

	instanceID := cfg.Infra.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger = logger.With("instance", instanceID)
	logger.Info("starting local transport widget", "origin", cfg.Widget.Origin, "destination", cfg.Widget.Destination, "bus", cfg.Infra.Bus)

	tr := i18n.New(cfg.Widget.Language)
	collector := metrics.NewCollector()
	checks := map[string]api.HealthCheck{}

	var (
		bus       session.Bus
		notifier  session.Notifier
		responses <-chan models.Envelope
	)
	switch cfg.Infra.Bus {
	case "nats":
		nc, err := transport.Connect(cfg.Infra.NATSURL, "localtransport-"+instanceID, logger, collector)
		if err != nil {
			return err
		}
		defer nc.Close()

		natsBus, err := transport.NewNATSBus(nc, instanceID, responseBuffer, logger)
		if err != nil {
			return err
		}
		defer natsBus.Close()

		bus, notifier, responses = natsBus, natsBus, natsBus.Responses()
		checks["nats"] = transport.HealthCheck(nc)
		logger.Info("nats connection established", "url", nc.ConnectedUrl())

	default:
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
			logger.Info("redis connection established", "ttl", cacheConfig.TTL)
		}

		client := transport.NewClient(cfg.Widget.ClientConfig(cfg.Infra.FetchTimeout), responseCache, logger)
		localBus := transport.NewLocalBus(transport.ObservedFetcher{Fetcher: client, Observer: collector}, responseBuffer, logger)
		defer localBus.Wait()

		bus, notifier, responses = localBus, session.LogNotifier{Logger: logger}, localBus.Responses()
	}

	events := make(chan []models.CalendarEvent, 1)
	var posted chan<- []models.CalendarEvent
	if cfg.Widget.GetCalendarLocation {
		posted = events

		if cfg.Infra.CalendarSource == "postgres" {
			pool, err := db.GetDB()
			if err != nil {
				return err
			}
			defer db.Close()

			checks["database"] = db.HealthCheck
			logger.Info("database connection established")

			poller := calendar.NewPoller(calendar.NewStore(pool, calendarLimit), cfg.Infra.CalendarInterval, logger)
			go func() {
				_ = poller.Run(ctx, events)
			}()
		}
	}

	controller := session.NewController(
		cfg.Widget.SessionOptions(instanceID),
		bus,
		routing.NewEvaluator(cfg.Widget.EvaluatorOptions(), tr, logger),
		alternatives.NewTracker(cfg.Widget.TrackerOptions(), tr, logger),
		tr,
		logger,
		notifier,
		collector,
	)

	done := make(chan error, 1)
	go func() {
		done <- controller.Run(ctx, responses, events)
	}()

	app := api.NewApp(api.NewHandlers(controller, posted, checks, logger), collector.Handler(), cfg.Infra.CalendarToken)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		if err := app.Shutdown(); err != nil {
			logger.Warn("error during shutdown", "error", err)
		}
	}()

	addr := ":" + cfg.Infra.Port
	logger.Info("server listening", "addr", addr, "display", "/v1/display", "health", "/health")
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	stop()
	return <-done
}
