package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fleet-tracker/internal/api"
	"fleet-tracker/internal/config"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/notify"
	"fleet-tracker/internal/publisher"
	"fleet-tracker/internal/subs"
	"fleet-tracker/internal/telemetry"
	"fleet-tracker/internal/tracker"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Static route/fleet definition, fixed for the session
	ff, err := config.LoadFleet(cfg.RoutesFile)
	if err != nil {
		log.Fatalf("routes error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.FleetPollInterval, cfg.SeatPollInterval, cfg.GeofenceRadiusM)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	// Subscription store: Postgres when DATABASE_URL is set, local
	// JSON file otherwise
	var store subs.Store
	if cfg.DatabaseURL != "" {
		db, err := subs.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := subs.Ping(ctx, db); err != nil {
			log.Fatalf("db ping error: %v", err)
		}
		store, err = subs.NewPostgresStore(ctx, db)
		if err != nil {
			log.Fatalf("subscription store error: %v", err)
		}
		log.Printf("subscriptions persisted to Postgres")
	} else {
		store = subs.NewFileStore(cfg.SubscriptionsFile)
		log.Printf("subscriptions persisted to %s", cfg.SubscriptionsFile)
	}

	// Platform notification channel
	var notifier notify.Notifier
	if cfg.DesktopNotifications {
		notifier = notify.NewDesktopNotifier("Fleet Tracker")
	} else {
		notifier = notify.DisabledNotifier{}
	}

	var dmetrics notify.DispatcherMetrics
	if mcol != nil {
		dmetrics = mcol
	}
	dispatcher := notify.NewDispatcher(notifier, store, dmetrics)

	// NATS publishing is optional
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		var pmetrics publisher.PublisherMetrics
		if mcol != nil {
			pmetrics = mcol
		}
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, pmetrics)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
	}

	client := telemetry.NewClient(cfg.TelemetryBaseURL)
	svc := tracker.New(cfg, ff, client, dispatcher, pub, mcol)

	apiSrv := api.NewServer(svc).Serve(cfg.APIAddr)

	log.Printf("tracking %d bus(es), fleet poll %v, seat poll %v, geofence radius %.0fm",
		len(ff.Buses), cfg.FleetPollInterval, cfg.SeatPollInterval, cfg.GeofenceRadiusM)

	// Blocks until the context is cancelled
	svc.Run(ctx)

	// Graceful shutdown of HTTP servers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics shutdown error: %v", err)
		}
	}
	log.Printf("shutdown complete")
}
