package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RoutesFile       string
	TelemetryBaseURL string

	FleetPollInterval time.Duration
	SeatPollInterval  time.Duration
	StaleAfterPolls   int
	GeofenceRadiusM   float64

	APIAddr     string
	MetricsAddr string

	NATSURL         string
	LogNATSSubjects bool

	SubscriptionsFile string
	DatabaseURL       string

	DesktopNotifications bool
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.RoutesFile = getenvDefault("ROUTES_FILE", "routes.yml")
	cfg.TelemetryBaseURL = getenvDefault("TELEMETRY_BASE_URL", "https://api.thingspeak.com")

	// Fleet (position) poll interval; observed cadence is 5s
	if v := os.Getenv("FLEET_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid FLEET_POLL_INTERVAL_MS: %q", v)
		}
		cfg.FleetPollInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.FleetPollInterval = 5 * time.Second
	}

	// Seat-sensor poll interval; runs on its own timer (10s) so a seat
	// feed outage never blocks position updates
	if v := os.Getenv("SEAT_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid SEAT_POLL_INTERVAL_MS: %q", v)
		}
		cfg.SeatPollInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.SeatPollInterval = 10 * time.Second
	}

	if v := os.Getenv("STALE_AFTER_POLLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid STALE_AFTER_POLLS: %q", v)
		}
		cfg.StaleAfterPolls = n
	} else {
		cfg.StaleAfterPolls = 3
	}

	if v := os.Getenv("GEOFENCE_RADIUS_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid GEOFENCE_RADIUS_M: %q", v)
		}
		cfg.GeofenceRadiusM = f
	} else {
		cfg.GeofenceRadiusM = 100
	}

	cfg.APIAddr = getenvDefault("API_ADDR", ":8080")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// NATS publishing is optional; empty URL disables it
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.LogNATSSubjects = parseBoolDefault(os.Getenv("LOG_NATS_SUBJECTS"), false)

	cfg.SubscriptionsFile = getenvDefault("SUBSCRIPTIONS_FILE", "subscriptions.json")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.DesktopNotifications = parseBoolDefault(os.Getenv("DESKTOP_NOTIFICATIONS"), true)

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBoolDefault(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
