package config

import (
	"testing"
	"time"
)

func clearTrackerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ROUTES_FILE", "TELEMETRY_BASE_URL",
		"FLEET_POLL_INTERVAL_MS", "SEAT_POLL_INTERVAL_MS",
		"STALE_AFTER_POLLS", "GEOFENCE_RADIUS_M",
		"API_ADDR", "METRICS_ADDR", "NATS_URL", "LOG_NATS_SUBJECTS",
		"SUBSCRIPTIONS_FILE", "DATABASE_URL", "DESKTOP_NOTIFICATIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearTrackerEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FleetPollInterval != 5*time.Second {
		t.Errorf("fleet poll interval = %v, want 5s", cfg.FleetPollInterval)
	}
	if cfg.SeatPollInterval != 10*time.Second {
		t.Errorf("seat poll interval = %v, want 10s", cfg.SeatPollInterval)
	}
	if cfg.StaleAfterPolls != 3 {
		t.Errorf("stale after polls = %d, want 3", cfg.StaleAfterPolls)
	}
	if cfg.GeofenceRadiusM != 100 {
		t.Errorf("geofence radius = %v, want 100", cfg.GeofenceRadiusM)
	}
	if cfg.APIAddr != ":8080" {
		t.Errorf("api addr = %q", cfg.APIAddr)
	}
	if cfg.NATSURL != "" {
		t.Errorf("nats url = %q, want disabled", cfg.NATSURL)
	}
	if !cfg.DesktopNotifications {
		t.Errorf("desktop notifications should default on")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearTrackerEnv(t)
	t.Setenv("FLEET_POLL_INTERVAL_MS", "2500")
	t.Setenv("GEOFENCE_RADIUS_M", "250")
	t.Setenv("DESKTOP_NOTIFICATIONS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FleetPollInterval != 2500*time.Millisecond {
		t.Errorf("fleet poll interval = %v", cfg.FleetPollInterval)
	}
	if cfg.GeofenceRadiusM != 250 {
		t.Errorf("geofence radius = %v", cfg.GeofenceRadiusM)
	}
	if cfg.DesktopNotifications {
		t.Errorf("desktop notifications should be off")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"FLEET_POLL_INTERVAL_MS", "abc"},
		{"FLEET_POLL_INTERVAL_MS", "-5"},
		{"SEAT_POLL_INTERVAL_MS", "0"},
		{"STALE_AFTER_POLLS", "-1"},
		{"GEOFENCE_RADIUS_M", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearTrackerEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load should reject %s=%q", tt.key, tt.value)
			}
		})
	}
}
