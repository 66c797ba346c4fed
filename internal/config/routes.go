package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ChannelConfig identifies one telemetry feed channel.
type ChannelConfig struct {
	ID     string `yaml:"id" validate:"required"`
	APIKey string `yaml:"api_key"`
}

// StopConfig is one scheduled stop of a route. Stop names are the
// unique keys used by geofencing and subscriptions.
type StopConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Lat       float64 `yaml:"lat" validate:"latitude"`
	Lon       float64 `yaml:"lon" validate:"longitude"`
	Arrival   string  `yaml:"arrival"`
	Departure string  `yaml:"departure"`
}

// BusConfig binds one bus to its route and its two telemetry channels.
type BusConfig struct {
	ID              string        `yaml:"id" validate:"required"`
	Route           string        `yaml:"route"`
	Number          string        `yaml:"number" validate:"required"`
	PositionChannel ChannelConfig `yaml:"position_channel" validate:"required"`
	SeatChannel     ChannelConfig `yaml:"seat_channel" validate:"required"`
	Stops           []StopConfig  `yaml:"stops" validate:"required,min=2,dive"`
}

// FleetFile is the static fleet/route definition, fixed for the
// lifetime of the process.
type FleetFile struct {
	Buses []BusConfig `yaml:"buses" validate:"required,min=1,dive"`
}

// LoadFleet reads and validates the route definition file.
func LoadFleet(path string) (*FleetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var ff FleetFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}

	v := validator.New()
	if err := v.Struct(ff); err != nil {
		return nil, fmt.Errorf("invalid routes file %s: %w", path, err)
	}

	// duplicate stop names would break geofence and subscription keys
	for _, bus := range ff.Buses {
		seen := make(map[string]bool, len(bus.Stops))
		for _, st := range bus.Stops {
			if seen[st.Name] {
				return nil, fmt.Errorf("invalid routes file %s: bus %s has duplicate stop %q", path, bus.ID, st.Name)
			}
			seen[st.Name] = true
		}
	}

	return &ff, nil
}
