package geofence

import (
	"testing"
	"time"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
)

func testBus(loc geo.Coordinate) fleet.Bus {
	return fleet.Bus{
		ID:       "bus-1",
		Number:   "TN72-M5267",
		Location: loc,
		Stops: []fleet.Stop{
			{Name: "A", Location: geo.Coordinate{Lat: 8.703608, Lon: 77.727452}},
			{Name: "B", Location: geo.Coordinate{Lat: 8.696473, Lon: 77.727235}},
			{Name: "C", Location: geo.Coordinate{Lat: 8.685407, Lon: 77.724927}},
		},
	}
}

func TestScan(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		loc       geo.Coordinate
		radius    float64
		wantStops []string
	}{
		{
			name:      "exactly at stop",
			loc:       geo.Coordinate{Lat: 8.696473, Lon: 77.727235},
			radius:    DefaultRadiusMeters,
			wantStops: []string{"B"},
		},
		{
			name:      "between stops",
			loc:       geo.Coordinate{Lat: 8.700000, Lon: 77.727300},
			radius:    DefaultRadiusMeters,
			wantStops: nil,
		},
		{
			name:      "wide radius covers adjacent stops",
			loc:       geo.Coordinate{Lat: 8.700000, Lon: 77.727300},
			radius:    1000,
			wantStops: []string{"A", "B"},
		},
		{
			name:      "zero radius only matches exact position",
			loc:       geo.Coordinate{Lat: 8.703608, Lon: 77.727452},
			radius:    0,
			wantStops: []string{"A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Scan(testBus(tt.loc), tt.radius, now)
			if len(events) != len(tt.wantStops) {
				t.Fatalf("got %d events, want %d: %+v", len(events), len(tt.wantStops), events)
			}
			for i, ev := range events {
				if ev.StopName != tt.wantStops[i] {
					t.Errorf("event %d stop = %q, want %q", i, ev.StopName, tt.wantStops[i])
				}
				if ev.DistanceM > tt.radius {
					t.Errorf("event %d distance %.1f exceeds radius %.1f", i, ev.DistanceM, tt.radius)
				}
				if !ev.At.Equal(now) {
					t.Errorf("event %d timestamp = %v, want %v", i, ev.At, now)
				}
			}
		})
	}
}

func TestScanAtStopHasZeroDistance(t *testing.T) {
	loc := geo.Coordinate{Lat: 8.685407, Lon: 77.724927}
	events := Scan(testBus(loc), DefaultRadiusMeters, time.Now())
	if len(events) != 1 || events[0].StopName != "C" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].DistanceM != 0 {
		t.Errorf("distance at exact coordinates = %f, want 0", events[0].DistanceM)
	}
}

func TestLedgerFirstArrival(t *testing.T) {
	l := NewLedger()
	ev := Event{BusID: "bus-1", StopName: "B"}

	if !l.FirstArrival(ev) {
		t.Fatalf("first sighting should report true")
	}
	for i := 0; i < 5; i++ {
		if l.FirstArrival(ev) {
			t.Fatalf("repeat sighting %d reported true", i)
		}
	}
	if !l.Has("bus-1", "B") {
		t.Errorf("Has should report recorded pair")
	}
	if l.Has("bus-1", "C") {
		t.Errorf("Has reported a pair never recorded")
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestLedgerKeysAreIndependent(t *testing.T) {
	l := NewLedger()
	pairs := []Event{
		{BusID: "bus-1", StopName: "B"},
		{BusID: "bus-1", StopName: "C"},
		{BusID: "bus-2", StopName: "B"},
	}
	for _, ev := range pairs {
		if !l.FirstArrival(ev) {
			t.Errorf("pair (%s, %s) should be new", ev.BusID, ev.StopName)
		}
	}
	if l.Len() != len(pairs) {
		t.Errorf("Len = %d, want %d", l.Len(), len(pairs))
	}
}
