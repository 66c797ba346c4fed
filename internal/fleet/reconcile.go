package fleet

import (
	"time"

	"fleet-tracker/internal/geo"
)

// PositionReading is one validated sample from a GPS feed.
type PositionReading struct {
	Location   geo.Coordinate
	SpeedKmh   float64
	RecordedAt time.Time
}

// OccupancyReading is one validated sample from a seat-sensor feed.
type OccupancyReading struct {
	TotalSeats     int
	PassengerCount int
	AvailableSeats int
	RecordedAt     time.Time
}

// Reading is the telemetry gathered for one bus in a single poll.
// Either feed may be missing.
type Reading struct {
	Position  *PositionReading
	Occupancy *OccupancyReading
}

// Reconciler merges fresh telemetry into the previous fleet snapshot.
// Reconcile is pure: identical inputs produce identical output, and
// the previous snapshot is never mutated.
type Reconciler struct {
	// StaleAfter is the number of consecutive position polls a bus may
	// miss before it is marked stale. Zero disables stale marking.
	StaleAfter int
}

// Reconcile applies one full position-poll cycle. Buses with no
// position reading keep their last-known location and accrue a missed
// poll. passed reports whether a (bus, stop) arrival has already been
// recorded; the first stop in route order not yet passed becomes the
// next stop (falling back to the final stop). All ETAs in the
// resulting snapshot are derived from the single now argument.
func (r Reconciler) Reconcile(prev Snapshot, readings map[string]Reading, now time.Time, passed func(busID, stopName string) bool) Snapshot {
	next := Snapshot{
		Buses:     make([]Bus, len(prev.Buses)),
		UpdatedAt: now,
	}

	for i, b := range prev.Buses {
		bus := b
		bus.Stops = make([]Stop, len(b.Stops))
		copy(bus.Stops, b.Stops)

		rd := readings[bus.ID]
		if rd.Position != nil {
			bus.Location = rd.Position.Location
			bus.SpeedKmh = rd.Position.SpeedKmh
			bus.MissedPolls = 0
			bus.Stale = false
		} else {
			bus.MissedPolls++
			if r.StaleAfter > 0 && bus.MissedPolls >= r.StaleAfter {
				bus.Stale = true
			}
		}

		if rd.Occupancy != nil {
			bus.Occupancy = occupancyFor(*rd.Occupancy)
		}

		bus.NextStop = nextStopName(bus, passed)

		for j := range bus.Stops {
			bus.Stops[j].EstimatedArrival = geo.EstimateArrival(bus.Location, bus.Stops[j].Location, bus.SpeedKmh, now)
		}
		if st, ok := stopByName(bus.Stops, bus.NextStop); ok {
			bus.EstimatedArrival = st.EstimatedArrival
		}

		next.Buses[i] = bus
	}

	return next
}

// ApplyOccupancy applies a seat-feed-only cycle: occupancy is swapped
// in for the buses that reported, everything else (positions, ETAs,
// missed-poll counters) is carried over untouched.
func (r Reconciler) ApplyOccupancy(prev Snapshot, readings map[string]OccupancyReading, now time.Time) Snapshot {
	next := Snapshot{
		Buses:     make([]Bus, len(prev.Buses)),
		UpdatedAt: now,
	}

	for i, b := range prev.Buses {
		bus := b
		bus.Stops = make([]Stop, len(b.Stops))
		copy(bus.Stops, b.Stops)

		if occ, ok := readings[bus.ID]; ok {
			bus.Occupancy = occupancyFor(occ)
		}

		next.Buses[i] = bus
	}

	return next
}

func occupancyFor(occ OccupancyReading) Occupancy {
	return Occupancy{
		TotalSeats:     occ.TotalSeats,
		AvailableSeats: occ.AvailableSeats,
		PassengerCount: occ.PassengerCount,
		CrowdLevel:     CrowdLevelFor(occ.AvailableSeats),
	}
}

func nextStopName(bus Bus, passed func(busID, stopName string) bool) string {
	if len(bus.Stops) == 0 {
		return ""
	}
	if passed != nil {
		for _, st := range bus.Stops {
			if !passed(bus.ID, st.Name) {
				return st.Name
			}
		}
	}
	// every stop passed (or no predicate): terminal stop stays next
	return bus.Stops[len(bus.Stops)-1].Name
}

func stopByName(stops []Stop, name string) (Stop, bool) {
	for _, st := range stops {
		if st.Name == name {
			return st, true
		}
	}
	return Stop{}, false
}
