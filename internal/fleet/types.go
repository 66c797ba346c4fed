package fleet

import (
	"time"

	"fleet-tracker/internal/geo"
)

// CrowdLevel is the coarse occupancy bucket shown to riders.
type CrowdLevel string

const (
	CrowdLow    CrowdLevel = "Low"
	CrowdMedium CrowdLevel = "Medium"
	CrowdHigh   CrowdLevel = "High"
)

// CrowdLevelFor buckets an available-seat count: High below 10,
// Medium below 20, Low otherwise.
func CrowdLevelFor(availableSeats int) CrowdLevel {
	switch {
	case availableSeats < 10:
		return CrowdHigh
	case availableSeats < 20:
		return CrowdMedium
	default:
		return CrowdLow
	}
}

// Occupancy is the seat-sensor view of a bus. The counts come straight
// from the sensors and may be inconsistent (available + passengers can
// exceed total); they are displayed as-is, never rejected.
type Occupancy struct {
	TotalSeats     int        `json:"totalSeats"`
	AvailableSeats int        `json:"availableSeats"`
	PassengerCount int        `json:"passengerCount"`
	CrowdLevel     CrowdLevel `json:"crowdLevel"`
}

// Stop is one scheduled stop on a route. The name is unique within a
// route. ScheduledArrival/ScheduledDeparture are static timetable
// strings; EstimatedArrival is recomputed every poll.
type Stop struct {
	Name               string         `json:"name"`
	Location           geo.Coordinate `json:"location"`
	ScheduledArrival   string         `json:"scheduledArrival"`
	ScheduledDeparture string         `json:"scheduledDeparture"`
	EstimatedArrival   time.Time      `json:"estimatedArrival"`
}

// Bus is one tracked vehicle. ID is stable across polls.
type Bus struct {
	ID               string         `json:"id"`
	Route            string         `json:"route"`
	Number           string         `json:"busNumber"`
	Location         geo.Coordinate `json:"currentLocation"`
	SpeedKmh         float64        `json:"speed"`
	NextStop         string         `json:"nextStop"`
	EstimatedArrival time.Time      `json:"estimatedArrival"`
	Occupancy        Occupancy      `json:"occupancy"`
	Stops            []Stop         `json:"stops"`

	// MissedPolls counts consecutive refreshes without a position
	// reading; Stale flips once it reaches the configured threshold.
	// Stale buses keep their last-known state and are never dropped
	// within a session.
	MissedPolls int  `json:"-"`
	Stale       bool `json:"stale"`
}

// Snapshot is the complete fleet state for one poll cycle. It is
// replaced wholesale on every reconciliation and never mutated after
// publication.
type Snapshot struct {
	Buses     []Bus     `json:"buses"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Bus returns the bus with the given id, if present.
func (s Snapshot) Bus(id string) (Bus, bool) {
	for _, b := range s.Buses {
		if b.ID == id {
			return b, true
		}
	}
	return Bus{}, false
}

// StopStatus is the per-stop progress marker used by the detail view.
type StopStatus string

const (
	StatusDeparted StopStatus = "departed"
	StatusPassed   StopStatus = "passed"
	StatusNext     StopStatus = "next"
	StatusUpcoming StopStatus = "upcoming"
)

// StopStatuses derives the status of each stop from route order and
// the next-stop name alone: index 0 is departed, the next stop is
// next, stops before it are passed, the rest upcoming. An unknown
// nextStop leaves every non-zero stop upcoming.
func StopStatuses(stops []Stop, nextStop string) []StopStatus {
	nextIdx := -1
	for i, st := range stops {
		if st.Name == nextStop {
			nextIdx = i
			break
		}
	}

	statuses := make([]StopStatus, len(stops))
	for i, st := range stops {
		switch {
		case i == 0:
			statuses[i] = StatusDeparted
		case st.Name == nextStop:
			statuses[i] = StatusNext
		case nextIdx >= 0 && i < nextIdx:
			statuses[i] = StatusPassed
		default:
			statuses[i] = StatusUpcoming
		}
	}
	return statuses
}

// FindBuses returns the buses whose route serves both stops with
// source strictly before destination.
func (s Snapshot) FindBuses(source, destination string) []Bus {
	var out []Bus
	for _, b := range s.Buses {
		srcIdx, dstIdx := -1, -1
		for i, st := range b.Stops {
			switch st.Name {
			case source:
				srcIdx = i
			case destination:
				dstIdx = i
			}
		}
		if srcIdx >= 0 && dstIdx >= 0 && srcIdx < dstIdx {
			out = append(out, b)
		}
	}
	return out
}
