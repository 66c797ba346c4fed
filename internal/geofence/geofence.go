package geofence

import (
	"sync"
	"time"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
)

// DefaultRadiusMeters is the arrival radius calibrated in the field
// deployment: a bus within 100 m of a stop counts as arrived.
const DefaultRadiusMeters = 100

// Event is a candidate arrival: a bus currently within the arrival
// radius of one of its stops. Dedup against the Ledger is the
// caller's job.
type Event struct {
	BusID     string    `json:"busId"`
	BusNumber string    `json:"busNumber"`
	StopName  string    `json:"stopName"`
	DistanceM float64   `json:"distanceMeters"`
	At        time.Time `json:"at"`
}

// Scan checks a bus against every stop on its route and returns one
// event per stop within radiusMeters. Pure function of the current
// position.
func Scan(bus fleet.Bus, radiusMeters float64, now time.Time) []Event {
	var events []Event
	for _, stop := range bus.Stops {
		d := geo.DistanceMeters(bus.Location, stop.Location)
		if d <= radiusMeters {
			events = append(events, Event{
				BusID:     bus.ID,
				BusNumber: bus.Number,
				StopName:  stop.Name,
				DistanceM: d,
				At:        now,
			})
		}
	}
	return events
}

type key struct {
	busID    string
	stopName string
}

// Ledger is the session-lifetime arrival dedup set. Keys are
// append-only and never evicted: a bus that leaves a geofence and
// re-enters it does not re-trigger. It also serves as the "stop
// already passed" predicate for next-stop derivation.
type Ledger struct {
	mu   sync.Mutex
	seen map[key]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{seen: make(map[key]struct{})}
}

// FirstArrival records the event's (bus, stop) key and reports whether
// this is its first appearance. Exactly one call per key ever returns
// true.
func (l *Ledger) FirstArrival(ev Event) bool {
	k := key{busID: ev.BusID, stopName: ev.StopName}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[k]; ok {
		return false
	}
	l.seen[k] = struct{}{}
	return true
}

// Has reports whether an arrival has been recorded for the pair.
func (l *Ledger) Has(busID, stopName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key{busID: busID, stopName: stopName}]
	return ok
}

// Len returns the number of recorded arrival keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
