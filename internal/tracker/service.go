package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
	"fleet-tracker/internal/geofence"
	mmetrics "fleet-tracker/internal/metrics"
	"fleet-tracker/internal/notify"
	"fleet-tracker/internal/publisher"
	"fleet-tracker/internal/telemetry"
)

// ErrBusNotFound means a selection referred to a bus absent from the
// current snapshot.
var ErrBusNotFound = errors.New("bus not found")

// Service owns the authoritative fleet snapshot, the polling loops,
// the arrival dedup ledger and the current selection. Everything
// between the fetch calls runs synchronously, so one reconciliation
// pass is atomic with respect to readers.
type Service struct {
	client     *telemetry.Client
	buses      []config.BusConfig
	reconciler fleet.Reconciler
	ledger     *geofence.Ledger
	dispatcher *notify.Dispatcher
	pub        *publisher.NATSPublisher // nil when publishing is disabled
	metrics    *mmetrics.Collector      // nil when metrics are disabled

	radiusM       float64
	fleetInterval time.Duration
	seatInterval  time.Duration

	mu       sync.RWMutex
	snapshot fleet.Snapshot
	selected string
	lastErr  error
	loading  bool
}

func New(cfg *config.Config, ff *config.FleetFile, client *telemetry.Client, dispatcher *notify.Dispatcher, pub *publisher.NATSPublisher, metrics *mmetrics.Collector) *Service {
	s := &Service{
		client:        client,
		buses:         ff.Buses,
		reconciler:    fleet.Reconciler{StaleAfter: cfg.StaleAfterPolls},
		ledger:        geofence.NewLedger(),
		dispatcher:    dispatcher,
		pub:           pub,
		metrics:       metrics,
		radiusM:       cfg.GeofenceRadiusM,
		fleetInterval: cfg.FleetPollInterval,
		seatInterval:  cfg.SeatPollInterval,
	}
	s.snapshot = initialSnapshot(ff.Buses)
	return s
}

// initialSnapshot seeds every bus at its first stop with the static
// timetable, awaiting the first telemetry cycle.
func initialSnapshot(buses []config.BusConfig) fleet.Snapshot {
	snap := fleet.Snapshot{Buses: make([]fleet.Bus, 0, len(buses))}
	for _, bc := range buses {
		stops := make([]fleet.Stop, len(bc.Stops))
		for i, sc := range bc.Stops {
			stops[i] = fleet.Stop{
				Name:               sc.Name,
				Location:           geo.Coordinate{Lat: sc.Lat, Lon: sc.Lon},
				ScheduledArrival:   sc.Arrival,
				ScheduledDeparture: sc.Departure,
			}
		}
		bus := fleet.Bus{
			ID:     bc.ID,
			Route:  bc.Route,
			Number: bc.Number,
			Stops:  stops,
		}
		if len(stops) > 0 {
			bus.Location = stops[0].Location
			bus.NextStop = stops[0].Name
			if len(stops) > 1 {
				bus.NextStop = stops[1].Name
			}
		}
		snap.Buses = append(snap.Buses, bus)
	}
	return snap
}

// Run drives the two polling loops until the context is cancelled.
// The loops are independently scheduled so a seat-feed outage never
// delays position updates, and each loop serializes its own fetches
// (a slow cycle drops ticks instead of piling up).
func (s *Service) Run(ctx context.Context) {
	// initial fetch before the first tick
	if err := s.Refresh(ctx); err != nil {
		log.Printf("initial refresh: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		tick := time.NewTicker(s.fleetInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := s.Refresh(ctx); err != nil {
					log.Printf("refresh: %v", err)
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		tick := time.NewTicker(s.seatInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := s.RefreshOccupancy(ctx); err != nil {
					log.Printf("occupancy refresh: %v", err)
				}
			}
		}
	}()

	wg.Wait()
	log.Printf("tracker stopped")
}

// Refresh performs one full poll cycle: fetch both feeds for every
// bus, reconcile into a fresh snapshot, run the geofence scan and
// dispatch first-time arrivals. When every bus fails to report, the
// previous snapshot is kept untouched and only the error flag is set.
func (s *Service) Refresh(ctx context.Context) error {
	start := time.Now()
	s.setLoading(true)
	defer s.setLoading(false)

	readings := make(map[string]fleet.Reading, len(s.buses))
	var firstErr error
	failed := 0
	for _, bc := range s.buses {
		rd, err := s.client.FetchBus(ctx,
			telemetry.Channel{ID: bc.PositionChannel.ID, APIKey: bc.PositionChannel.APIKey},
			telemetry.Channel{ID: bc.SeatChannel.ID, APIKey: bc.SeatChannel.APIKey},
		)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			log.Printf("telemetry for bus %s: %v", bc.ID, err)
			continue
		}
		readings[bc.ID] = rd
	}

	if s.metrics != nil {
		if failed > 0 {
			s.metrics.PollErrors.WithLabelValues("fleet").Inc()
		}
		s.metrics.PollCycles.WithLabelValues("fleet").Inc()
	}

	// teardown guard: never apply a late result after cancellation
	if err := ctx.Err(); err != nil {
		return err
	}

	if failed == len(s.buses) && len(s.buses) > 0 {
		s.setError(firstErr)
		return fmt.Errorf("all buses unreachable: %w", firstErr)
	}

	now := time.Now()

	s.mu.Lock()
	snap := s.reconciler.Reconcile(s.snapshot, readings, now, s.ledger.Has)
	s.snapshot = snap
	s.lastErr = firstErr
	if s.selected != "" {
		if _, ok := snap.Bus(s.selected); !ok {
			s.selected = ""
		}
	}
	s.mu.Unlock()

	s.dispatchArrivals(snap, now)
	s.dispatcher.PruneBuses(func(busID string) bool {
		_, ok := snap.Bus(busID)
		return ok
	})

	if s.pub != nil {
		s.pub.PublishSnapshot(snap)
	}
	s.observeSnapshot(snap, start)
	return nil
}

// RefreshOccupancy polls only the seat-sensor feeds on the seat
// cadence. Position state, ETAs and missed-poll counters are untouched.
func (s *Service) RefreshOccupancy(ctx context.Context) error {
	readings := make(map[string]fleet.OccupancyReading, len(s.buses))
	var firstErr error
	for _, bc := range s.buses {
		occ, err := s.client.FetchOccupancy(ctx, telemetry.Channel{ID: bc.SeatChannel.ID, APIKey: bc.SeatChannel.APIKey})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Printf("seat telemetry for bus %s: %v", bc.ID, err)
			continue
		}
		readings[bc.ID] = *occ
	}

	if s.metrics != nil {
		if firstErr != nil {
			s.metrics.PollErrors.WithLabelValues("occupancy").Inc()
		}
		s.metrics.PollCycles.WithLabelValues("occupancy").Inc()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(readings) == 0 {
		if firstErr != nil {
			return fmt.Errorf("seat feeds unreachable: %w", firstErr)
		}
		return nil
	}

	s.mu.Lock()
	s.snapshot = s.reconciler.ApplyOccupancy(s.snapshot, readings, time.Now())
	s.mu.Unlock()
	return nil
}

// dispatchArrivals scans the snapshot against each bus's stops and
// forwards first-time arrivals. The ledger guarantees at most one
// dispatch per (bus, stop) for the session, even when a bus sits
// inside a geofence across many polls.
func (s *Service) dispatchArrivals(snap fleet.Snapshot, now time.Time) {
	for _, bus := range snap.Buses {
		for _, ev := range geofence.Scan(bus, s.radiusM, now) {
			if !s.ledger.FirstArrival(ev) {
				continue
			}
			if s.metrics != nil {
				s.metrics.GeofenceEvents.Inc()
			}
			s.dispatcher.HandleArrival(ev)
			if s.pub != nil {
				s.pub.PublishArrival(ev)
			}
		}
	}
	if s.metrics != nil {
		s.metrics.ArrivalLedger.Set(float64(s.ledger.Len()))
	}
}

func (s *Service) observeSnapshot(snap fleet.Snapshot, start time.Time) {
	if s.metrics == nil {
		return
	}
	stale := 0
	for _, b := range snap.Buses {
		if b.Stale {
			stale++
		}
	}
	s.metrics.BusesTracked.Set(float64(len(snap.Buses)))
	s.metrics.StaleBuses.Set(float64(stale))
	s.metrics.PollDuration.Observe(time.Since(start).Seconds())
}

// Snapshot returns the current fleet snapshot. Snapshots are replaced,
// never mutated, so the returned value is safe to read concurrently.
func (s *Service) Snapshot() fleet.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SelectBus marks a bus as the current bus of interest. An empty id
// clears the selection; an unknown id is ErrBusNotFound.
func (s *Service) SelectBus(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.selected = ""
		return nil
	}
	if _, ok := s.snapshot.Bus(id); !ok {
		return fmt.Errorf("%w: %s", ErrBusNotFound, id)
	}
	s.selected = id
	return nil
}

// SelectedBus returns the currently selected bus, if any.
func (s *Service) SelectedBus() (fleet.Bus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return fleet.Bus{}, false
	}
	return s.snapshot.Bus(s.selected)
}

// LastError returns the non-blocking error flag from the most recent
// poll cycle (nil after a clean cycle).
func (s *Service) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Loading reports whether a refresh is in flight.
func (s *Service) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Dispatcher exposes the notification dispatcher to the API layer.
func (s *Service) Dispatcher() *notify.Dispatcher {
	return s.dispatcher
}

// Ledger exposes the arrival ledger (read-only use).
func (s *Service) Ledger() *geofence.Ledger {
	return s.ledger
}

func (s *Service) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Service) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}
