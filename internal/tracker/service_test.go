package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/notify"
	"fleet-tracker/internal/subs"
	"fleet-tracker/internal/telemetry"
)

// feedHandler serves both telemetry channels for one bus and lets a
// test swap payloads or fail entire channels mid-run.
type feedHandler struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (h *feedHandler) set(channelID, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bodies["/channels/"+channelID+"/feeds.json"] = body
}

func (h *feedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	body, ok := h.bodies[r.URL.Path]
	h.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, body)
}

func positionBody(lat, lon, speed float64) string {
	return fmt.Sprintf(`{"feeds":[{"field1":"%f","field2":"%f","field3":"%f"}]}`, lat, lon, speed)
}

func seatBody(total, occupied, available int) string {
	return fmt.Sprintf(`{"feeds":[{"field1":"%d","field2":"%d","field3":"%d"}]}`, total, occupied, available)
}

func testFleet() *config.FleetFile {
	return &config.FleetFile{Buses: []config.BusConfig{{
		ID:              "bus-1",
		Route:           "A - C",
		Number:          "TN72-M5267",
		PositionChannel: config.ChannelConfig{ID: "100"},
		SeatChannel:     config.ChannelConfig{ID: "200"},
		Stops: []config.StopConfig{
			{Name: "A", Lat: 8.703608, Lon: 77.727452},
			{Name: "B", Lat: 8.696473, Lon: 77.727235},
			{Name: "C", Lat: 8.685407, Lon: 77.724927},
		},
	}}}
}

func newTestService(t *testing.T, h *feedHandler) *Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		FleetPollInterval: 5 * time.Second,
		SeatPollInterval:  10 * time.Second,
		StaleAfterPolls:   3,
		GeofenceRadiusM:   100,
	}
	store := subs.NewFileStore(filepath.Join(t.TempDir(), "subscriptions.json"))
	dispatcher := notify.NewDispatcher(notify.DisabledNotifier{}, store, nil)
	client := telemetry.NewClient(srv.URL)

	return New(cfg, testFleet(), client, dispatcher, nil, nil)
}

func TestInitialSnapshot(t *testing.T) {
	s := newTestService(t, &feedHandler{bodies: map[string]string{}})

	snap := s.Snapshot()
	if len(snap.Buses) != 1 {
		t.Fatalf("buses = %d, want 1", len(snap.Buses))
	}
	bus := snap.Buses[0]
	if bus.Location != bus.Stops[0].Location {
		t.Errorf("bus should start at its first stop, got %+v", bus.Location)
	}
	if bus.NextStop != "B" {
		t.Errorf("next stop = %q, want B", bus.NextStop)
	}
}

func TestRefreshAppliesTelemetry(t *testing.T) {
	h := &feedHandler{bodies: map[string]string{}}
	h.set("100", positionBody(8.700000, 77.727300, 28))
	h.set("200", seatBody(54, 40, 14))
	s := newTestService(t, h)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	bus := s.Snapshot().Buses[0]
	if bus.SpeedKmh != 28 {
		t.Errorf("speed = %f, want 28", bus.SpeedKmh)
	}
	if bus.Occupancy.AvailableSeats != 14 {
		t.Errorf("occupancy = %+v", bus.Occupancy)
	}
	if bus.Stale || bus.MissedPolls != 0 {
		t.Errorf("bus should be fresh: %+v", bus)
	}
	if err := s.LastError(); err != nil {
		t.Errorf("LastError = %v, want nil", err)
	}
}

func TestRefreshKeepsSnapshotOnTotalFailure(t *testing.T) {
	h := &feedHandler{bodies: map[string]string{}}
	h.set("100", positionBody(8.700000, 77.727300, 28))
	h.set("200", seatBody(54, 40, 14))
	s := newTestService(t, h)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot()

	// both channels go dark
	h.mu.Lock()
	h.bodies = map[string]string{}
	h.mu.Unlock()

	err := s.Refresh(context.Background())
	if err == nil {
		t.Fatalf("Refresh should fail when every bus is unreachable")
	}
	if !errors.Is(err, telemetry.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}

	after := s.Snapshot()
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("snapshot was replaced on a total failure")
	}
	if after.Buses[0].Location != before.Buses[0].Location {
		t.Errorf("last-known position was lost")
	}
	if s.LastError() == nil {
		t.Errorf("error flag not set")
	}

	// recovery clears the flag
	h.set("100", positionBody(8.700000, 77.727300, 30))
	h.set("200", seatBody(54, 40, 14))
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.LastError() != nil {
		t.Errorf("error flag not cleared after recovery")
	}
}

func TestRefreshDispatchesArrivalOnce(t *testing.T) {
	h := &feedHandler{bodies: map[string]string{}}
	h.set("200", seatBody(54, 40, 14))
	s := newTestService(t, h)

	// departure from A
	h.set("100", positionBody(8.703608, 77.727452, 0))
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.Ledger().Has("bus-1", "A") {
		t.Fatalf("arrival at A not recorded")
	}

	// parked at B across several polls
	h.set("100", positionBody(8.696473, 77.727235, 0))
	for i := 0; i < 3; i++ {
		if err := s.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if !s.Ledger().Has("bus-1", "B") {
		t.Errorf("arrival at B not recorded")
	}
	if got := s.Ledger().Len(); got != 2 {
		t.Errorf("ledger entries = %d, want 2 (repolls must not re-trigger)", got)
	}
	// A and B are passed, so C becomes the next stop
	if got := s.Snapshot().Buses[0].NextStop; got != "C" {
		t.Errorf("next stop = %q, want C", got)
	}
}

func TestRefreshOccupancyLeavesPositionAlone(t *testing.T) {
	h := &feedHandler{bodies: map[string]string{}}
	h.set("100", positionBody(8.700000, 77.727300, 28))
	h.set("200", seatBody(54, 40, 14))
	s := newTestService(t, h)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot().Buses[0]

	h.set("200", seatBody(54, 50, 4))
	if err := s.RefreshOccupancy(context.Background()); err != nil {
		t.Fatal(err)
	}

	bus := s.Snapshot().Buses[0]
	if bus.Occupancy.AvailableSeats != 4 {
		t.Errorf("occupancy not applied: %+v", bus.Occupancy)
	}
	if bus.Location != before.Location || bus.SpeedKmh != before.SpeedKmh {
		t.Errorf("seat poll touched position state")
	}
	if bus.MissedPolls != before.MissedPolls {
		t.Errorf("seat poll touched missed-poll counter")
	}
}

func TestRefreshCancelledContext(t *testing.T) {
	h := &feedHandler{bodies: map[string]string{}}
	h.set("100", positionBody(8.700000, 77.727300, 28))
	h.set("200", seatBody(54, 40, 14))
	s := newTestService(t, h)

	before := s.Snapshot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Refresh(ctx); err == nil {
		t.Fatalf("Refresh with cancelled context should fail")
	}
	if !s.Snapshot().UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("cancelled refresh must not swap the snapshot")
	}
}

func TestSelectBus(t *testing.T) {
	s := newTestService(t, &feedHandler{bodies: map[string]string{}})

	if err := s.SelectBus("bus-9"); !errors.Is(err, ErrBusNotFound) {
		t.Errorf("error = %v, want ErrBusNotFound", err)
	}
	if _, ok := s.SelectedBus(); ok {
		t.Errorf("failed selection must not stick")
	}

	if err := s.SelectBus("bus-1"); err != nil {
		t.Fatalf("SelectBus: %v", err)
	}
	bus, ok := s.SelectedBus()
	if !ok || bus.ID != "bus-1" {
		t.Errorf("SelectedBus = %+v, %v", bus, ok)
	}

	if err := s.SelectBus(""); err != nil {
		t.Fatalf("clearing selection: %v", err)
	}
	if _, ok := s.SelectedBus(); ok {
		t.Errorf("selection not cleared")
	}
}
