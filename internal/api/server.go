package api

import (
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"time"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/tracker"
)

// Server is the HTTP surface consumed by the map/display widget. It
// only reads published snapshots and forwards user actions; all fleet
// computation stays in the tracker.
type Server struct {
	svc *tracker.Service
}

func NewServer(svc *tracker.Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/fleet", s.handleFleet)
	mux.HandleFunc("GET /api/buses/{id}", s.handleBus)
	mux.HandleFunc("GET /api/buses/{id}/stops", s.handleBusStops)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/selected", s.handleSelectedGet)
	mux.HandleFunc("POST /api/selected", s.handleSelectedSet)
	mux.HandleFunc("GET /api/subscriptions", s.handleSubscriptionsGet)
	mux.HandleFunc("POST /api/subscriptions", s.handleSubscribe)
	mux.HandleFunc("DELETE /api/subscriptions", s.handleUnsubscribe)
	mux.HandleFunc("POST /api/notifications/permission", s.handlePermission)
	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	return mux
}

// Serve starts the API server on the given address.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()
	log.Printf("api listening on %s", addr)
	return srv
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type fleetResponse struct {
	Buses     []fleet.Bus `json:"buses"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Loading   bool        `json:"loading"`
	Error     string      `json:"error,omitempty"`
}

func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Snapshot()
	resp := fleetResponse{
		Buses:     snap.Buses,
		UpdatedAt: snap.UpdatedAt,
		Loading:   s.svc.Loading(),
	}
	if err := s.svc.LastError(); err != nil {
		resp.Error = "failed to fetch bus data"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	bus, ok := s.svc.Snapshot().Bus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "bus not found")
		return
	}
	writeJSON(w, http.StatusOK, bus)
}

type stopProgress struct {
	Name               string           `json:"name"`
	Status             fleet.StopStatus `json:"status"`
	ScheduledArrival   string           `json:"scheduledArrival"`
	ScheduledDeparture string           `json:"scheduledDeparture"`
	EstimatedArrival   time.Time        `json:"estimatedArrival"`
}

func (s *Server) handleBusStops(w http.ResponseWriter, r *http.Request) {
	bus, ok := s.svc.Snapshot().Bus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "bus not found")
		return
	}
	statuses := fleet.StopStatuses(bus.Stops, bus.NextStop)
	progress := make([]stopProgress, len(bus.Stops))
	for i, st := range bus.Stops {
		progress[i] = stopProgress{
			Name:               st.Name,
			Status:             statuses[i],
			ScheduledArrival:   st.ScheduledArrival,
			ScheduledDeparture: st.ScheduledDeparture,
			EstimatedArrival:   st.EstimatedArrival,
		}
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	destination := r.URL.Query().Get("destination")
	if source == "" || destination == "" {
		writeError(w, http.StatusBadRequest, "source and destination are required")
		return
	}
	buses := s.svc.Snapshot().FindBuses(source, destination)
	if buses == nil {
		buses = []fleet.Bus{}
	}
	writeJSON(w, http.StatusOK, buses)
}

func (s *Server) handleSelectedGet(w http.ResponseWriter, r *http.Request) {
	bus, ok := s.svc.SelectedBus()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"selected": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"selected": bus})
}

func (s *Server) handleSelectedSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.SelectBus(req.ID); err != nil {
		if errors.Is(err, tracker.ErrBusNotFound) {
			writeError(w, http.StatusNotFound, "bus not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscriptionsGet(w http.ResponseWriter, r *http.Request) {
	d := s.svc.Dispatcher()
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions":        d.Subscriptions(),
		"notificationsEnabled": d.Enabled(),
	})
}

type subscriptionRequest struct {
	BusID    string `json:"busId"`
	StopName string `json:"stopName"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BusID == "" || req.StopName == "" {
		writeError(w, http.StatusBadRequest, "busId and stopName are required")
		return
	}
	subscribed, err := s.svc.Dispatcher().Subscribe(r.Context(), req.BusID, req.StopName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"subscribed": subscribed})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BusID == "" || req.StopName == "" {
		writeError(w, http.StatusBadRequest, "busId and stopName are required")
		return
	}
	s.svc.Dispatcher().Unsubscribe(req.BusID, req.StopName)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	granted, err := s.svc.Dispatcher().RequestPermission(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

// Feedback is an out-of-scope collaborator: the record is accepted and
// acknowledged with a generated id, nothing more.
type feedbackRequest struct {
	BusNumber     string `json:"busNumber"`
	Rating        int    `json:"rating"`
	Review        string `json:"review"`
	TimelyArrival bool   `json:"timelyArrival"`
	Cleanliness   int    `json:"cleanliness"`
	DriverBehav   int    `json:"driverBehavior"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BusNumber == "" {
		writeError(w, http.StatusBadRequest, "busNumber is required")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":        feedbackID(),
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	})
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func feedbackID() string {
	b := make([]byte, 9)
	for i := range b {
		b[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return "FB" + string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
