package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geofence"
)

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("fleet-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PositionMessage is the per-bus live state consumed by external
// display widgets.
type PositionMessage struct {
	BusID      string    `json:"busId"`
	BusNumber  string    `json:"busNumber"`
	Route      string    `json:"route"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SpeedKmh   float64   `json:"speedKmh"`
	NextStop   string    `json:"nextStop"`
	ETA        time.Time `json:"eta"`
	CrowdLevel string    `json:"crowdLevel"`
	Stale      bool      `json:"stale"`
}

// PublishSnapshot publishes one position message per bus under
// fleet.position.<bus>.
func (p *NATSPublisher) PublishSnapshot(snap fleet.Snapshot) {
	for _, bus := range snap.Buses {
		msg := PositionMessage{
			BusID:      bus.ID,
			BusNumber:  bus.Number,
			Route:      bus.Route,
			Timestamp:  snap.UpdatedAt,
			Lat:        bus.Location.Lat,
			Lon:        bus.Location.Lon,
			SpeedKmh:   bus.SpeedKmh,
			NextStop:   bus.NextStop,
			ETA:        bus.EstimatedArrival,
			CrowdLevel: string(bus.Occupancy.CrowdLevel),
			Stale:      bus.Stale,
		}
		subject := fmt.Sprintf("fleet.position.%s", subjectToken(bus.ID))
		if err := p.publish(subject, msg); err != nil {
			log.Printf("publish error for bus %s: %v", bus.ID, err)
		}
	}
}

// PublishArrival publishes a first-time arrival event under
// fleet.arrival.<bus>.<stop>.
func (p *NATSPublisher) PublishArrival(ev geofence.Event) {
	subject := fmt.Sprintf("fleet.arrival.%s.%s", subjectToken(ev.BusID), subjectToken(ev.StopName))
	if err := p.publish(subject, ev); err != nil {
		log.Printf("publish error for arrival %s/%s: %v", ev.BusID, ev.StopName, err)
	}
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
