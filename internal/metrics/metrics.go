package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	BusesTracked prometheus.Gauge
	StaleBuses   prometheus.Gauge

	PollCycles   *prometheus.CounterVec // feed label: fleet|occupancy
	PollErrors   *prometheus.CounterVec // feed label: fleet|occupancy
	PollDuration prometheus.Histogram

	GeofenceEvents prometheus.Counter
	ArrivalLedger  prometheus.Gauge

	Notifications    *prometheus.CounterVec // channel label: inapp|platform
	NotificationErrs prometheus.Counter
	Subscriptions    prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	FleetPollInterval prometheus.Gauge // seconds
	SeatPollInterval  prometheus.Gauge // seconds
	GeofenceRadius    prometheus.Gauge // meters
}

func NewCollector(fleetInterval, seatInterval time.Duration, geofenceRadius float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		BusesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_buses_tracked",
			Help: "Number of buses in the fleet snapshot.",
		}),
		StaleBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_buses_stale",
			Help: "Number of buses marked stale after missed polls.",
		}),
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_poll_cycles_total",
			Help: "Total completed poll cycles.",
		}, []string{"feed"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_poll_errors_total",
			Help: "Total poll cycles that failed for at least one bus.",
		}, []string{"feed"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_poll_duration_seconds",
			Help:    "Duration of fetch plus reconciliation per cycle.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		GeofenceEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_geofence_events_total",
			Help: "Total first-time arrival events.",
		}),
		ArrivalLedger: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_arrival_ledger_size",
			Help: "Number of (bus, stop) keys in the arrival dedup ledger.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_notifications_total",
			Help: "Total notifications raised, by channel.",
		}, []string{"channel"}),
		NotificationErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_notification_errors_total",
			Help: "Total platform notification failures.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_subscriptions",
			Help: "Number of active stop subscriptions.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		FleetPollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_fleet_poll_interval_seconds",
			Help: "Fleet (position) poll interval in seconds.",
		}),
		SeatPollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_seat_poll_interval_seconds",
			Help: "Seat-sensor poll interval in seconds.",
		}),
		GeofenceRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_geofence_radius_meters",
			Help: "Arrival geofence radius in meters.",
		}),
	}

	// Register
	reg.MustRegister(
		c.BusesTracked, c.StaleBuses,
		c.PollCycles, c.PollErrors, c.PollDuration,
		c.GeofenceEvents, c.ArrivalLedger,
		c.Notifications, c.NotificationErrs, c.Subscriptions,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.FleetPollInterval, c.SeatPollInterval, c.GeofenceRadius,
	)

	c.FleetPollInterval.Set(fleetInterval.Seconds())
	c.SeatPollInterval.Set(seatInterval.Seconds())
	c.GeofenceRadius.Set(geofenceRadius)

	return c
}

// Interface adapters used by the publisher and dispatcher.

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) NotificationSent(channel string) { c.Notifications.WithLabelValues(channel).Inc() }
func (c *Collector) NotificationErr()                { c.NotificationErrs.Inc() }
func (c *Collector) SubscriptionsSet(n int)          { c.Subscriptions.Set(float64(n)) }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
