package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"fleet-tracker/internal/geofence"
	"fleet-tracker/internal/subs"
)

// Permission is the platform notification permission state.
type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

// ErrPermissionDenied is returned when the user has declined platform
// notifications.
var ErrPermissionDenied = errors.New("notification permission denied")

// DispatcherMetrics is the subset of metrics the dispatcher records.
type DispatcherMetrics interface {
	NotificationSent(channel string)
	NotificationErr()
	SubscriptionsSet(n int)
}

// Dispatcher turns deduplicated arrival events and user subscriptions
// into alerts. The in-app channel (log) always fires; the platform
// channel requires granted permission. Subscriptions are persisted
// through the store on every change, full-replace.
type Dispatcher struct {
	notifier Notifier
	store    subs.Store
	metrics  DispatcherMetrics

	mu            sync.Mutex
	permission    Permission
	subscriptions []subs.Subscription
	deniedLogged  bool
}

// NewDispatcher loads the persisted subscription set. Corrupt or
// unreadable stored data resets to an empty set; that is logged, never
// surfaced.
func NewDispatcher(notifier Notifier, store subs.Store, metrics DispatcherMetrics) *Dispatcher {
	d := &Dispatcher{
		notifier:   notifier,
		store:      store,
		metrics:    metrics,
		permission: PermissionUndetermined,
	}

	loaded, err := store.Load()
	if err != nil {
		if errors.Is(err, subs.ErrCorrupt) {
			log.Printf("stored subscriptions corrupt, resetting: %v", err)
		} else {
			log.Printf("cannot load subscriptions, starting empty: %v", err)
		}
		loaded = nil
	}
	d.subscriptions = loaded
	if metrics != nil {
		metrics.SubscriptionsSet(len(loaded))
	}
	return d
}

func (d *Dispatcher) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// Enabled reports whether platform notifications may be raised.
func (d *Dispatcher) Enabled() bool {
	return d.Permission() == PermissionGranted
}

// RequestPermission asks the platform for notification permission.
// This is a user-initiated action; a denial is logged once and not
// retried automatically.
func (d *Dispatcher) RequestPermission(ctx context.Context) (bool, error) {
	granted, err := d.notifier.RequestPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("request notification permission: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if granted {
		d.permission = PermissionGranted
		log.Printf("notifications enabled")
	} else {
		d.permission = PermissionDenied
		if !d.deniedLogged {
			log.Printf("notification permission denied; arrival alerts stay in-app only")
			d.deniedLogged = true
		}
	}
	return granted, nil
}

// Subscribe registers an arrival alert for (busID, stopName). When
// notifications are not yet enabled it triggers a permission request
// instead of subscribing and reports false. Subscribing to an existing
// key is a no-op.
func (d *Dispatcher) Subscribe(ctx context.Context, busID, stopName string) (bool, error) {
	if !d.Enabled() {
		if _, err := d.RequestPermission(ctx); err != nil {
			return false, err
		}
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasLocked(busID, stopName) {
		return true, nil
	}
	d.subscriptions = append(d.subscriptions, subs.Subscription{BusID: busID, StopName: stopName})
	d.persistLocked()
	log.Printf("subscribed to bus %s at %s", busID, stopName)
	return true, nil
}

// Unsubscribe removes the alert for (busID, stopName). Removing an
// absent key is a no-op, not an error.
func (d *Dispatcher) Unsubscribe(busID, stopName string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.subscriptions[:0]
	removed := false
	for _, s := range d.subscriptions {
		if s.BusID == busID && s.StopName == stopName {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	d.subscriptions = kept
	if removed {
		d.persistLocked()
		log.Printf("unsubscribed from bus %s at %s", busID, stopName)
	}
}

func (d *Dispatcher) HasSubscription(busID, stopName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasLocked(busID, stopName)
}

// Subscriptions returns a copy of the current set.
func (d *Dispatcher) Subscriptions() []subs.Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]subs.Subscription, len(d.subscriptions))
	copy(out, d.subscriptions)
	return out
}

// PruneBuses drops subscriptions whose bus is no longer part of the
// fleet.
func (d *Dispatcher) PruneBuses(known func(busID string) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.subscriptions[:0]
	pruned := 0
	for _, s := range d.subscriptions {
		if known(s.BusID) {
			kept = append(kept, s)
		} else {
			pruned++
		}
	}
	if pruned > 0 {
		d.subscriptions = kept
		d.persistLocked()
		log.Printf("pruned %d subscription(s) for departed buses", pruned)
	}
}

// HandleArrival raises alerts for one deduplicated arrival event. The
// caller guarantees at-most-once delivery per (bus, stop) via the
// geofence ledger. The in-app channel always fires; the platform
// channel only with granted permission, with subscription-specific
// wording when the key matches.
func (d *Dispatcher) HandleArrival(ev geofence.Event) {
	subscribed := d.HasSubscription(ev.BusID, ev.StopName)

	// in-app channel
	log.Printf("bus %s reached %s (%.1f m)", ev.BusNumber, ev.StopName, ev.DistanceM)
	if d.metrics != nil {
		d.metrics.NotificationSent("inapp")
	}

	if !d.Enabled() {
		d.mu.Lock()
		if d.permission == PermissionDenied && !d.deniedLogged {
			log.Printf("notification permission denied; arrival alerts stay in-app only")
			d.deniedLogged = true
		}
		d.mu.Unlock()
		return
	}

	title := fmt.Sprintf("Bus %s arrived", ev.BusNumber)
	body := fmt.Sprintf("Reached %s", ev.StopName)
	if subscribed {
		title = fmt.Sprintf("Bus %s is at your stop", ev.BusNumber)
		body = fmt.Sprintf("Now at %s", ev.StopName)
	}

	if err := d.notifier.Notify(title, body); err != nil {
		log.Printf("platform notification failed: %v", err)
		if d.metrics != nil {
			d.metrics.NotificationErr()
		}
		return
	}
	if d.metrics != nil {
		d.metrics.NotificationSent("platform")
	}
}

func (d *Dispatcher) hasLocked(busID, stopName string) bool {
	for _, s := range d.subscriptions {
		if s.BusID == busID && s.StopName == stopName {
			return true
		}
	}
	return false
}

// persistLocked writes the full set; storage failures are logged and
// the in-memory set stays authoritative for the session.
func (d *Dispatcher) persistLocked() {
	if err := d.store.Save(d.subscriptions); err != nil {
		log.Printf("cannot persist subscriptions: %v", err)
	}
	if d.metrics != nil {
		d.metrics.SubscriptionsSet(len(d.subscriptions))
	}
}
