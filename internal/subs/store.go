package subs

import "errors"

// ErrCorrupt means the persisted subscription blob could not be
// decoded. Callers recover by resetting to an empty set; it is logged,
// never fatal.
var ErrCorrupt = errors.New("subscription store corrupt")

// Subscription is one (bus, stop) pair the user wants an arrival
// alert for. The set has no duplicates.
type Subscription struct {
	BusID    string `json:"busId"`
	StopName string `json:"stopName"`
}

// Store persists the full subscription set. Save writes are
// full-replace, never incremental, so there is no partial-write
// hazard beyond the medium's own atomicity.
type Store interface {
	Load() ([]Subscription, error)
	Save(subscriptions []Subscription) error
}
