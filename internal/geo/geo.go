package geo

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371e3

// Coordinate is a WGS 84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

// DistanceMeters returns the haversine great-circle distance between a and b.
// The result is always finite and non-negative; identical points yield 0.
func DistanceMeters(a, b Coordinate) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// EstimateArrival projects when a vehicle at from, moving at speedKmh,
// reaches to. A non-positive speed means the vehicle is treated as
// stationary and now is returned unchanged. The caller supplies now so
// that every estimate in one reconciliation pass shares a single clock
// sample.
func EstimateArrival(from, to Coordinate, speedKmh float64, now time.Time) time.Time {
	if speedKmh <= 0 {
		return now
	}
	hours := DistanceMeters(from, to) / 1000 / speedKmh
	return now.Add(time.Duration(hours * float64(time.Hour)))
}
