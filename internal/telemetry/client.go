package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
)

// Sentinel errors for telemetry failures. Callers recover by keeping
// the last-known snapshot; no raw transport error escapes this package.
var (
	// ErrUnavailable covers network failures and non-200 responses.
	ErrUnavailable = errors.New("telemetry unavailable")
	// ErrMalformed covers payloads that decode but fail validation:
	// a missing feed sample, or a required field that is absent,
	// blank, or non-numeric.
	ErrMalformed = errors.New("telemetry malformed")
)

const DefaultBaseURL = "https://api.thingspeak.com"

// Channel identifies one telemetry feed (a ThingSpeak channel).
type Channel struct {
	ID     string
	APIKey string
}

// Client fetches the latest sample from position and seat-sensor
// feeds. It never retries; repoll cadence is owned by the orchestrator.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

// feedResponse mirrors the feed wire format: the single latest sample
// as a record of numbered text fields.
type feedResponse struct {
	Feeds []feedEntry `json:"feeds"`
}

type feedEntry struct {
	CreatedAt time.Time `json:"created_at"`
	Field1    string    `json:"field1"`
	Field2    string    `json:"field2"`
	Field3    string    `json:"field3"`
}

// FetchPosition reads the latest GPS sample from a position channel
// (field1=lat, field2=lng, field3=speed km/h).
func (c *Client) FetchPosition(ctx context.Context, ch Channel) (*fleet.PositionReading, error) {
	entry, err := c.fetchLatest(ctx, ch)
	if err != nil {
		return nil, err
	}

	lat, err := numericField("latitude", entry.Field1)
	if err != nil {
		return nil, err
	}
	lon, err := numericField("longitude", entry.Field2)
	if err != nil {
		return nil, err
	}
	speed, err := numericField("speed", entry.Field3)
	if err != nil {
		return nil, err
	}

	return &fleet.PositionReading{
		Location:   geo.Coordinate{Lat: lat, Lon: lon},
		SpeedKmh:   speed,
		RecordedAt: entry.CreatedAt,
	}, nil
}

// FetchOccupancy reads the latest seat-sensor sample from an occupancy
// channel (field1=total, field2=occupied, field3=available). Counts
// are reported as-is; sensor noise can make them inconsistent.
func (c *Client) FetchOccupancy(ctx context.Context, ch Channel) (*fleet.OccupancyReading, error) {
	entry, err := c.fetchLatest(ctx, ch)
	if err != nil {
		return nil, err
	}

	total, err := integerField("total seats", entry.Field1)
	if err != nil {
		return nil, err
	}
	occupied, err := integerField("occupied seats", entry.Field2)
	if err != nil {
		return nil, err
	}
	available, err := integerField("available seats", entry.Field3)
	if err != nil {
		return nil, err
	}

	return &fleet.OccupancyReading{
		TotalSeats:     total,
		PassengerCount: occupied,
		AvailableSeats: available,
		RecordedAt:     entry.CreatedAt,
	}, nil
}

// FetchBus performs one full telemetry round trip for a bus: both
// independent feeds, all-or-nothing. If either endpoint fails the
// whole operation fails and the caller falls back to its last-known
// snapshot.
func (c *Client) FetchBus(ctx context.Context, position, occupancy Channel) (fleet.Reading, error) {
	pos, err := c.FetchPosition(ctx, position)
	if err != nil {
		return fleet.Reading{}, fmt.Errorf("position feed: %w", err)
	}
	occ, err := c.FetchOccupancy(ctx, occupancy)
	if err != nil {
		return fleet.Reading{}, fmt.Errorf("occupancy feed: %w", err)
	}
	return fleet.Reading{Position: pos, Occupancy: occ}, nil
}

func (c *Client) fetchLatest(ctx context.Context, ch Channel) (feedEntry, error) {
	url := fmt.Sprintf("%s/channels/%s/feeds.json?api_key=%s&results=1", c.baseURL, ch.ID, ch.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return feedEntry{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return feedEntry{}, fmt.Errorf("%w: channel %s: %v", ErrUnavailable, ch.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return feedEntry{}, fmt.Errorf("%w: channel %s: status %d", ErrUnavailable, ch.ID, resp.StatusCode)
	}

	var fr feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return feedEntry{}, fmt.Errorf("%w: channel %s: %v", ErrMalformed, ch.ID, err)
	}
	if len(fr.Feeds) == 0 {
		return feedEntry{}, fmt.Errorf("%w: channel %s: no samples", ErrMalformed, ch.ID)
	}

	return fr.Feeds[0], nil
}

// numericField validates one untyped text field into a float. Missing
// or non-numeric values fail loudly instead of coercing to NaN.
func numericField(name, raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: missing field %s", ErrMalformed, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %q is not numeric", ErrMalformed, name, raw)
	}
	return v, nil
}

func integerField(name, raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: missing field %s", ErrMalformed, name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %q is not an integer", ErrMalformed, name, raw)
	}
	return v, nil
}
