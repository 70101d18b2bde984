// Package geo talks to a Nominatim-compatible geocoder: reverse lookups of
// the caller's coordinates and bounded searches for nearby hospitals.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const earthRadiusKm = 6371

// ErrNoPlaceName is returned when a reverse lookup succeeds but the address
// carries none of the fields used as a place name.
var ErrNoPlaceName = errors.New("geo: no usable place name in address")

// Hospital is a candidate hospital with its distance from the caller.
type Hospital struct {
	Name           string  `json:"name"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Config configures the geocoder client.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxResults int
}

// Client is a Nominatim HTTP client.
type Client struct {
	http       *resty.Client
	maxResults int
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &Client{
		http:       hc,
		maxResults: cfg.MaxResults,
		logger:     logger.With().Str("component", "geo").Logger(),
	}
}

type reverseResponse struct {
	Address map[string]string `json:"address"`
}

// ReverseGeocode returns the most specific of suburb, city, town or state for
// the coordinates.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	var out reverseResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":    formatCoord(lat),
			"lon":    formatCoord(lng),
			"format": "json",
		}).
		SetResult(&out).
		Get("/reverse")
	if err != nil {
		return "", fmt.Errorf("geo: reverse lookup: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("geo: reverse lookup: status %d", resp.StatusCode())
	}

	for _, key := range []string{"suburb", "city", "town", "state"} {
		if v := strings.TrimSpace(out.Address[key]); v != "" {
			return v, nil
		}
	}
	return "", ErrNoPlaceName
}

type searchResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// SearchHospitals returns hospitals inside a square box of radiusKm around
// the coordinates, deduplicated by name. Results are in provider order.
func (c *Client) SearchHospitals(ctx context.Context, lat, lng, radiusKm float64) ([]Hospital, error) {
	deg := radiusKm / 111.0
	viewbox := fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(lng-deg), formatCoord(lat+deg), formatCoord(lng+deg), formatCoord(lat-deg))

	var results []searchResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":              "hospital",
			"format":         "json",
			"limit":          strconv.Itoa(c.maxResults),
			"viewbox":        viewbox,
			"bounded":        "1",
			"addressdetails": "0",
		}).
		SetResult(&results).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("geo: hospital search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("geo: hospital search: status %d", resp.StatusCode())
	}

	seen := make(map[string]struct{}, len(results))
	hospitals := make([]Hospital, 0, len(results))
	for _, r := range results {
		name := strings.TrimSpace(strings.SplitN(r.DisplayName, ",", 2)[0])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		hLat, _ := strconv.ParseFloat(r.Lat, 64)
		hLon, _ := strconv.ParseFloat(r.Lon, 64)
		hospitals = append(hospitals, Hospital{
			Name:           name,
			DistanceMeters: DistanceMeters(lat, lng, hLat, hLon),
		})
	}

	c.logger.Debug().Float64("radius_km", radiusKm).Int("results", len(hospitals)).Msg("hospital search")
	return hospitals, nil
}

// DistanceMeters is the great-circle distance between two points, rounded
// to centimetres.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(earthRadiusKm*c*1000*100) / 100
}

// DemoHospitals is the fixed list used when the geocoder cannot be reached.
func DemoHospitals() []Hospital {
	return []Hospital{
		{Name: "City General Hospital", DistanceMeters: 900},
		{Name: "Apollo Multispeciality", DistanceMeters: 1800},
		{Name: "Metro Emergency Care", DistanceMeters: 2600},
		{Name: "LifeLine Medical Center", DistanceMeters: 3400},
		{Name: "Sunrise Health Institute", DistanceMeters: 4100},
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
