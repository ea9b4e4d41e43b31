package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

const nominatimBaseURL = "https://nominatim.openstreetmap.org"

// NominatimConfig controls the OpenStreetMap Nominatim provider.
type NominatimConfig struct {
	// UserAgent must identify the application and a contact address per the
	// Nominatim usage policy. Callers must also route requests through the
	// strict single-concurrency, 1 req/s limiter; violations risk a ban.
	UserAgent string
	BaseURL   string
	Timeout   time.Duration
}

// Nominatim geocodes through the free OpenStreetMap Nominatim API.
type Nominatim struct {
	cfg    NominatimConfig
	client *http.Client
}

// NewNominatim builds a Nominatim provider.
func NewNominatim(cfg NominatimConfig) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = nominatimBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "storyatlas/1.0"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Nominatim{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider in provenance records.
func (n *Nominatim) Name() string { return "nominatim" }

type nominatimResult struct {
	DisplayName string           `json:"display_name"`
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	Type        string           `json:"type"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	State       string `json:"state"`
	Region      string `json:"region"`
	Country     string `json:"country"`
}

// Geocode resolves a free-text address.
func (n *Nominatim) Geocode(ctx context.Context, address string) (*story.GeocodeResult, error) {
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("limit", "1")

	var results []nominatimResult
	if err := n.get(ctx, "/search", params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return n.toResult(results[0])
}

// Reverse resolves coordinates to an address.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (*story.GeocodeResult, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")

	var result nominatimResult
	if err := n.get(ctx, "/reverse", params, &result); err != nil {
		return nil, err
	}
	if result.DisplayName == "" {
		return nil, nil
	}
	return n.toResult(result)
}

func (n *Nominatim) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", n.cfg.UserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode nominatim response: %w", err)
	}
	return nil
}

func (n *Nominatim) toResult(r nominatimResult) (*story.GeocodeResult, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse nominatim lat %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse nominatim lon %q: %w", r.Lon, err)
	}
	return &story.GeocodeResult{
		Address:   r.DisplayName,
		Lat:       lat,
		Lon:       lon,
		Precision: nominatimPrecision(r),
		Source:    n.Name(),
	}, nil
}

// nominatimPrecision maps a Nominatim result to a precision tier by checking
// address components from most to least specific.
func nominatimPrecision(r nominatimResult) story.Precision {
	addr := r.Address
	switch {
	case addr.HouseNumber != "" || r.Type == "house":
		return story.PrecisionAddress
	case addr.Road != "" || r.Type == "road" || r.Type == "street":
		return story.PrecisionStreet
	case addr.City != "" || addr.Town != "" || addr.Village != "":
		return story.PrecisionCity
	case addr.State != "" || addr.Region != "":
		return story.PrecisionRegion
	case addr.Country != "":
		return story.PrecisionCountry
	}
	return story.PrecisionCity
}
