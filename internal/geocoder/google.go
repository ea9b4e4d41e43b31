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

const googleBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleConfig controls the Google Maps geocoding provider.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Google geocodes through the Google Maps Geocoding API. Commercial,
// key-gated, highest accuracy in the cascade.
type Google struct {
	cfg    GoogleConfig
	client *http.Client
}

// NewGoogle builds a Google provider. The API key is required.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = googleBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Google{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the provider in provenance records.
func (g *Google) Name() string { return "google" }

type googleResponse struct {
	Status  string         `json:"status"`
	Results []googleResult `json:"results"`
}

type googleResult struct {
	FormattedAddress  string            `json:"formatted_address"`
	Geometry          googleGeometry    `json:"geometry"`
	AddressComponents []googleComponent `json:"address_components"`
}

type googleGeometry struct {
	Location     googleLatLng `json:"location"`
	LocationType string       `json:"location_type"`
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type googleComponent struct {
	Types []string `json:"types"`
}

// Geocode resolves a free-text address.
func (g *Google) Geocode(ctx context.Context, address string) (*story.GeocodeResult, error) {
	params := url.Values{}
	params.Set("address", address)
	return g.query(ctx, params)
}

// Reverse resolves coordinates to an address.
func (g *Google) Reverse(ctx context.Context, lat, lon float64) (*story.GeocodeResult, error) {
	params := url.Values{}
	params.Set("latlng", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lon, 'f', -1, 64))
	return g.query(ctx, params)
}

func (g *Google) query(ctx context.Context, params url.Values) (*story.GeocodeResult, error) {
	params.Set("key", g.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build google request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google status %d", resp.StatusCode)
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode google response: %w", err)
	}
	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, fmt.Errorf("google returned status %q", body.Status)
	}
	if len(body.Results) == 0 {
		return nil, nil
	}

	top := body.Results[0]
	return &story.GeocodeResult{
		Address:   top.FormattedAddress,
		Lat:       top.Geometry.Location.Lat,
		Lon:       top.Geometry.Location.Lng,
		Precision: googlePrecision(top),
		Source:    g.Name(),
	}, nil
}

// googlePrecision maps a Google result to one of the five precision tiers.
// Rooftop-accuracy geometry means a street address; interpolated ranges mean
// a street; geometric centers are classified by component types.
func googlePrecision(r googleResult) story.Precision {
	switch r.Geometry.LocationType {
	case "ROOFTOP":
		return story.PrecisionAddress
	case "RANGE_INTERPOLATED":
		return story.PrecisionStreet
	case "GEOMETRIC_CENTER", "APPROXIMATE":
		types := make(map[string]bool)
		for _, comp := range r.AddressComponents {
			for _, t := range comp.Types {
				types[t] = true
			}
		}
		switch {
		case types["street_address"] || types["premise"]:
			return story.PrecisionAddress
		case types["route"]:
			return story.PrecisionStreet
		case types["locality"] || types["postal_town"]:
			return story.PrecisionCity
		case types["administrative_area_level_1"]:
			return story.PrecisionRegion
		case types["country"]:
			return story.PrecisionCountry
		}
	}
	return story.PrecisionCity
}
