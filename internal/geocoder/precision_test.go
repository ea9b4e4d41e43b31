package geocoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

func TestGooglePrecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   googleResult
		want story.Precision
	}{
		{
			name: "rooftop is address",
			in:   googleResult{Geometry: googleGeometry{LocationType: "ROOFTOP"}},
			want: story.PrecisionAddress,
		},
		{
			name: "range interpolated is street",
			in:   googleResult{Geometry: googleGeometry{LocationType: "RANGE_INTERPOLATED"}},
			want: story.PrecisionStreet,
		},
		{
			name: "geometric center with locality is city",
			in: googleResult{
				Geometry:          googleGeometry{LocationType: "GEOMETRIC_CENTER"},
				AddressComponents: []googleComponent{{Types: []string{"locality", "political"}}},
			},
			want: story.PrecisionCity,
		},
		{
			name: "approximate with admin area is region",
			in: googleResult{
				Geometry:          googleGeometry{LocationType: "APPROXIMATE"},
				AddressComponents: []googleComponent{{Types: []string{"administrative_area_level_1"}}},
			},
			want: story.PrecisionRegion,
		},
		{
			name: "approximate with only country component is country",
			in: googleResult{
				Geometry:          googleGeometry{LocationType: "APPROXIMATE"},
				AddressComponents: []googleComponent{{Types: []string{"country", "political"}}},
			},
			want: story.PrecisionCountry,
		},
		{
			name: "geometric center with premise is address",
			in: googleResult{
				Geometry:          googleGeometry{LocationType: "GEOMETRIC_CENTER"},
				AddressComponents: []googleComponent{{Types: []string{"premise"}}},
			},
			want: story.PrecisionAddress,
		},
		{
			name: "unknown location type defaults to city",
			in:   googleResult{Geometry: googleGeometry{LocationType: ""}},
			want: story.PrecisionCity,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, googlePrecision(tt.in))
		})
	}
}

func TestNominatimPrecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   nominatimResult
		want story.Precision
	}{
		{
			name: "house number is address",
			in:   nominatimResult{Address: nominatimAddress{HouseNumber: "2066", Road: "Crist Dr"}},
			want: story.PrecisionAddress,
		},
		{
			name: "house type is address",
			in:   nominatimResult{Type: "house"},
			want: story.PrecisionAddress,
		},
		{
			name: "road only is street",
			in:   nominatimResult{Address: nominatimAddress{Road: "Bandley Dr"}},
			want: story.PrecisionStreet,
		},
		{
			name: "town is city",
			in:   nominatimResult{Address: nominatimAddress{Town: "Los Altos"}},
			want: story.PrecisionCity,
		},
		{
			name: "village is city",
			in:   nominatimResult{Address: nominatimAddress{Village: "Woodside"}},
			want: story.PrecisionCity,
		},
		{
			name: "state only is region",
			in:   nominatimResult{Address: nominatimAddress{State: "California"}},
			want: story.PrecisionRegion,
		},
		{
			name: "country only is country",
			in:   nominatimResult{Address: nominatimAddress{Country: "United States"}},
			want: story.PrecisionCountry,
		},
		{
			name: "empty defaults to city",
			in:   nominatimResult{},
			want: story.PrecisionCity,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, nominatimPrecision(tt.in))
		})
	}
}
