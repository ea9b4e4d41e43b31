// Package story defines core types shared across the resolution and
// clustering subsystems.
package story

import "time"

// Precision indicates how specific a resolved coordinate is.
type Precision string

// Precision tiers, from most to least specific.
const (
	PrecisionAddress Precision = "address"
	PrecisionStreet  Precision = "street"
	PrecisionCity    Precision = "city"
	PrecisionRegion  Precision = "region"
	PrecisionCountry Precision = "country"
)

// Valid reports whether p is one of the five known precision tiers.
func (p Precision) Valid() bool {
	switch p {
	case PrecisionAddress, PrecisionStreet, PrecisionCity, PrecisionRegion, PrecisionCountry:
		return true
	}
	return false
}

// Location is one place mention extracted from a story. Identity is
// (StoryID, LocIdx). Fields other than the resolution state are immutable
// once extracted.
type Location struct {
	StoryID      string
	LocIdx       int
	PlaceName    string
	PlaceType    string
	Note         string
	Lat          *float64
	Lon          *float64
	GeoPrecision string

	// Story context carried along for LLM prompts.
	StoryTitle   string
	StorySummary string

	// Current resolution state, nil/zero until a resolution succeeds.
	ResolvedAddress      *string
	ResolutionConfidence *float64
}

// ResolutionSource is the structured provenance recorded with a resolution.
type ResolutionSource struct {
	Tier          string   `json:"tier,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	URL           string   `json:"url"`
	Snippet       string   `json:"snippet"`
	Geocoder      *string  `json:"geocoder"`
	IsResidence   bool     `json:"is_residence"`
	Corroboration []string `json:"corroboration"`
	Concerns      []string `json:"concerns"`
}

// Resolution is the outcome of running a Location through the resolver.
// A Location has at most one current Resolution; re-resolving overwrites it.
type Resolution struct {
	StoryID    string
	LocIdx     int
	Address    *string
	Lat        *float64
	Lon        *float64
	Precision  Precision
	Confidence float64
	Source     ResolutionSource
	ResolvedAt time.Time

	// Hash is the content-addressed identifier of
	// "story_id:loc_idx:resolved_address", computed at persist time.
	Hash string
}

// Tier is the resolver's decision about how much work a location warrants.
type Tier string

// Classification tiers.
const (
	TierSkip     Tier = "skip"
	TierSimple   Tier = "simple"
	TierResearch Tier = "research"
)

// Classification is the closed variant set produced by the classify step.
// SimpleAddress and EstimatedPrecision are populated only for TierSimple,
// Reason for TierSkip and TierSimple.
type Classification struct {
	Tier               Tier
	Reason             string
	SimpleAddress      string
	EstimatedPrecision Precision
}

// GeocodeResult is a geocoder provider's answer for a free-text address.
type GeocodeResult struct {
	Address   string
	Lat       float64
	Lon       float64
	Precision Precision
	Source    string
}

// AddressResolution is the research tier's LLM-reported candidate address
// with self-reported confidence and provenance.
type AddressResolution struct {
	Address       string
	Lat           *float64
	Lon           *float64
	Precision     Precision
	Confidence    float64
	SourceURL     string
	SourceSnippet string
	IsResidence   bool
	Corroboration []string
	Concerns      []string
}

// AddressCandidate is one address extracted from harvested search text.
type AddressCandidate struct {
	Address   string
	SourceURL string
	Evidence  string
}

// CandidateScore is the best candidate among a set plus an overall score.
type CandidateScore struct {
	Best  AddressCandidate
	Score float64
}

// ClusterSummary is the narrative produced for a batch cluster.
type ClusterSummary struct {
	Summary    string
	KeyThemes  []string
	DateRange  string
	StoryCount int
}

// ResolvedLocation is a resolved location row joined with story metadata,
// the unit of input for clustering.
type ResolvedLocation struct {
	StoryID    string
	PlaceName  string
	Lat        float64
	Lon        float64
	Precision  Precision
	Title      string
	Summary    string
	ParsedDate string
}

// Cluster is a spatial and thematic grouping of resolved locations.
// ID is deterministic over the sorted member story IDs, so regeneration
// over unchanged data is idempotent.
type Cluster struct {
	ID         string
	CenterLat  float64
	CenterLon  float64
	ZoomLevel  int
	StoryIDs   []string
	Summary    string
	KeyThemes  []string
	StoryCount int
	DateRange  string
}

// CacheEntry is cached content for a fetched URL. Valid until ExpiresAt.
type CacheEntry struct {
	URLHash   string
	URL       string
	Content   string
	FetchedAt time.Time
	ExpiresAt time.Time
}

// ViewportQuery scopes a query-time clustering request to a map viewport.
type ViewportQuery struct {
	Zoom  int
	SWLat float64
	SWLon float64
	NELat float64
	NELon float64
}

// MapLocation is a viewport row shaped for map display.
type MapLocation struct {
	StoryID        string  `json:"story_id"`
	PlaceName      string  `json:"place_name"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Address        string  `json:"address"`
	Precision      string  `json:"precision"`
	Confidence     float64 `json:"confidence"`
	Title          string  `json:"title"`
	SummaryPreview string  `json:"summary_preview"`
	Date           string  `json:"date"`
}

// StoryDetail is the full story record served by the API.
type StoryDetail struct {
	StoryID    string          `json:"story_id"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	ParsedDate string          `json:"parsed_date"`
	Confidence float64         `json:"confidence"`
	Locations  []StoryLocation `json:"locations"`
}

// StoryLocation is one location attached to a StoryDetail.
type StoryLocation struct {
	PlaceName string   `json:"place_name"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Address   *string  `json:"address"`
}
