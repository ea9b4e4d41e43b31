package story

import (
	"context"
	"time"
)

// LanguageModel is the LLM capability surface consumed by the resolver and
// cluster engine. Every call is blocking, context-aware and may fail; the
// caller decides what is retryable.
type LanguageModel interface {
	// ClassifyLocation assigns a location to a resolution tier, optionally
	// suggesting a canonical address for well-known places.
	ClassifyLocation(ctx context.Context, loc Location) (Classification, error)

	// FindPreciseAddress performs the web-search-augmented lookup of the
	// research tier.
	FindPreciseAddress(ctx context.Context, loc Location) (AddressResolution, error)

	// GenerateSearchQuery produces a web search query for the harvester
	// fallback.
	GenerateSearchQuery(ctx context.Context, loc Location) (string, error)

	// ExtractCandidates pulls address candidates out of harvested search
	// text.
	ExtractCandidates(ctx context.Context, searchText string, loc Location) ([]AddressCandidate, error)

	// ScoreCandidates picks the best candidate and an overall score.
	ScoreCandidates(ctx context.Context, candidates []AddressCandidate) (CandidateScore, error)

	// SummarizeCluster writes a narrative summary for a batch cluster.
	SummarizeCluster(ctx context.Context, stories []string, locationName string, zoom int) (ClusterSummary, error)
}

// Geocoder turns free text into coordinates with a precision tier. A nil
// result with a nil error means no provider produced an answer.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*GeocodeResult, error)
	Reverse(ctx context.Context, lat, lon float64) (*GeocodeResult, error)
}

// LocationFilter selects candidate locations for a resolution run.
type LocationFilter struct {
	// Incremental selects unresolved rows plus rows below the confidence
	// threshold; otherwise only unresolved rows are selected.
	Incremental         bool
	ConfidenceThreshold float64

	// BookID restricts to locations whose story IDs carry the book prefix.
	BookID string

	// Predicate is an optional extra SQL predicate supplied by the caller.
	Predicate string

	Limit int
}

// LocationStore reads location rows and writes resolution fields. Every
// write is a single autocommitting statement keyed by (story_id, loc_idx).
type LocationStore interface {
	ListUnresolved(ctx context.Context, f LocationFilter) ([]Location, error)
	UpdateResolution(ctx context.Context, res Resolution) error
	ListResolved(ctx context.Context) ([]ResolvedLocation, error)
	LocationsInViewport(ctx context.Context, q ViewportQuery) ([]MapLocation, error)
	NearestPlaceName(ctx context.Context, lat, lon float64) (string, error)
	GetStory(ctx context.Context, storyID string) (StoryDetail, error)
}

// CacheStore persists fetched URL content with an expiry.
type CacheStore interface {
	// GetFresh returns cached content for the URL if present and not
	// expired.
	GetFresh(ctx context.Context, url string) (string, bool, error)

	// Put inserts or fully replaces the entry for the URL.
	Put(ctx context.Context, entry CacheEntry) error

	// Sweep deletes up to limit expired entries, returning the count.
	Sweep(ctx context.Context, limit int) (int, error)

	// Clear removes entries older than the cutoff, or all entries when
	// cutoff is zero.
	Clear(ctx context.Context, cutoff time.Time) (int, error)
}

// ClusterStore persists batch-generated clusters.
type ClusterStore interface {
	UpsertCluster(ctx context.Context, c Cluster) error
	CountClusters(ctx context.Context) (int, error)
	GetCluster(ctx context.Context, clusterID string) (Cluster, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
