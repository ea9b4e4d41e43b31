package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/hash/sha256"
	"github.com/bookworm-labs/storyatlas/internal/metrics"
	"github.com/bookworm-labs/storyatlas/internal/story"
)

// Batch zoom levels: merged street-scale clusters render at 13, loose
// city-scale clusters at 10.
const (
	zoomAddress = 13
	zoomCity    = 10
)

// ErrClustersExist is returned by Generate when clusters are already
// persisted and force regeneration was not requested.
var ErrClustersExist = errors.New("clusters already exist; use force to regenerate")

// Config tunes the batch engine.
type Config struct {
	// MinStories is DBSCAN's minimum neighborhood size per cluster.
	MinStories int
	// AddressEpsMeters is the radius for address/street precision rows.
	AddressEpsMeters float64
	// CityEpsMeters is the radius for city/region precision rows.
	CityEpsMeters float64
	// MergeMeters is the centroid distance under which clusters merge.
	MergeMeters float64
}

func (c *Config) applyDefaults() {
	if c.MinStories <= 0 {
		c.MinStories = 3
	}
	if c.AddressEpsMeters <= 0 {
		c.AddressEpsMeters = 500
	}
	if c.CityEpsMeters <= 0 {
		c.CityEpsMeters = 5000
	}
	if c.MergeMeters <= 0 {
		c.MergeMeters = 5000
	}
}

// Candidate is a spatial grouping produced by Build, not yet summarized
// or persisted.
type Candidate struct {
	CenterLat float64
	CenterLon float64
	ZoomLevel int
	Locations []story.ResolvedLocation

	addressLevel bool
}

// Engine generates persisted, LLM-summarized clusters from all resolved
// locations.
type Engine struct {
	store    story.LocationStore
	clusters story.ClusterStore
	llm      story.LanguageModel
	logger   *zap.Logger
	cfg      Config
}

// NewEngine builds a batch clustering engine.
func NewEngine(store story.LocationStore, clusters story.ClusterStore, llm story.LanguageModel, logger *zap.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, clusters: clusters, llm: llm, logger: logger, cfg: cfg}
}

// Report summarizes one Generate run.
type Report struct {
	Clusters   int
	ClusterIDs []string
}

// Generate runs the full batch pipeline: build candidates, summarize each,
// and persist. Without force it refuses to touch an already-populated
// cluster table.
func (e *Engine) Generate(ctx context.Context, force bool) (Report, error) {
	if !force {
		n, err := e.clusters.CountClusters(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("count clusters: %w", err)
		}
		if n > 0 {
			return Report{}, ErrClustersExist
		}
	}

	candidates, err := e.Build(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, cand := range candidates {
		summary := e.Summarize(ctx, cand)
		id, err := e.Save(ctx, cand, summary)
		if err != nil {
			return report, err
		}
		report.Clusters++
		report.ClusterIDs = append(report.ClusterIDs, id)
		metrics.ObserveClusterGenerated()
	}
	return report, nil
}

// Build groups all resolved locations with DBSCAN, tight for address and
// street precision, loose for city and region, then merges overlapping
// clusters by centroid distance.
func (e *Engine) Build(ctx context.Context) ([]Candidate, error) {
	rows, err := e.store.ListResolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resolved locations: %w", err)
	}

	// One location per story keeps a story from dominating a cluster.
	seen := make(map[string]bool, len(rows))
	var locs []story.ResolvedLocation
	for _, row := range rows {
		if !seen[row.StoryID] {
			seen[row.StoryID] = true
			locs = append(locs, row)
		}
	}
	if len(locs) == 0 {
		return nil, nil
	}
	e.logger.Info("clustering resolved locations",
		zap.Int("total_rows", len(rows)),
		zap.Int("unique_stories", len(locs)))

	var addressLocs, cityLocs []story.ResolvedLocation
	for _, loc := range locs {
		switch loc.Precision {
		case story.PrecisionAddress, story.PrecisionStreet:
			addressLocs = append(addressLocs, loc)
		case story.PrecisionCity, story.PrecisionRegion:
			cityLocs = append(cityLocs, loc)
		}
	}

	candidates := e.dbscanGroup(addressLocs, e.cfg.AddressEpsMeters, zoomAddress, true)
	candidates = append(candidates, e.dbscanGroup(cityLocs, e.cfg.CityEpsMeters, zoomCity, false)...)

	candidates = e.mergeCityIntoAddress(candidates)
	candidates = e.mergeOverlapping(candidates)
	return candidates, nil
}

// dbscanGroup runs one DBSCAN pass. Epsilon is converted from meters to
// degrees at the 111 km/degree mid-latitude approximation.
func (e *Engine) dbscanGroup(locs []story.ResolvedLocation, epsMeters float64, zoom int, addressLevel bool) []Candidate {
	if len(locs) == 0 {
		return nil
	}
	points := make([]Point, len(locs))
	for i, loc := range locs {
		points[i] = Point{Lat: loc.Lat, Lon: loc.Lon}
	}

	labels := Run(points, Params{
		Eps:        epsMeters / 111000,
		MinSamples: e.cfg.MinStories,
		Metric:     EuclideanDegrees,
	})

	groups := make(map[int][]story.ResolvedLocation)
	var order []int
	for i, label := range labels {
		if label == Noise {
			continue
		}
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], locs[i])
	}

	candidates := make([]Candidate, 0, len(order))
	for _, label := range order {
		members := groups[label]
		lat, lon := centroid(members)
		candidates = append(candidates, Candidate{
			CenterLat:    lat,
			CenterLon:    lon,
			ZoomLevel:    zoom,
			Locations:    members,
			addressLevel: addressLevel,
		})
	}
	return candidates
}

// mergeCityIntoAddress folds each city-level cluster into the first
// address-level cluster within the merge radius, recomputing that
// cluster's centroid. Unmatched city clusters survive as-is.
func (e *Engine) mergeCityIntoAddress(candidates []Candidate) []Candidate {
	var address, city []Candidate
	for _, c := range candidates {
		if c.addressLevel {
			address = append(address, c)
		} else {
			city = append(city, c)
		}
	}

	merged := address
	for _, cc := range city {
		absorbed := false
		for i := range merged {
			if !merged[i].addressLevel {
				continue
			}
			d := HaversineMeters(
				Point{cc.CenterLat, cc.CenterLon},
				Point{merged[i].CenterLat, merged[i].CenterLon},
			)
			if d < e.cfg.MergeMeters {
				merged[i].Locations = append(merged[i].Locations, cc.Locations...)
				merged[i].CenterLat, merged[i].CenterLon = centroid(merged[i].Locations)
				absorbed = true
				e.logger.Debug("merged city cluster into address cluster",
					zap.Int("city_stories", len(cc.Locations)),
					zap.Int("total_stories", len(merged[i].Locations)))
				break
			}
		}
		if !absorbed {
			merged = append(merged, cc)
		}
	}
	return merged
}

// mergeOverlapping collapses clusters whose centroids sit within the merge
// radius of an earlier cluster. Handles DBSCAN producing several clusters
// in the same area across the two precision passes.
func (e *Engine) mergeOverlapping(candidates []Candidate) []Candidate {
	var final []Candidate
	taken := make([]bool, len(candidates))

	for i := range candidates {
		if taken[i] {
			continue
		}
		current := candidates[i]
		mergedAny := false
		for j := i + 1; j < len(candidates); j++ {
			if taken[j] {
				continue
			}
			d := HaversineMeters(
				Point{current.CenterLat, current.CenterLon},
				Point{candidates[j].CenterLat, candidates[j].CenterLon},
			)
			if d < e.cfg.MergeMeters {
				current.Locations = append(current.Locations, candidates[j].Locations...)
				taken[j] = true
				mergedAny = true
			}
		}
		if mergedAny {
			current.CenterLat, current.CenterLon = centroid(current.Locations)
			current.ZoomLevel = zoomAddress
			current.addressLevel = true
		}
		final = append(final, current)
	}
	return final
}

// Summarize produces the narrative summary for one candidate, falling back
// to a templated summary when the model call fails.
func (e *Engine) Summarize(ctx context.Context, cand Candidate) story.ClusterSummary {
	name := e.locationName(ctx, cand.CenterLat, cand.CenterLon)

	stories := make([]string, 0, len(cand.Locations))
	for _, loc := range cand.Locations {
		date := loc.ParsedDate
		if date == "" {
			date = "unknown date"
		}
		summary := loc.Summary
		if summary == "" {
			summary = "No summary"
		}
		if len(summary) > 200 {
			summary = summary[:200]
		}
		stories = append(stories, fmt.Sprintf("%s (%s) | %s", loc.Title, date, summary))
	}

	summary, err := e.llm.SummarizeCluster(ctx, stories, name, cand.ZoomLevel)
	if err == nil {
		return summary
	}

	e.logger.Warn("cluster summarization failed, using fallback",
		zap.String("location", name),
		zap.Error(err))
	dateRange := dateRangeOf(cand.Locations)
	return story.ClusterSummary{
		Summary:    fmt.Sprintf("%d stories at %s spanning %s.", len(cand.Locations), name, dateRange),
		KeyThemes:  []string{},
		DateRange:  dateRange,
		StoryCount: len(cand.Locations),
	}
}

// Save persists the candidate under its deterministic ID, derived from the
// sorted member story IDs so regeneration over unchanged data is
// idempotent.
func (e *Engine) Save(ctx context.Context, cand Candidate, summary story.ClusterSummary) (string, error) {
	ids := make([]string, 0, len(cand.Locations))
	for _, loc := range cand.Locations {
		ids = append(ids, loc.StoryID)
	}
	sort.Strings(ids)

	encoded, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode story ids: %w", err)
	}
	id := "cluster_" + sha256.Short(string(encoded))

	c := story.Cluster{
		ID:         id,
		CenterLat:  cand.CenterLat,
		CenterLon:  cand.CenterLon,
		ZoomLevel:  cand.ZoomLevel,
		StoryIDs:   ids,
		Summary:    summary.Summary,
		KeyThemes:  summary.KeyThemes,
		StoryCount: summary.StoryCount,
		DateRange:  summary.DateRange,
	}
	if err := e.clusters.UpsertCluster(ctx, c); err != nil {
		return "", fmt.Errorf("upsert cluster %s: %w", id, err)
	}
	return id, nil
}

// locationName finds a human-readable name for a centroid: the nearest
// resolved address, shortened to its trailing city and region parts.
func (e *Engine) locationName(ctx context.Context, lat, lon float64) string {
	addr, err := e.store.NearestPlaceName(ctx, lat, lon)
	if err != nil || addr == "" {
		return fmt.Sprintf("%.3f, %.3f", lat, lon)
	}
	return shortPlace(addr)
}

// shortPlace reduces a full address to "city, region" when it is
// comma-separated.
func shortPlace(addr string) string {
	if !strings.Contains(addr, ",") {
		return addr
	}
	parts := strings.Split(addr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) >= 2 {
		return parts[len(parts)-2] + ", " + parts[len(parts)-1]
	}
	return parts[0]
}

func centroid(locs []story.ResolvedLocation) (float64, float64) {
	var lat, lon float64
	for _, loc := range locs {
		lat += loc.Lat
		lon += loc.Lon
	}
	n := float64(len(locs))
	return lat / n, lon / n
}

func dateRangeOf(locs []story.ResolvedLocation) string {
	var dates []string
	for _, loc := range locs {
		if loc.ParsedDate != "" {
			dates = append(dates, loc.ParsedDate)
		}
	}
	switch len(dates) {
	case 0:
		return "unknown"
	case 1:
		return dates[0]
	}
	sort.Strings(dates)
	return dates[0] + "-" + dates[len(dates)-1]
}
