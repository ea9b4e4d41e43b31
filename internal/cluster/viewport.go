package cluster

import (
	"fmt"
	"strings"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// viewportMinSamples is the query-time DBSCAN density floor: two
// overlapping markers already warrant a cluster bubble.
const viewportMinSamples = 2

// ZoomEpsilon maps a map zoom level to a haversine DBSCAN epsilon in
// radians. Coarse zooms cluster aggressively; at 17 and beyond every
// marker stands alone.
func ZoomEpsilon(zoom int) float64 {
	var km float64
	switch {
	case zoom <= 3:
		km = 2000 // world view, country-scale bubbles
	case zoom <= 4:
		km = 500
	case zoom <= 7:
		km = 100
	case zoom <= 9:
		km = 20
	case zoom <= 11:
		km = 5
	case zoom <= 13:
		km = 1
	case zoom <= 14:
		km = 0.1
	case zoom <= 15:
		km = 0.05
	case zoom <= 16:
		km = 0.01
	default:
		return 0
	}
	return km * 1000 / earthRadiusMeters
}

// ViewportCluster is a dynamically-computed cluster bubble for one map
// view. IDs are stable only within a single response.
type ViewportCluster struct {
	ClusterID  string              `json:"cluster_id"`
	CenterLat  float64             `json:"center_lat"`
	CenterLon  float64             `json:"center_lon"`
	StoryCount int                 `json:"story_count"`
	Stories    []story.MapLocation `json:"stories"`
	DateRange  string              `json:"date_range,omitempty"`
	Summary    string              `json:"summary"`
}

// ClusterViewport groups viewport locations for the given zoom level.
// Noise points come back as individual markers. A zero epsilon (zoom 17+)
// clusters nothing.
func ClusterViewport(locations []story.MapLocation, zoom int) ([]ViewportCluster, []story.MapLocation) {
	eps := ZoomEpsilon(zoom)
	if eps == 0 || len(locations) == 0 {
		return nil, locations
	}

	points := make([]Point, len(locations))
	for i, loc := range locations {
		points[i] = Point{Lat: loc.Lat, Lon: loc.Lon}
	}
	labels := Run(points, Params{
		Eps:        eps,
		MinSamples: viewportMinSamples,
		Metric:     HaversineRadians,
	})

	groups := make(map[int][]story.MapLocation)
	var order []int
	var markers []story.MapLocation
	for i, label := range labels {
		if label == Noise {
			markers = append(markers, locations[i])
			continue
		}
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], locations[i])
	}

	clusters := make([]ViewportCluster, 0, len(order))
	for i, label := range order {
		members := groups[label]

		var lat, lon float64
		for _, loc := range members {
			lat += loc.Lat
			lon += loc.Lon
		}
		lat /= float64(len(members))
		lon /= float64(len(members))

		// The same story can carry several locations in view.
		seen := make(map[string]bool, len(members))
		var stories []story.MapLocation
		for _, loc := range members {
			if !seen[loc.StoryID] {
				seen[loc.StoryID] = true
				stories = append(stories, loc)
			}
		}

		dateRange := viewportDateRange(stories)
		clusters = append(clusters, ViewportCluster{
			ClusterID:  fmt.Sprintf("dynamic_%d_%d", zoom, i),
			CenterLat:  lat,
			CenterLon:  lon,
			StoryCount: len(stories),
			Stories:    stories,
			DateRange:  dateRange,
			Summary:    viewportSummary(stories, dateRange),
		})
	}
	return clusters, markers
}

func viewportDateRange(stories []story.MapLocation) string {
	var min, max string
	for _, loc := range stories {
		if loc.Date == "" {
			continue
		}
		if min == "" || loc.Date < min {
			min = loc.Date
		}
		if max == "" || loc.Date > max {
			max = loc.Date
		}
	}
	if min == "" {
		return ""
	}
	return min + "–" + max
}

// viewportSummary templates a lightweight popup line from a sample of
// member place names; the batch engine owns the narrative summaries.
func viewportSummary(stories []story.MapLocation, dateRange string) string {
	seen := make(map[string]bool)
	var names []string
	for _, loc := range stories {
		if len(seen) >= 5 {
			break
		}
		name := strings.TrimSpace(strings.Split(loc.PlaceName, ",")[0])
		if name != "" && !seen[name] {
			seen[name] = true
			if len(names) < 3 {
				names = append(names, name)
			}
		}
	}

	area := "this area"
	if len(names) > 0 {
		area = strings.Join(names, ", ")
	}
	suffix := ""
	if dateRange != "" {
		suffix = fmt.Sprintf(" (%s)", dateRange)
	}
	return fmt.Sprintf("%d stories in %s%s", len(stories), area, suffix)
}
