package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// ListUnresolved selects candidate locations for a resolution run. Batch
// mode targets rows with no resolved address; incremental mode adds rows
// below the confidence threshold.
func (s *Store) ListUnresolved(ctx context.Context, f story.LocationFilter) ([]story.Location, error) {
	var sb strings.Builder
	sb.WriteString(`
SELECT
	sl.story_id, sl.loc_idx, sl.place_name,
	COALESCE(sl.place_type, ''), COALESCE(sl.note, ''),
	sl.lat, sl.lon, COALESCE(sl.geo_precision, ''),
	s.title, s.summary,
	sl.resolved_address, sl.resolution_confidence
FROM story_locations sl
JOIN stories s ON sl.story_id = s.story_id
WHERE `)

	var args []any
	if f.Incremental {
		args = append(args, f.ConfidenceThreshold)
		fmt.Fprintf(&sb, "(sl.resolved_address IS NULL OR sl.resolution_confidence < $%d)", len(args))
	} else {
		sb.WriteString("sl.resolved_address IS NULL")
	}
	if f.BookID != "" {
		args = append(args, f.BookID+"%")
		fmt.Fprintf(&sb, " AND sl.story_id LIKE $%d", len(args))
	}
	if f.Predicate != "" {
		fmt.Fprintf(&sb, " AND (%s)", f.Predicate)
	}
	sb.WriteString(" ORDER BY sl.story_id, sl.loc_idx")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list unresolved locations: %w", err)
	}
	defer rows.Close()

	var locations []story.Location
	for rows.Next() {
		var loc story.Location
		if err := rows.Scan(
			&loc.StoryID, &loc.LocIdx, &loc.PlaceName,
			&loc.PlaceType, &loc.Note,
			&loc.Lat, &loc.Lon, &loc.GeoPrecision,
			&loc.StoryTitle, &loc.StorySummary,
			&loc.ResolvedAddress, &loc.ResolutionConfidence,
		); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// UpdateResolution writes the resolution fields of one location row in a
// single autocommitting statement. Last write wins on re-resolution.
func (s *Store) UpdateResolution(ctx context.Context, res story.Resolution) error {
	source, err := json.Marshal(res.Source)
	if err != nil {
		return fmt.Errorf("marshal resolution source: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE story_locations
SET resolved_address = $1,
	resolved_lat = $2,
	resolved_lon = $3,
	resolved_precision = $4,
	resolution_confidence = $5,
	resolution_source = $6,
	resolved_at = $7,
	resolution_hash = $8
WHERE story_id = $9 AND loc_idx = $10`,
		res.Address, res.Lat, res.Lon, string(res.Precision),
		res.Confidence, source, res.ResolvedAt, res.Hash,
		res.StoryID, res.LocIdx,
	)
	if err != nil {
		return fmt.Errorf("update resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("location %s:%d: %w", res.StoryID, res.LocIdx, ErrNotFound)
	}
	return nil
}

// ListResolved returns every resolved location joined with its story
// metadata, ordered so the first location per story comes first.
func (s *Store) ListResolved(ctx context.Context) ([]story.ResolvedLocation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT
	sl.story_id, sl.place_name,
	sl.resolved_lat, sl.resolved_lon, sl.resolved_precision,
	s.title, s.summary, s.parsed_date
FROM story_locations sl
JOIN stories s ON sl.story_id = s.story_id
WHERE sl.resolved_lat IS NOT NULL
ORDER BY sl.story_id, sl.loc_idx`)
	if err != nil {
		return nil, fmt.Errorf("list resolved locations: %w", err)
	}
	defer rows.Close()

	var out []story.ResolvedLocation
	for rows.Next() {
		var (
			loc       story.ResolvedLocation
			precision string
		)
		if err := rows.Scan(
			&loc.StoryID, &loc.PlaceName,
			&loc.Lat, &loc.Lon, &precision,
			&loc.Title, &loc.Summary, &loc.ParsedDate,
		); err != nil {
			return nil, fmt.Errorf("scan resolved location: %w", err)
		}
		loc.Precision = story.Precision(precision)
		out = append(out, loc)
	}
	return out, rows.Err()
}

// LocationsInViewport returns resolved rows inside the bounding box,
// highest confidence first. Country-precision rows are hidden past the
// world zoom levels where they would mislead more than inform.
func (s *Store) LocationsInViewport(ctx context.Context, q story.ViewportQuery) ([]story.MapLocation, error) {
	query := `
SELECT
	sl.story_id, sl.place_name,
	sl.resolved_lat, sl.resolved_lon,
	COALESCE(sl.resolved_address, ''), COALESCE(sl.resolved_precision, ''),
	COALESCE(sl.resolution_confidence, 0),
	s.title, s.summary, s.parsed_date
FROM story_locations sl
JOIN stories s ON sl.story_id = s.story_id
WHERE sl.resolved_lat IS NOT NULL
  AND sl.resolved_lat BETWEEN $1 AND $2
  AND sl.resolved_lon BETWEEN $3 AND $4`
	if q.Zoom > 3 {
		query += `
  AND sl.resolved_precision != 'country'`
	}
	query += `
ORDER BY sl.resolution_confidence DESC`

	rows, err := s.pool.Query(ctx, query, q.SWLat, q.NELat, q.SWLon, q.NELon)
	if err != nil {
		return nil, fmt.Errorf("list viewport locations: %w", err)
	}
	defer rows.Close()

	var out []story.MapLocation
	for rows.Next() {
		var (
			loc     story.MapLocation
			summary string
		)
		if err := rows.Scan(
			&loc.StoryID, &loc.PlaceName,
			&loc.Lat, &loc.Lon,
			&loc.Address, &loc.Precision,
			&loc.Confidence,
			&loc.Title, &summary, &loc.Date,
		); err != nil {
			return nil, fmt.Errorf("scan viewport location: %w", err)
		}
		loc.SummaryPreview = preview(summary, 100)
		out = append(out, loc)
	}
	return out, rows.Err()
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// NearestPlaceName returns the resolved address (or place name) closest
// to the coordinates, or empty when nothing is resolved yet.
func (s *Store) NearestPlaceName(ctx context.Context, lat, lon float64) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(resolved_address, place_name)
FROM story_locations
WHERE resolved_lat IS NOT NULL
ORDER BY ABS(resolved_lat - $1) + ABS(resolved_lon - $2)
LIMIT 1`, lat, lon).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("nearest place name: %w", err)
	}
	return name, nil
}

// GetStory returns the story record with all of its locations.
func (s *Store) GetStory(ctx context.Context, storyID string) (story.StoryDetail, error) {
	var detail story.StoryDetail
	err := s.pool.QueryRow(ctx, `
SELECT story_id, title, summary, parsed_date, confidence
FROM stories
WHERE story_id = $1`, storyID).Scan(
		&detail.StoryID, &detail.Title, &detail.Summary,
		&detail.ParsedDate, &detail.Confidence,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return story.StoryDetail{}, fmt.Errorf("story %s: %w", storyID, ErrNotFound)
	}
	if err != nil {
		return story.StoryDetail{}, fmt.Errorf("get story: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT place_name, resolved_lat, resolved_lon, resolved_address
FROM story_locations
WHERE story_id = $1
ORDER BY loc_idx`, storyID)
	if err != nil {
		return story.StoryDetail{}, fmt.Errorf("get story locations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var loc story.StoryLocation
		if err := rows.Scan(&loc.PlaceName, &loc.Lat, &loc.Lon, &loc.Address); err != nil {
			return story.StoryDetail{}, fmt.Errorf("scan story location: %w", err)
		}
		detail.Locations = append(detail.Locations, loc)
	}
	return detail, rows.Err()
}
