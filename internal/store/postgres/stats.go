package postgres

import (
	"context"
	"fmt"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// Stats summarizes resolution and clustering progress.
type Stats struct {
	Stories      int
	Locations    int
	Resolved     int
	ByPrecision  map[story.Precision]int
	Clusters     int
	CacheEntries int
}

// Stats gathers counts across all tables for the stats command.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByPrecision: map[story.Precision]int{}}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM stories`, &stats.Stories},
		{`SELECT COUNT(*) FROM story_locations`, &stats.Locations},
		{`SELECT COUNT(*) FROM story_locations WHERE resolved_address IS NOT NULL`, &stats.Resolved},
		{`SELECT COUNT(*) FROM location_clusters`, &stats.Clusters},
		{`SELECT COUNT(*) FROM geocode_cache`, &stats.CacheEntries},
	}
	for _, c := range counts {
		if err := s.pool.QueryRow(ctx, c.query).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("gather stats: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
SELECT resolved_precision, COUNT(*)
FROM story_locations
WHERE resolved_precision IS NOT NULL
GROUP BY resolved_precision`)
	if err != nil {
		return Stats{}, fmt.Errorf("gather precision stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			precision string
			n         int
		)
		if err := rows.Scan(&precision, &n); err != nil {
			return Stats{}, fmt.Errorf("scan precision stats: %w", err)
		}
		stats.ByPrecision[story.Precision(precision)] = n
	}
	return stats, rows.Err()
}
