package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// UpsertCluster inserts or replaces a generated cluster row.
func (s *Store) UpsertCluster(ctx context.Context, c story.Cluster) error {
	storyIDs, err := json.Marshal(c.StoryIDs)
	if err != nil {
		return fmt.Errorf("marshal story ids: %w", err)
	}
	themes, err := json.Marshal(c.KeyThemes)
	if err != nil {
		return fmt.Errorf("marshal key themes: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO location_clusters (
	cluster_id, center_lat, center_lon, zoom_level,
	story_ids, summary, key_themes, story_count, date_range
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (cluster_id) DO UPDATE SET
	center_lat = EXCLUDED.center_lat,
	center_lon = EXCLUDED.center_lon,
	zoom_level = EXCLUDED.zoom_level,
	story_ids = EXCLUDED.story_ids,
	summary = EXCLUDED.summary,
	key_themes = EXCLUDED.key_themes,
	story_count = EXCLUDED.story_count,
	date_range = EXCLUDED.date_range`,
		c.ID, c.CenterLat, c.CenterLon, c.ZoomLevel,
		storyIDs, c.Summary, themes, c.StoryCount, c.DateRange,
	)
	if err != nil {
		return fmt.Errorf("upsert cluster: %w", err)
	}
	return nil
}

// CountClusters returns the number of persisted clusters.
func (s *Store) CountClusters(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM location_clusters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count clusters: %w", err)
	}
	return n, nil
}

// GetCluster returns one persisted cluster by ID.
func (s *Store) GetCluster(ctx context.Context, clusterID string) (story.Cluster, error) {
	var (
		c        story.Cluster
		storyIDs []byte
		themes   []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT cluster_id, center_lat, center_lon, zoom_level,
	story_ids, summary, COALESCE(key_themes, '[]'::jsonb),
	story_count, COALESCE(date_range, '')
FROM location_clusters
WHERE cluster_id = $1`, clusterID).Scan(
		&c.ID, &c.CenterLat, &c.CenterLon, &c.ZoomLevel,
		&storyIDs, &c.Summary, &themes,
		&c.StoryCount, &c.DateRange,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Cluster{}, fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	if err != nil {
		return story.Cluster{}, fmt.Errorf("get cluster: %w", err)
	}

	if err := json.Unmarshal(storyIDs, &c.StoryIDs); err != nil {
		return story.Cluster{}, fmt.Errorf("decode story ids: %w", err)
	}
	if err := json.Unmarshal(themes, &c.KeyThemes); err != nil {
		return story.Cluster{}, fmt.Errorf("decode key themes: %w", err)
	}
	return c, nil
}
