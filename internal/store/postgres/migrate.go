package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stories (
		story_id    TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		summary     TEXT NOT NULL DEFAULT '',
		parsed_date TEXT NOT NULL DEFAULT '',
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS story_locations (
		story_id              TEXT NOT NULL REFERENCES stories(story_id),
		loc_idx               INTEGER NOT NULL,
		place_name            TEXT NOT NULL,
		place_type            TEXT,
		note                  TEXT,
		lat                   DOUBLE PRECISION,
		lon                   DOUBLE PRECISION,
		geo_precision         TEXT,
		resolved_address      TEXT,
		resolved_lat          DOUBLE PRECISION,
		resolved_lon          DOUBLE PRECISION,
		resolved_precision    TEXT,
		resolution_confidence DOUBLE PRECISION,
		resolution_source     JSONB,
		resolved_at           TIMESTAMPTZ,
		resolution_hash       TEXT,
		PRIMARY KEY (story_id, loc_idx)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_resolved
		ON story_locations (resolved_lat, resolved_lon)
		WHERE resolved_lat IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS geocode_cache (
		url_hash   TEXT PRIMARY KEY,
		url        TEXT NOT NULL,
		content    TEXT NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_url ON geocode_cache (url)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_expiry ON geocode_cache (expires_at)`,
	`CREATE TABLE IF NOT EXISTS location_clusters (
		cluster_id  TEXT PRIMARY KEY,
		center_lat  DOUBLE PRECISION NOT NULL,
		center_lon  DOUBLE PRECISION NOT NULL,
		zoom_level  INTEGER NOT NULL,
		story_ids   JSONB NOT NULL,
		summary     TEXT NOT NULL,
		key_themes  JSONB,
		story_count INTEGER NOT NULL,
		date_range  TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clusters_location
		ON location_clusters (center_lat, center_lon)`,
	`CREATE INDEX IF NOT EXISTS idx_clusters_zoom
		ON location_clusters (zoom_level)`,
}

// Migrate applies the schema. Every statement is idempotent, so running
// it on every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
