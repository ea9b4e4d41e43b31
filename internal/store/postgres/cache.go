package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// GetFresh returns cached content for the URL if present and not expired.
func (s *Store) GetFresh(ctx context.Context, url string) (string, bool, error) {
	var content string
	err := s.pool.QueryRow(ctx, `
SELECT content
FROM geocode_cache
WHERE url = $1 AND expires_at > now()`, url).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cache: %w", err)
	}
	return content, true, nil
}

// Put inserts or fully replaces the cache entry for the URL.
func (s *Store) Put(ctx context.Context, entry story.CacheEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO geocode_cache (url_hash, url, content, fetched_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url_hash) DO UPDATE SET
	url = EXCLUDED.url,
	content = EXCLUDED.content,
	fetched_at = EXCLUDED.fetched_at,
	expires_at = EXCLUDED.expires_at`,
		entry.URLHash, entry.URL, entry.Content, entry.FetchedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Sweep deletes up to limit expired entries, returning the count. Bounded
// so the piggybacked sweep on each insert stays cheap.
func (s *Store) Sweep(ctx context.Context, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM geocode_cache
WHERE url_hash IN (
	SELECT url_hash FROM geocode_cache
	WHERE expires_at <= now()
	LIMIT $1
)`, limit)
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Clear removes entries fetched before the cutoff, or all entries when
// the cutoff is zero.
func (s *Store) Clear(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if cutoff.IsZero() {
		tag, err = s.pool.Exec(ctx, `DELETE FROM geocode_cache`)
	} else {
		tag, err = s.pool.Exec(ctx, `DELETE FROM geocode_cache WHERE fetched_at < $1`, cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
