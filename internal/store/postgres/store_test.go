package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestUpdateResolutionWritesRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	addr := "1 Infinite Loop, Cupertino, CA"
	lat, lon := 37.33182, -122.03118
	resolvedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	res := story.Resolution{
		StoryID:    "book_s001",
		LocIdx:     0,
		Address:    &addr,
		Lat:        &lat,
		Lon:        &lon,
		Precision:  story.PrecisionAddress,
		Confidence: 0.85,
		Source:     story.ResolutionSource{Tier: "simple", URL: "N/A (well-known location)", Snippet: "N/A", Corroboration: []string{}, Concerns: []string{}},
		ResolvedAt: resolvedAt,
		Hash:       "abcdef0123456789",
	}

	mock.ExpectExec("UPDATE story_locations").
		WithArgs(
			&addr, &lat, &lon, "address",
			0.85, pgxmock.AnyArg(), resolvedAt, "abcdef0123456789",
			"book_s001", 0,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateResolution(context.Background(), res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateResolutionMissingRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE story_locations").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateResolution(context.Background(), story.Resolution{StoryID: "missing", LocIdx: 9})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnresolvedBatchFiltersNullAddresses(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"story_id", "loc_idx", "place_name", "place_type", "note",
		"lat", "lon", "geo_precision", "title", "summary",
		"resolved_address", "resolution_confidence",
	}).AddRow(
		"book_s001", 0, "Cupertino", "city", "",
		nil, nil, "", "A title", "A summary",
		nil, nil,
	)

	mock.ExpectQuery(`resolved_address IS NULL`).WillReturnRows(rows)

	locs, err := store.ListUnresolved(context.Background(), story.LocationFilter{})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "Cupertino", locs[0].PlaceName)
	require.Nil(t, locs[0].ResolvedAddress)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnresolvedIncrementalUsesThreshold(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`resolution_confidence < \$1`).
		WithArgs(0.7, "book_a%", 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"story_id", "loc_idx", "place_name", "place_type", "note",
			"lat", "lon", "geo_precision", "title", "summary",
			"resolved_address", "resolution_confidence",
		}))

	_, err := store.ListUnresolved(context.Background(), story.LocationFilter{
		Incremental:         true,
		ConfidenceThreshold: 0.7,
		BookID:              "book_a",
		Limit:               50,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnresolvedAppliesCustomPredicate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`resolved_address IS NULL AND \(sl\.place_type = 'business'\)`).
		WillReturnRows(pgxmock.NewRows([]string{
			"story_id", "loc_idx", "place_name", "place_type", "note",
			"lat", "lon", "geo_precision", "title", "summary",
			"resolved_address", "resolution_confidence",
		}))

	_, err := store.ListUnresolved(context.Background(), story.LocationFilter{
		Predicate: "sl.place_type = 'business'",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFreshCacheHitAndMiss(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT content").
		WithArgs("https://example.com/garage").
		WillReturnRows(pgxmock.NewRows([]string{"content"}).AddRow("cached page"))

	content, ok, err := store.GetFresh(context.Background(), "https://example.com/garage")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cached page", content)

	mock.ExpectQuery("SELECT content").
		WithArgs("https://example.com/other").
		WillReturnRows(pgxmock.NewRows([]string{"content"}))

	_, ok, err = store.GetFresh(context.Background(), "https://example.com/other")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutUpsertsCacheEntry(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	entry := story.CacheEntry{
		URLHash:   "0123456789abcdef",
		URL:       "https://example.com",
		Content:   "body",
		FetchedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}

	mock.ExpectExec("INSERT INTO geocode_cache").
		WithArgs(entry.URLHash, entry.URL, entry.Content, entry.FetchedAt, entry.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepReturnsDeletedCount(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM geocode_cache").
		WithArgs(100).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.Sweep(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertClusterEncodesJSON(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	c := story.Cluster{
		ID:         "cluster_0123456789abcdef",
		CenterLat:  37.33,
		CenterLon:  -122.03,
		ZoomLevel:  13,
		StoryIDs:   []string{"a", "b", "c"},
		Summary:    "Three stories.",
		KeyThemes:  []string{"early days"},
		StoryCount: 3,
		DateRange:  "1976-1984",
	}

	mock.ExpectExec("INSERT INTO location_clusters").
		WithArgs(
			c.ID, c.CenterLat, c.CenterLon, c.ZoomLevel,
			[]byte(`["a","b","c"]`), c.Summary, []byte(`["early days"]`),
			c.StoryCount, c.DateRange,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertCluster(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetClusterDecodesJSON(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT cluster_id").
		WithArgs("cluster_abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"cluster_id", "center_lat", "center_lon", "zoom_level",
			"story_ids", "summary", "key_themes", "story_count", "date_range",
		}).AddRow(
			"cluster_abc", 37.33, -122.03, 13,
			[]byte(`["a","b"]`), "summary", []byte(`["theme"]`), 2, "1980-1981",
		))

	c, err := store.GetCluster(context.Background(), "cluster_abc")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, c.StoryIDs)
	require.Equal(t, []string{"theme"}, c.KeyThemes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetClusterNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT cluster_id").
		WithArgs("cluster_missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"cluster_id", "center_lat", "center_lon", "zoom_level",
			"story_ids", "summary", "key_themes", "story_count", "date_range",
		}))

	_, err := store.GetCluster(context.Background(), "cluster_missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNearestPlaceNameEmptyTable(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(37.0, -122.0).
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	name, err := store.NearestPlaceName(context.Background(), 37.0, -122.0)
	require.NoError(t, err)
	require.Empty(t, name)
	require.NoError(t, mock.ExpectationsWereMet())
}
