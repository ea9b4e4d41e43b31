package harvester

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]story.CacheEntry
	now     func() time.Time

	sweeps int
	puts   int
}

func newMemoryCache(now func() time.Time) *memoryCache {
	return &memoryCache{entries: map[string]story.CacheEntry{}, now: now}
}

func (m *memoryCache) GetFresh(_ context.Context, url string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[url]
	if !ok || m.now().After(entry.ExpiresAt) {
		return "", false, nil
	}
	return entry.Content, true, nil
}

func (m *memoryCache) Put(_ context.Context, entry story.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.entries[entry.URL] = entry
	return nil
}

func (m *memoryCache) Sweep(context.Context, int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	removed := 0
	for url, entry := range m.entries {
		if m.now().After(entry.ExpiresAt) {
			delete(m.entries, url)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryCache) Clear(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for url, entry := range m.entries {
		if cutoff.IsZero() || entry.FetchedAt.Before(cutoff) {
			delete(m.entries, url)
			removed++
		}
	}
	return removed, nil
}

type stubClock struct{ t time.Time }

func (c *stubClock) Now() time.Time { return c.t }

const searchHTML = `<html><body>
<div class="result">
  <a class="result__title">Apple garage history</a>
  <a class="result__url" href="https://example.com/garage">example.com/garage</a>
  <div class="result__snippet">Where it all started.</div>
</div>
<div class="result">
  <a class="result__title">Los Altos landmarks</a>
  <a class="result__url" href="https://example.com/landmarks">example.com/landmarks</a>
  <div class="result__snippet">Historic homes.</div>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "jobs garage address", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(searchHTML))
	}))
	defer srv.Close()

	h := New(Config{SearchBaseURL: srv.URL}, newMemoryCache(time.Now), &stubClock{t: time.Now()}, nil)
	results, err := h.Search(context.Background(), "jobs garage address")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Apple garage history", results[0].Title)
	require.Equal(t, "https://example.com/garage", results[0].URL)
	require.Equal(t, "Where it all started.", results[0].Snippet)
}

func TestSearchHonorsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(searchHTML))
	}))
	defer srv.Close()

	h := New(Config{SearchBaseURL: srv.URL, MaxResults: 1}, newMemoryCache(time.Now), &stubClock{t: time.Now()}, nil)
	results, err := h.Search(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestFetchURLCachesContent(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("page body"))
	}))
	defer srv.Close()

	clock := &stubClock{t: time.Now()}
	cache := newMemoryCache(func() time.Time { return clock.t })
	h := New(Config{CacheTTL: time.Hour}, cache, clock, nil)

	first, err := h.FetchURL(context.Background(), srv.URL, true)
	require.NoError(t, err)
	require.Equal(t, "page body", first)
	require.Equal(t, 1, hits)
	require.Equal(t, 1, cache.puts)
	require.Equal(t, 1, cache.sweeps, "each insert sweeps expired entries")

	second, err := h.FetchURL(context.Background(), srv.URL, true)
	require.NoError(t, err)
	require.Equal(t, "page body", second)
	require.Equal(t, 1, hits, "second fetch must come from cache")
}

func TestFetchURLExpiredCacheRefetches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("page body"))
	}))
	defer srv.Close()

	clock := &stubClock{t: time.Now()}
	cache := newMemoryCache(func() time.Time { return clock.t })
	h := New(Config{CacheTTL: time.Hour}, cache, clock, nil)

	_, err := h.FetchURL(context.Background(), srv.URL, true)
	require.NoError(t, err)

	clock.t = clock.t.Add(8 * 24 * time.Hour)
	_, err = h.FetchURL(context.Background(), srv.URL, true)
	require.NoError(t, err)
	require.Equal(t, 2, hits)
}

func TestFetchURLBypassesCacheWhenDisabled(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	clock := &stubClock{t: time.Now()}
	cache := newMemoryCache(func() time.Time { return clock.t })
	h := New(Config{}, cache, clock, nil)

	_, err := h.FetchURL(context.Background(), srv.URL, false)
	require.NoError(t, err)
	_, err = h.FetchURL(context.Background(), srv.URL, false)
	require.NoError(t, err)
	require.Equal(t, 2, hits)
}

func TestHarvestFormatsResultsWithPreviews(t *testing.T) {
	var pageURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/html/", func(w http.ResponseWriter, _ *http.Request) {
		html := `<div class="result">
			<a class="result__title">Garage</a>
			<a class="result__url" href="` + pageURL + `">link</a>
			<div class="result__snippet">snippet</div>
		</div>`
		_, _ = w.Write([]byte(html))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("page content about the garage"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	pageURL = srv.URL + "/page"

	clock := &stubClock{t: time.Now()}
	h := New(Config{SearchBaseURL: srv.URL + "/html/"}, newMemoryCache(func() time.Time { return clock.t }), clock, nil)

	text, err := h.Harvest(context.Background(), "garage")
	require.NoError(t, err)
	require.Contains(t, text, "Search results for: garage")
	require.Contains(t, text, "--- Result 1 ---")
	require.Contains(t, text, "Title: Garage")
	require.Contains(t, text, "Content preview: page content about the garage")
}

func TestHarvestEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body></body></html>"))
	}))
	defer srv.Close()

	clock := &stubClock{t: time.Now()}
	h := New(Config{SearchBaseURL: srv.URL}, newMemoryCache(func() time.Time { return clock.t }), clock, nil)

	text, err := h.Harvest(context.Background(), "nothing here")
	require.NoError(t, err)
	require.Contains(t, text, "No search results found")
}

func TestClearCache(t *testing.T) {
	clock := &stubClock{t: time.Now()}
	cache := newMemoryCache(func() time.Time { return clock.t })
	h := New(Config{}, cache, clock, nil)

	old := story.CacheEntry{URL: "https://a", FetchedAt: clock.t.Add(-48 * time.Hour), ExpiresAt: clock.t.Add(time.Hour)}
	fresh := story.CacheEntry{URL: "https://b", FetchedAt: clock.t, ExpiresAt: clock.t.Add(time.Hour)}
	require.NoError(t, cache.Put(context.Background(), old))
	require.NoError(t, cache.Put(context.Background(), fresh))

	n, err := h.ClearCache(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = h.ClearCache(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
