// Package harvester gathers web search results and page content for the
// resolver's search-pipeline fallback, caching fetched pages with a
// time-boxed TTL.
package harvester

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/hash/sha256"
	"github.com/bookworm-labs/storyatlas/internal/metrics"
	"github.com/bookworm-labs/storyatlas/internal/story"
)

const (
	defaultSearchBaseURL = "https://html.duckduckgo.com/html/"
	// searchUserAgent is a browser-style agent for the HTML search
	// endpoint, which rejects obvious bots.
	searchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	// previewLimit bounds per-page content handed to the model.
	previewLimit = 2000
)

// Config controls search, fetch, and cache behavior.
type Config struct {
	// UserAgent identifies page fetches; search uses a browser agent.
	UserAgent string
	// SearchBaseURL overrides the search endpoint, primarily for tests.
	SearchBaseURL string
	// MaxResults bounds results per search.
	MaxResults int
	// CacheTTL is how long fetched pages stay fresh.
	CacheTTL time.Duration
	// SweepLimit bounds expired-entry deletion piggybacked on inserts.
	SweepLimit int
	Timeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.SearchBaseURL == "" {
		c.SearchBaseURL = defaultSearchBaseURL
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 7 * 24 * time.Hour
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// SearchResult is one entry scraped from the search page.
type SearchResult struct {
	Title   string
	Snippet string
	URL     string
}

// Harvester performs search and page fetches through a shared Colly
// collector, storing page content in the cache store.
type Harvester struct {
	cfg       Config
	cache     story.CacheStore
	clock     story.Clock
	logger    *zap.Logger
	collector *colly.Collector
}

// New builds a Harvester.
func New(cfg Config, cache story.CacheStore, clock story.Clock, logger *zap.Logger) *Harvester {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	// Async defaults to false; colly v2.1.0's Async option ignores its
	// argument and would force async mode on.
	c := colly.NewCollector()
	c.SetRequestTimeout(cfg.Timeout)
	return &Harvester{
		cfg:       cfg,
		cache:     cache,
		clock:     clock,
		logger:    logger,
		collector: c,
	}
}

// Search scrapes the DuckDuckGo HTML endpoint for the query. A scrape
// failure is an error; an empty result list is not.
func (h *Harvester) Search(ctx context.Context, query string) ([]SearchResult, error) {
	searchURL := h.cfg.SearchBaseURL + "?q=" + url.QueryEscape(query)

	body, err := h.get(ctx, searchURL, searchUserAgent)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		title := strings.TrimSpace(sel.Find(".result__title").Text())
		link, _ := sel.Find(".result__url").Attr("href")
		if link == "" {
			link = strings.TrimSpace(sel.Find(".result__url").Text())
		}
		if title == "" || link == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			Snippet: strings.TrimSpace(sel.Find(".result__snippet").Text()),
			URL:     link,
		})
		return len(results) < h.cfg.MaxResults
	})
	return results, nil
}

// FetchURL returns page content, from cache when fresh. Each fresh fetch
// replaces the cache entry and sweeps a bounded batch of expired rows.
func (h *Harvester) FetchURL(ctx context.Context, pageURL string, useCache bool) (string, error) {
	if useCache {
		content, ok, err := h.cache.GetFresh(ctx, pageURL)
		if err != nil {
			h.logger.Warn("cache read failed", zap.String("url", pageURL), zap.Error(err))
		} else if ok {
			metrics.ObserveHarvesterFetch("hit")
			return content, nil
		}
	}

	body, err := h.get(ctx, pageURL, h.cfg.UserAgent)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	metrics.ObserveHarvesterFetch("miss")

	now := h.clock.Now()
	entry := story.CacheEntry{
		URLHash:   sha256.Short(pageURL),
		URL:       pageURL,
		Content:   string(body),
		FetchedAt: now,
		ExpiresAt: now.Add(h.cfg.CacheTTL),
	}
	if err := h.cache.Put(ctx, entry); err != nil {
		h.logger.Warn("cache write failed", zap.String("url", pageURL), zap.Error(err))
	} else if n, err := h.cache.Sweep(ctx, h.cfg.SweepLimit); err != nil {
		h.logger.Warn("cache sweep failed", zap.Error(err))
	} else if n > 0 {
		h.logger.Debug("swept expired cache entries", zap.Int("count", n))
	}

	return string(body), nil
}

// Harvest searches and fetches content for a query, formatted as one text
// block for candidate extraction. Individual page failures are noted
// inline rather than failing the harvest.
func (h *Harvester) Harvest(ctx context.Context, query string) (string, error) {
	results, err := h.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for query: %s", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n", query)
	for i, result := range results {
		fmt.Fprintf(&sb, "\n--- Result %d ---\n", i+1)
		fmt.Fprintf(&sb, "Title: %s\n", result.Title)
		fmt.Fprintf(&sb, "URL: %s\n", result.URL)
		fmt.Fprintf(&sb, "Snippet: %s\n", result.Snippet)

		content, err := h.FetchURL(ctx, result.URL, true)
		if err != nil {
			h.logger.Debug("page fetch failed", zap.String("url", result.URL), zap.Error(err))
			sb.WriteString("Content: [Failed to fetch]\n")
			continue
		}
		if len(content) > previewLimit {
			content = content[:previewLimit]
		}
		fmt.Fprintf(&sb, "Content preview: %s...\n", content)
	}
	return sb.String(), nil
}

// ClearCache removes entries older than the given age, or everything when
// olderThan is zero.
func (h *Harvester) ClearCache(ctx context.Context, olderThan time.Duration) (int, error) {
	var cutoff time.Time
	if olderThan > 0 {
		cutoff = h.clock.Now().Add(-olderThan)
	}
	return h.cache.Clear(ctx, cutoff)
}

// get performs one GET through a cloned collector so per-request hooks
// never leak between calls.
func (h *Harvester) get(ctx context.Context, target, userAgent string) ([]byte, error) {
	collector := h.collector.Clone()
	if userAgent != "" {
		collector.UserAgent = userAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(h.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, err
		}
		if fetchErr != nil {
			return nil, fetchErr
		}
		return body, nil
	}
}
