// Package resolver orchestrates the tiered resolution of story locations:
// classification, skip/simple/research dispatch, geocoding, and persistence.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/hash/sha256"
	"github.com/bookworm-labs/storyatlas/internal/metrics"
	"github.com/bookworm-labs/storyatlas/internal/story"
)

const (
	// skipConfidence is assigned to locations too vague to geocode.
	skipConfidence = 0.2
	// simpleConfidence reflects high trust in well-known-place lookups.
	simpleConfidence = 0.85
	// DefaultConfidenceThreshold is the incremental-mode skip cutoff.
	DefaultConfidenceThreshold = 0.7

	skipConcern = "Location too vague - insufficient context for specific address"
)

// Config tunes retry budgets and batch behavior.
type Config struct {
	// ResearchAttempts bounds find-precise-address retries.
	ResearchAttempts int
	// GeocodeAttempts bounds the research tier's geocode retries.
	GeocodeAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// ConfidenceThreshold is the incremental-mode skip cutoff.
	ConfidenceThreshold float64
	// Concurrency caps simultaneously active resolutions in a batch.
	Concurrency int
}

func (c *Config) applyDefaults() {
	if c.ResearchAttempts <= 0 {
		c.ResearchAttempts = 3
	}
	if c.GeocodeAttempts <= 0 {
		c.GeocodeAttempts = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
}

// Researcher supplies harvested web content for the candidate-extraction
// fallback of the research tier.
type Researcher interface {
	Harvest(ctx context.Context, query string) (string, error)
}

// Resolver drives one location at a time through classify, the selected
// tier, and geocoding. Provider-level rate limiting lives inside the
// injected LanguageModel and Geocoder; the resolver only adds the outer
// batch semaphore.
type Resolver struct {
	llm      story.LanguageModel
	geocoder story.Geocoder
	store    story.LocationStore
	research Researcher
	clock    story.Clock
	logger   *zap.Logger
	cfg      Config

	// sleep is swapped out by tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Resolver. A nil research disables the search-pipeline
// fallback; logger may be nil.
func New(llm story.LanguageModel, geocoder story.Geocoder, store story.LocationStore, research Researcher, clock story.Clock, logger *zap.Logger, cfg Config) *Resolver {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		llm:      llm,
		geocoder: geocoder,
		store:    store,
		research: research,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ShouldSkipResolution reports whether a location's current resolution is
// good enough to leave alone. A location with no resolved address is never
// skipped. In incremental mode a resolution at or above the confidence
// threshold is kept; batch mode never skips here because its candidate
// query already excludes resolved rows.
func (r *Resolver) ShouldSkipResolution(loc story.Location, incremental bool) bool {
	if loc.ResolvedAddress == nil || *loc.ResolvedAddress == "" {
		return false
	}
	if incremental && loc.ResolutionConfidence != nil && *loc.ResolutionConfidence >= r.cfg.ConfidenceThreshold {
		r.logger.Debug("skipping already-resolved location",
			zap.String("story_id", loc.StoryID),
			zap.Int("loc_idx", loc.LocIdx),
			zap.Float64("confidence", *loc.ResolutionConfidence))
		return true
	}
	return false
}

// Resolve runs one location through the tiered pipeline. A nil Resolution
// with a non-nil error means this location failed; the error never reflects
// other locations in a batch.
func (r *Resolver) Resolve(ctx context.Context, loc story.Location) (*story.Resolution, error) {
	metrics.ResolutionStarted()
	defer metrics.ResolutionFinished()

	r.logger.Debug("resolving location",
		zap.String("story_id", loc.StoryID),
		zap.Int("loc_idx", loc.LocIdx),
		zap.String("place_name", loc.PlaceName))

	cls, err := r.llm.ClassifyLocation(ctx, loc)
	if err != nil {
		// Classification failure is non-fatal: assume the hard path.
		r.logger.Warn("classification failed, falling back to research tier",
			zap.String("place_name", loc.PlaceName),
			zap.Error(err))
		cls = story.Classification{Tier: story.TierResearch}
	}

	switch {
	case cls.Tier == story.TierSkip:
		res := r.resolveSkip(loc, cls)
		metrics.ObserveResolution(string(story.TierSkip), "ok")
		return res, nil
	case cls.Tier == story.TierSimple && cls.SimpleAddress != "":
		res, err := r.resolveSimple(ctx, loc, cls)
		if err != nil {
			metrics.ObserveResolution(string(story.TierSimple), "error")
			return nil, err
		}
		metrics.ObserveResolution(string(story.TierSimple), "ok")
		return res, nil
	default:
		res, err := r.resolveResearch(ctx, loc)
		if err != nil {
			metrics.ObserveResolution(string(story.TierResearch), "error")
			return nil, err
		}
		metrics.ObserveResolution(string(story.TierResearch), "ok")
		return res, nil
	}
}

// resolveSkip produces a low-confidence pass-through resolution without
// touching any geocoder. It exists purely to avoid wasting quota on
// unresolvable inputs.
func (r *Resolver) resolveSkip(loc story.Location, cls story.Classification) *story.Resolution {
	precision := story.PrecisionRegion
	if loc.PlaceType == "country" {
		precision = story.PrecisionCountry
	}
	addr := loc.PlaceName
	return &story.Resolution{
		StoryID:    loc.StoryID,
		LocIdx:     loc.LocIdx,
		Address:    &addr,
		Lat:        loc.Lat,
		Lon:        loc.Lon,
		Precision:  precision,
		Confidence: skipConfidence,
		Source: story.ResolutionSource{
			Tier:          string(story.TierSkip),
			Reason:        cls.Reason,
			URL:           "N/A",
			Snippet:       "N/A",
			Corroboration: []string{},
			Concerns:      []string{skipConcern},
		},
		ResolvedAt: r.clock.Now(),
	}
}

// resolveSimple geocodes the LLM-suggested canonical address once through
// the cascade. A geocoder miss is not an error: the suggested address and
// the location's original coordinates stand in.
func (r *Resolver) resolveSimple(ctx context.Context, loc story.Location, cls story.Classification) (*story.Resolution, error) {
	geo, err := r.geocoder.Geocode(ctx, cls.SimpleAddress)
	if err != nil {
		r.logger.Warn("simple-tier geocoding failed",
			zap.String("address", cls.SimpleAddress),
			zap.Error(err))
		geo = nil
	}

	res := &story.Resolution{
		StoryID:    loc.StoryID,
		LocIdx:     loc.LocIdx,
		Confidence: simpleConfidence,
		Source: story.ResolutionSource{
			Tier:          string(story.TierSimple),
			Reason:        cls.Reason,
			URL:           "N/A (well-known location)",
			Snippet:       "N/A",
			Corroboration: []string{},
			Concerns:      []string{},
		},
		ResolvedAt: r.clock.Now(),
	}

	if geo != nil {
		res.Address = &geo.Address
		res.Lat = &geo.Lat
		res.Lon = &geo.Lon
		res.Precision = geo.Precision
		res.Source.Geocoder = &geo.Source
	} else {
		addr := cls.SimpleAddress
		res.Address = &addr
		res.Lat = loc.Lat
		res.Lon = loc.Lon
		res.Precision = cls.EstimatedPrecision
		if res.Precision == "" {
			res.Precision = story.PrecisionCity
		}
	}
	return res, nil
}

// resolveResearch runs the expensive path: a web-search-augmented address
// lookup with retries, then a geocode of the found address with its own
// retry budget. When the direct lookup exhausts its attempts and a
// Researcher is wired in, the search pipeline (query generation, harvest,
// candidate extraction and scoring) gets one shot before the location
// fails. Geocoding failure falls back to the model's self-reported
// coordinates and precision.
func (r *Resolver) resolveResearch(ctx context.Context, loc story.Location) (*story.Resolution, error) {
	found, err := r.findAddressWithRetry(ctx, loc)
	if err != nil {
		if r.research == nil {
			return nil, err
		}
		pipelined, perr := r.searchPipeline(ctx, loc)
		if perr != nil {
			r.logger.Warn("search pipeline fallback failed",
				zap.String("place_name", loc.PlaceName),
				zap.Error(perr))
			return nil, err
		}
		found = pipelined
	}

	geo := r.geocodeWithRetry(ctx, found.Address)

	res := &story.Resolution{
		StoryID:    loc.StoryID,
		LocIdx:     loc.LocIdx,
		Address:    &found.Address,
		Confidence: found.Confidence,
		Source: story.ResolutionSource{
			Tier:          string(story.TierResearch),
			URL:           found.SourceURL,
			Snippet:       found.SourceSnippet,
			IsResidence:   found.IsResidence,
			Corroboration: found.Corroboration,
			Concerns:      found.Concerns,
		},
		ResolvedAt: r.clock.Now(),
	}

	if geo != nil {
		res.Address = &geo.Address
		res.Lat = &geo.Lat
		res.Lon = &geo.Lon
		res.Precision = geo.Precision
		res.Source.Geocoder = &geo.Source
	} else {
		res.Lat = found.Lat
		res.Lon = found.Lon
		res.Precision = found.Precision
	}
	return res, nil
}

func (r *Resolver) findAddressWithRetry(ctx context.Context, loc story.Location) (story.AddressResolution, error) {
	delay := r.cfg.BackoffBase
	var lastErr error
	for attempt := 0; attempt < r.cfg.ResearchAttempts; attempt++ {
		found, err := r.llm.FindPreciseAddress(ctx, loc)
		if err == nil {
			return found, nil
		}
		lastErr = err

		if attempt == r.cfg.ResearchAttempts-1 || !isRetryable(err) {
			break
		}
		r.logger.Warn("address lookup failed, retrying",
			zap.String("place_name", loc.PlaceName),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := r.sleep(ctx, delay); serr != nil {
			return story.AddressResolution{}, serr
		}
		delay *= 2
	}
	return story.AddressResolution{}, fmt.Errorf("find address for %q: %w", loc.PlaceName, lastErr)
}

// searchPipeline generates a search query, harvests matching web content,
// and asks the model to extract and score address candidates from it. The
// winning candidate comes back without coordinates; the caller geocodes it
// like any other research result.
func (r *Resolver) searchPipeline(ctx context.Context, loc story.Location) (story.AddressResolution, error) {
	query, err := r.llm.GenerateSearchQuery(ctx, loc)
	if err != nil {
		return story.AddressResolution{}, fmt.Errorf("generate search query: %w", err)
	}
	text, err := r.research.Harvest(ctx, query)
	if err != nil {
		return story.AddressResolution{}, fmt.Errorf("harvest %q: %w", query, err)
	}
	candidates, err := r.llm.ExtractCandidates(ctx, text, loc)
	if err != nil {
		return story.AddressResolution{}, fmt.Errorf("extract candidates: %w", err)
	}
	if len(candidates) == 0 {
		return story.AddressResolution{}, fmt.Errorf("no address candidates for %q", loc.PlaceName)
	}
	score, err := r.llm.ScoreCandidates(ctx, candidates)
	if err != nil {
		return story.AddressResolution{}, fmt.Errorf("score candidates: %w", err)
	}
	r.logger.Debug("search pipeline selected candidate",
		zap.String("place_name", loc.PlaceName),
		zap.String("address", score.Best.Address),
		zap.Float64("score", score.Score))
	return story.AddressResolution{
		Address:       score.Best.Address,
		Confidence:    score.Score,
		SourceURL:     score.Best.SourceURL,
		SourceSnippet: score.Best.Evidence,
		Corroboration: []string{},
		Concerns:      []string{},
	}, nil
}

// geocodeWithRetry never fails the resolution: after exhausting its
// attempts it returns nil and the caller falls back to model coordinates.
func (r *Resolver) geocodeWithRetry(ctx context.Context, address string) *story.GeocodeResult {
	if address == "" {
		return nil
	}
	delay := r.cfg.BackoffBase
	for attempt := 0; attempt < r.cfg.GeocodeAttempts; attempt++ {
		geo, err := r.geocoder.Geocode(ctx, address)
		if err == nil {
			return geo
		}
		if attempt == r.cfg.GeocodeAttempts-1 {
			r.logger.Warn("geocoding failed, using model coordinates",
				zap.String("address", address),
				zap.Error(err))
			return nil
		}
		r.logger.Warn("geocoding failed, retrying",
			zap.String("address", address),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := r.sleep(ctx, delay); serr != nil {
			return nil
		}
		delay *= 2
	}
	return nil
}

// isRetryable classifies transient provider failures: connection drops,
// timeouts, and rate-limit responses.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "rate limit")
}

// PersistResolution writes the resolution fields of one location row,
// computing the content-addressed hash on the way in. The update is a
// single autocommitting statement, so concurrent writers to different
// (story_id, loc_idx) keys never conflict.
func (r *Resolver) PersistResolution(ctx context.Context, res *story.Resolution) error {
	addr := ""
	if res.Address != nil {
		addr = *res.Address
	}
	res.Hash = sha256.Short(fmt.Sprintf("%s:%d:%s", res.StoryID, res.LocIdx, addr))

	if err := r.store.UpdateResolution(ctx, *res); err != nil {
		return fmt.Errorf("persist resolution %s:%d: %w", res.StoryID, res.LocIdx, err)
	}
	r.logger.Debug("persisted resolution",
		zap.String("story_id", res.StoryID),
		zap.Int("loc_idx", res.LocIdx),
		zap.String("hash", res.Hash))
	return nil
}

// Failure describes one location that could not be resolved in a batch.
type Failure struct {
	StoryID   string
	LocIdx    int
	PlaceName string
	Err       string
}

// BatchReport summarizes a batch run.
type BatchReport struct {
	Resolved int
	Failed   int
	Failures []Failure
}

// ResolveBatch resolves locations in parallel under the configured
// concurrency cap, persisting each success immediately so partial progress
// survives a crash. One location's failure never aborts the batch.
func (r *Resolver) ResolveBatch(ctx context.Context, locations []story.Location) BatchReport {
	sem := make(chan struct{}, r.cfg.Concurrency)

	var (
		mu     sync.Mutex
		report BatchReport
		wg     sync.WaitGroup
	)

	for _, loc := range locations {
		wg.Add(1)
		go func(loc story.Location) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := r.resolveAndPersist(ctx, loc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil || res == nil {
				report.Failed++
				report.Failures = append(report.Failures, Failure{
					StoryID:   loc.StoryID,
					LocIdx:    loc.LocIdx,
					PlaceName: loc.PlaceName,
					Err:       truncate(errString(err), 200),
				})
				return
			}
			report.Resolved++
		}(loc)
	}

	wg.Wait()
	return report
}

// resolveAndPersist runs one location end to end, converting a panic into
// an error so a single location can never take down the batch.
func (r *Resolver) resolveAndPersist(ctx context.Context, loc story.Location) (res *story.Resolution, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("resolution panicked",
				zap.String("story_id", loc.StoryID),
				zap.Int("loc_idx", loc.LocIdx),
				zap.Any("panic", p))
			res = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	res, err = r.Resolve(ctx, loc)
	if err == nil && res != nil {
		err = r.PersistResolution(ctx, res)
	}
	return res, err
}

func errString(err error) string {
	if err == nil {
		return "no resolution produced"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
