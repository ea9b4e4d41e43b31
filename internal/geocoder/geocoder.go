// Package geocoder turns free-text addresses into coordinates with a
// precision tier, cascading over a prioritized list of providers.
package geocoder

import (
	"context"

	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/metrics"
	"github.com/bookworm-labs/storyatlas/internal/ratelimit"
	"github.com/bookworm-labs/storyatlas/internal/story"
)

// Provider is one geocoding backend. A nil result with nil error means the
// provider found nothing for the input.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, address string) (*story.GeocodeResult, error)
	Reverse(ctx context.Context, lat, lon float64) (*story.GeocodeResult, error)
}

// Entry pairs a provider with the rate limiter guarding it.
type Entry struct {
	Provider Provider
	Limiter  *ratelimit.Limiter
}

// Cascade tries providers in priority order. A provider's transient failure
// is treated as "no result from this provider"; the cascade returns nil only
// when every provider fails or returns nothing. New providers are added by
// appending entries, not by branching.
type Cascade struct {
	entries []Entry
	logger  *zap.Logger
}

// NewCascade builds a Cascade over the given entries.
func NewCascade(logger *zap.Logger, entries ...Entry) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{entries: entries, logger: logger}
}

// Geocode resolves a free-text address through the cascade.
func (c *Cascade) Geocode(ctx context.Context, address string) (*story.GeocodeResult, error) {
	return c.run(ctx, func(ctx context.Context, p Provider) (*story.GeocodeResult, error) {
		return p.Geocode(ctx, address)
	})
}

// Reverse resolves coordinates to an address through the cascade.
func (c *Cascade) Reverse(ctx context.Context, lat, lon float64) (*story.GeocodeResult, error) {
	return c.run(ctx, func(ctx context.Context, p Provider) (*story.GeocodeResult, error) {
		return p.Reverse(ctx, lat, lon)
	})
}

func (c *Cascade) run(
	ctx context.Context,
	call func(context.Context, Provider) (*story.GeocodeResult, error),
) (*story.GeocodeResult, error) {
	for _, entry := range c.entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var result *story.GeocodeResult
		invoke := func(ctx context.Context) error {
			var err error
			result, err = call(ctx, entry.Provider)
			return err
		}

		var err error
		if entry.Limiter != nil {
			err = entry.Limiter.Do(ctx, invoke)
		} else {
			err = invoke(ctx)
		}
		if err != nil {
			metrics.ObserveGeocode(entry.Provider.Name(), "error")
			c.logger.Warn("geocoder provider failed",
				zap.String("provider", entry.Provider.Name()),
				zap.Error(err),
			)
			continue
		}
		if result == nil {
			metrics.ObserveGeocode(entry.Provider.Name(), "miss")
			continue
		}
		metrics.ObserveGeocode(entry.Provider.Name(), "hit")
		return result, nil
	}
	return nil, nil
}
