// Package cmd wires the storyatlas CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/clock/system"
	"github.com/bookworm-labs/storyatlas/internal/config"
	"github.com/bookworm-labs/storyatlas/internal/geocoder"
	"github.com/bookworm-labs/storyatlas/internal/harvester"
	"github.com/bookworm-labs/storyatlas/internal/llm"
	"github.com/bookworm-labs/storyatlas/internal/logging"
	"github.com/bookworm-labs/storyatlas/internal/ratelimit"
	"github.com/bookworm-labs/storyatlas/internal/resolver"
	"github.com/bookworm-labs/storyatlas/internal/store/postgres"
	"github.com/bookworm-labs/storyatlas/internal/story"
)

var cfgFile string

// app carries the shared dependencies subcommands build on.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *postgres.Store
	clock  story.Clock
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxOpenConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		clock:  system.Clock{},
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}

// buildGeocoder assembles the provider cascade: Google first when a key
// is configured, Nominatim always last, each behind its own limiter.
func (a *app) buildGeocoder() (story.Geocoder, error) {
	var entries []geocoder.Entry

	if a.cfg.Geocoder.GoogleAPIKey != "" {
		google, err := geocoder.NewGoogle(geocoder.GoogleConfig{
			APIKey:  a.cfg.Geocoder.GoogleAPIKey,
			Timeout: time.Duration(a.cfg.Geocoder.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, geocoder.Entry{
			Provider: google,
			Limiter: ratelimit.New("google", ratelimit.Config{
				MaxConcurrent:     a.cfg.Limits.Google.MaxConcurrent,
				RequestsPerSecond: a.cfg.Limits.Google.RequestsPerSecond,
			}),
		})
	} else {
		a.logger.Warn("no google maps api key configured, using nominatim only")
	}

	userAgent := a.cfg.Harvester.UserAgent
	if a.cfg.Geocoder.ContactEmail != "" {
		userAgent = fmt.Sprintf("storyatlas/1.0 (%s)", a.cfg.Geocoder.ContactEmail)
	}
	entries = append(entries, geocoder.Entry{
		Provider: geocoder.NewNominatim(geocoder.NominatimConfig{
			UserAgent: userAgent,
			Timeout:   time.Duration(a.cfg.Geocoder.TimeoutSeconds) * time.Second,
		}),
		Limiter: ratelimit.New("nominatim", ratelimit.Config{
			MaxConcurrent:     a.cfg.Limits.Nominatim.MaxConcurrent,
			RequestsPerSecond: a.cfg.Limits.Nominatim.RequestsPerSecond,
		}),
	})

	return geocoder.NewCascade(a.logger, entries...), nil
}

func (a *app) buildLLM() (*llm.Client, error) {
	limiter := ratelimit.New("llm", ratelimit.Config{
		MaxConcurrent:     a.cfg.Limits.LLM.MaxConcurrent,
		RequestsPerSecond: a.cfg.Limits.LLM.RequestsPerSecond,
	})
	return llm.NewClient(llm.Config{
		APIKey:       a.cfg.LLM.APIKey,
		Model:        a.cfg.LLM.Model,
		SummaryModel: a.cfg.LLM.SummaryModel,
		Temperature:  a.cfg.LLM.Temperature,
		MaxTokens:    a.cfg.LLM.MaxTokens,
		Timeout:      time.Duration(a.cfg.LLM.TimeoutSeconds) * time.Second,
	}, limiter, a.logger)
}

func (a *app) buildHarvester() *harvester.Harvester {
	return harvester.New(harvester.Config{
		UserAgent:  a.cfg.Harvester.UserAgent,
		MaxResults: a.cfg.Harvester.MaxResults,
		CacheTTL:   time.Duration(a.cfg.Harvester.CacheTTLDays) * 24 * time.Hour,
		SweepLimit: a.cfg.Harvester.SweepLimit,
		Timeout:    time.Duration(a.cfg.Harvester.TimeoutSec) * time.Second,
	}, a.store, a.clock, a.logger)
}

func (a *app) buildResolver() (*resolver.Resolver, error) {
	model, err := a.buildLLM()
	if err != nil {
		return nil, err
	}
	cascade, err := a.buildGeocoder()
	if err != nil {
		return nil, err
	}
	return resolver.New(model, cascade, a.store, a.buildHarvester(), a.clock, a.logger, resolver.Config{
		ResearchAttempts:    a.cfg.Resolver.ResearchAttempts,
		GeocodeAttempts:     a.cfg.Resolver.GeocodeAttempts,
		BackoffBase:         time.Duration(a.cfg.Resolver.BackoffBaseSeconds) * time.Second,
		ConfidenceThreshold: a.cfg.Resolver.ConfidenceThreshold,
		Concurrency:         a.cfg.Resolver.Concurrency,
	}), nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storyatlas",
		Short: "Resolve, cluster, and serve story locations from books",
		Long: `storyatlas resolves vague place mentions extracted from book stories
into precise coordinates using tiered LLM classification, web research,
and a geocoder cascade, then groups the results into summarized map
clusters and serves them over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(
		newMigrateCmd(),
		newResolveCmd(),
		newClusterCmd(),
		newServeCmd(),
		newStatsCmd(),
		newCacheCmd(),
	)
	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
