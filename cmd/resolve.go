package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

func newResolveCmd() *cobra.Command {
	var (
		incremental bool
		bookID      string
		where       string
		threshold   float64
		concurrency int
		limit       int
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve story locations to precise addresses",
		Long: `resolve selects unresolved locations (or, with --incremental, locations
below the confidence threshold), runs each through tiered classification
and geocoding, and persists every resolution as it completes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if threshold > 0 {
				a.cfg.Resolver.ConfidenceThreshold = threshold
			}
			if concurrency > 0 {
				a.cfg.Resolver.Concurrency = concurrency
			}

			r, err := a.buildResolver()
			if err != nil {
				return err
			}

			locations, err := a.store.ListUnresolved(ctx, story.LocationFilter{
				Incremental:         incremental,
				ConfidenceThreshold: a.cfg.Resolver.ConfidenceThreshold,
				BookID:              bookID,
				Predicate:           where,
				Limit:               limit,
			})
			if err != nil {
				return err
			}

			var candidates []story.Location
			for _, loc := range locations {
				if r.ShouldSkipResolution(loc, incremental) {
					continue
				}
				candidates = append(candidates, loc)
			}

			fmt.Printf("Found %d candidate locations (%d after skip check)\n", len(locations), len(candidates))
			if dryRun {
				for _, loc := range candidates {
					fmt.Printf("  would resolve %s:%d %q\n", loc.StoryID, loc.LocIdx, loc.PlaceName)
				}
				return nil
			}
			if len(candidates) == 0 {
				fmt.Println("Nothing to resolve")
				return nil
			}

			report := r.ResolveBatch(ctx, candidates)
			a.logger.Info("batch resolution finished",
				zap.Int("resolved", report.Resolved),
				zap.Int("failed", report.Failed))

			fmt.Printf("Resolved %d locations, %d failed\n", report.Resolved, report.Failed)
			for _, f := range report.Failures {
				fmt.Printf("  %s:%d %q: %s\n", f.StoryID, f.LocIdx, f.PlaceName, f.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&incremental, "incremental", false, "also re-resolve low-confidence locations, keeping ones at or above the threshold")
	cmd.Flags().StringVar(&bookID, "book-id", "", "restrict to one book's stories")
	cmd.Flags().StringVar(&where, "where", "", "extra SQL predicate for the candidate query, e.g. \"sl.place_type = 'business'\"")
	cmd.Flags().Float64Var(&threshold, "confidence-threshold", 0, "override the incremental skip threshold")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override the batch concurrency cap")
	cmd.Flags().IntVar(&limit, "limit", 0, "resolve at most this many locations")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list candidates without resolving")
	return cmd
}
