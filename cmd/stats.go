package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print resolution and clustering statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Stories:       %d\n", stats.Stories)
			fmt.Printf("Locations:     %d\n", stats.Locations)
			fmt.Printf("Resolved:      %d\n", stats.Resolved)
			fmt.Printf("Clusters:      %d\n", stats.Clusters)
			fmt.Printf("Cache entries: %d\n", stats.CacheEntries)

			if len(stats.ByPrecision) > 0 {
				fmt.Println("By precision:")
				precisions := make([]string, 0, len(stats.ByPrecision))
				for p := range stats.ByPrecision {
					precisions = append(precisions, string(p))
				}
				sort.Strings(precisions)
				for _, p := range precisions {
					fmt.Printf("  %-10s %d\n", p, stats.ByPrecision[story.Precision(p)])
				}
			}
			return nil
		},
	}
}
