package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the web content cache",
	}
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached web content",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var cutoff time.Time
			if olderThanDays > 0 {
				cutoff = a.clock.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
			}

			deleted, err := a.store.Clear(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d cache entries\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "only delete entries fetched more than this many days ago (0 clears everything)")
	return cmd
}
