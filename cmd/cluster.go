package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bookworm-labs/storyatlas/internal/cluster"
)

func newClusterCmd() *cobra.Command {
	var (
		minStories int
		addressEps float64
		cityEps    float64
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Group resolved locations into summarized clusters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if minStories > 0 {
				a.cfg.Cluster.MinStories = minStories
			}
			if addressEps > 0 {
				a.cfg.Cluster.AddressEpsMeters = addressEps
			}
			if cityEps > 0 {
				a.cfg.Cluster.CityEpsMeters = cityEps
			}

			model, err := a.buildLLM()
			if err != nil {
				return err
			}
			engine := cluster.NewEngine(a.store, a.store, model, a.logger, cluster.Config{
				MinStories:       a.cfg.Cluster.MinStories,
				AddressEpsMeters: a.cfg.Cluster.AddressEpsMeters,
				CityEpsMeters:    a.cfg.Cluster.CityEpsMeters,
				MergeMeters:      a.cfg.Cluster.MergeMeters,
			})

			report, err := engine.Generate(ctx, force)
			if errors.Is(err, cluster.ErrClustersExist) {
				count, countErr := a.store.CountClusters(ctx)
				if countErr != nil {
					return countErr
				}
				fmt.Printf("Found %d existing clusters. Use --force to regenerate.\n", count)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Generated %d clusters\n", report.Clusters)
			for _, id := range report.ClusterIDs {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&minStories, "min-stories", 0, "minimum stories per cluster")
	cmd.Flags().Float64Var(&addressEps, "address-eps", 0, "neighborhood radius in meters for address-level locations")
	cmd.Flags().Float64Var(&cityEps, "city-eps", 0, "neighborhood radius in meters for city-level locations")
	cmd.Flags().BoolVar(&force, "force", false, "replace existing clusters")
	return cmd
}
