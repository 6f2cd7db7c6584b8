package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/place-resolver/internal/metrics"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the persistent place cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show persistent cache counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}
		ctx := cmd.Context()
		env, err := initResolver(ctx, cfg, metrics.NewUnregistered())
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		stats, err := env.Resolver.CacheStats(ctx)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), stats)
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
