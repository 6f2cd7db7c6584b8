package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/config"
)

var (
	cfg *config.Config

	offlineFlag bool
	modeFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "place-resolver",
	Short: "Resolve itinerary place mentions into verified places",
	Long:  "Matches free-text place names against Google Places, Foursquare, and OpenStreetMap, with a two-tier cache and an offline mode backed by curated reference data and synthetic places.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("offline") {
			c.Mode.Offline = offlineFlag
		}
		if cmd.Flags().Changed("mode") {
			c.Mode.Override = modeFlag
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "resolve from reference data and synthetic places only")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "force the mode: offline or live (overrides --offline)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
