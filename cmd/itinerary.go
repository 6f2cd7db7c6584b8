package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/itinerary"
	"github.com/sells-group/place-resolver/internal/metrics"
)

var (
	itineraryInput string
	itineraryOpts  resolveFlags
)

var itineraryCmd = &cobra.Command{
	Use:   "itinerary",
	Short: "Resolve every activity in an itinerary",
	Long:  "Reads an itinerary JSON document, resolves each activity, and writes it back with resolved places attached.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}
		opts, err := itineraryOpts.options()
		if err != nil {
			return err
		}

		var it itinerary.Itinerary
		if err := readJSON(itineraryInput, cmd.InOrStdin(), &it); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initResolver(ctx, cfg, metrics.NewUnregistered())
		if err != nil {
			return err
		}
		defer env.Close(cmd.Context())

		results, err := itinerary.ResolveItineraryPlaces(ctx, env.Resolver, it, opts...)
		if err != nil {
			zap.L().Warn("itinerary resolution interrupted", zap.Error(err))
		}
		applied := itinerary.Apply(&it, results)
		zap.L().Info("itinerary resolved",
			zap.String("itinerary", it.ID),
			zap.Int("activities", len(results)),
			zap.Int("applied", applied),
		)

		if werr := writeJSON(cmd.OutOrStdout(), it); werr != nil {
			return werr
		}
		return err
	},
}

func init() {
	itineraryCmd.Flags().StringVar(&itineraryInput, "input", "-", "itinerary JSON file, or - for stdin")
	itineraryOpts.register(itineraryCmd.Flags())
	rootCmd.AddCommand(itineraryCmd)
}
