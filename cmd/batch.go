package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
)

var (
	batchInput string
	batchOpts  resolveFlags
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve a JSON array of places",
	Long:  "Reads a JSON array of places from --input (or stdin with -) and writes the results in the same order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}
		opts, err := batchOpts.options()
		if err != nil {
			return err
		}

		var places []model.UnresolvedPlace
		if err := readJSON(batchInput, cmd.InOrStdin(), &places); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initResolver(ctx, cfg, metrics.NewUnregistered())
		if err != nil {
			return err
		}
		defer env.Close(cmd.Context())

		results, err := env.Resolver.ResolvePlaces(ctx, places, opts...)
		if err != nil {
			// Interrupted: still write what finished.
			zap.L().Warn("batch interrupted", zap.Error(err))
		}
		if werr := writeJSON(cmd.OutOrStdout(), results); werr != nil {
			return werr
		}
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "-", "JSON file of places, or - for stdin")
	batchOpts.register(batchCmd.Flags())
	rootCmd.AddCommand(batchCmd)
}
