package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resolver"
)

// resolveFlags are the per-resolution options shared by the resolve, batch,
// and itinerary commands.
type resolveFlags struct {
	providers       []string
	maxAlternatives int
	minConfidence   float64
	skipExpensive   bool
	forceRefresh    bool
}

func (f *resolveFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.providers, "provider", nil, "restrict to these providers (google, foursquare, nominatim)")
	fs.IntVar(&f.maxAlternatives, "max-alternatives", -1, "runner-up candidates to return (default from config)")
	fs.Float64Var(&f.minConfidence, "min-confidence", -1, "confidence needed to accept a candidate (default from config)")
	fs.BoolVar(&f.skipExpensive, "skip-expensive", false, "skip providers that charge per request")
	fs.BoolVar(&f.forceRefresh, "force-refresh", false, "bypass the caches on read")
}

func (f *resolveFlags) options() ([]resolver.ResolveOption, error) {
	var opts []resolver.ResolveOption
	if len(f.providers) > 0 {
		sources := make([]model.Source, 0, len(f.providers))
		for _, name := range f.providers {
			s, ok := model.ParseSource(name)
			if !ok {
				return nil, eris.Errorf("unknown provider %q", name)
			}
			sources = append(sources, s)
		}
		opts = append(opts, resolver.WithProviders(sources...))
	}
	if f.maxAlternatives >= 0 {
		opts = append(opts, resolver.WithMaxAlternatives(f.maxAlternatives))
	}
	if f.minConfidence >= 0 {
		if f.minConfidence > 1 {
			return nil, eris.New("--min-confidence must be between 0 and 1")
		}
		opts = append(opts, resolver.WithMinConfidence(f.minConfidence))
	}
	if f.skipExpensive {
		opts = append(opts, resolver.WithSkipExpensive(true))
	}
	if f.forceRefresh {
		opts = append(opts, resolver.WithForceRefresh(true))
	}
	return opts, nil
}

var (
	resolvePlace model.UnresolvedPlace
	resolveOpts  resolveFlags
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a single place",
	Example: `  place-resolver resolve --name "Senso-ji" --city Tokyo --country Japan --category temple
  place-resolver resolve --offline --name "Fushimi Inari" --city Kyoto --country Japan`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}
		opts, err := resolveOpts.options()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initResolver(ctx, cfg, metrics.NewUnregistered())
		if err != nil {
			return err
		}
		defer env.Close(cmd.Context())

		res, err := env.Resolver.ResolvePlace(ctx, resolvePlace, opts...)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	f := resolveCmd.Flags()
	f.StringVar(&resolvePlace.Name, "name", "", "place name (required)")
	f.StringVar(&resolvePlace.City, "city", "", "city (required)")
	f.StringVar(&resolvePlace.Country, "country", "", "country (required)")
	f.StringVar(&resolvePlace.Category, "category", "", "category such as restaurant, temple, hotel")
	f.StringVar(&resolvePlace.Neighborhood, "neighborhood", "", "neighborhood hint")
	_ = resolveCmd.MarkFlagRequired("name")
	_ = resolveCmd.MarkFlagRequired("city")
	_ = resolveCmd.MarkFlagRequired("country")
	resolveOpts.register(f)
	rootCmd.AddCommand(resolveCmd)
}
