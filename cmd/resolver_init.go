package main

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/cache"
	"github.com/sells-group/place-resolver/internal/config"
	"github.com/sells-group/place-resolver/internal/localref"
	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/provider"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/internal/resolver"
	"github.com/sells-group/place-resolver/internal/store"
	"github.com/sells-group/place-resolver/pkg/foursquare"
	"github.com/sells-group/place-resolver/pkg/google"
	"github.com/sells-group/place-resolver/pkg/nominatim"
)

// resolverEnv holds the resolver and the resources it owns.
type resolverEnv struct {
	Resolver   *resolver.Resolver
	Persistent *cache.Persistent
	Metrics    *metrics.Metrics
	Breakers   *resilience.Breakers
}

// Close flushes the persistent cache and releases the backend.
func (re *resolverEnv) Close(ctx context.Context) {
	if err := re.Persistent.Close(ctx); err != nil {
		zap.L().Error("close persistent cache", zap.Error(err))
	}
}

// initResolver builds the cache tiers, providers, and resolver from cfg.
// Callers should defer env.Close().
func initResolver(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*resolverEnv, error) {
	backend, err := initBackend(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	persistent := cache.Open(backend,
		cache.WithClock(clock),
		cache.WithDebounce(cfg.Cache.FlushDebounce()),
		cache.WithMetrics(m),
	)

	refs, err := localref.LoadDir(cfg.LocalRef.Dir)
	if err != nil {
		_ = persistent.Close(ctx)
		return nil, eris.Wrap(err, "load local reference data")
	}

	ordering := provider.DefaultOrdering()
	if cfg.Resolve.OrderingPath != "" {
		ordering, err = provider.LoadOrdering(cfg.Resolve.OrderingPath)
		if err != nil {
			_ = persistent.Close(ctx)
			return nil, err
		}
	}

	mode := resolver.NewMode(cfg.Mode.Offline)
	if err := mode.ApplyOverride(cfg.Mode.Override); err != nil {
		_ = persistent.Close(ctx)
		return nil, err
	}

	breakers := resilience.NewBreakers(resilience.FromCircuitConfig(
		cfg.Provider.Circuit.FailureThreshold,
		cfg.Provider.Circuit.ResetTimeoutSecs,
	))
	registry := initProviders(cfg)
	retry := resilience.FromRetryConfig(
		cfg.Provider.Retry.MaxAttempts,
		cfg.Provider.Retry.InitialBackoffMs,
		cfg.Provider.Retry.MaxBackoffMs,
	)
	registry.Wrap(func(p provider.Provider) provider.Provider {
		return provider.NewResilient(p, provider.ResilientConfig{
			Timeout: cfg.Provider.Timeout(),
			Retry:   retry,
			Breaker: breakers.Get(string(p.Source())),
			Metrics: m,
			Clock:   clock,
		})
	})
	// Guard is outermost: refused offline calls never reach retry or the breaker.
	registry.Wrap(func(p provider.Provider) provider.Provider {
		return provider.NewGuard(p, mode, m)
	})

	r := resolver.New(resolver.Config{
		Ephemeral:       cache.NewEphemeral(cfg.Cache.EphemeralTTL(), cfg.Cache.EphemeralMaxEntries, clock),
		Persistent:      persistent,
		Registry:        registry,
		Ordering:        ordering,
		LocalRef:        refs,
		Mode:            mode,
		Metrics:         m,
		Clock:           clock,
		MaxAlternatives: cfg.Resolve.MaxAlternatives,
		MinConfidence:   cfg.Resolve.MinConfidence,
		SearchLimit:     cfg.Resolve.SearchLimit,
		BatchSize:       cfg.Resolve.BatchSize,
		BatchDelay:      cfg.Resolve.BatchDelay(),
	})

	zap.L().Info("resolver ready",
		zap.String("mode", mode.String()),
		zap.String("backend", backend.Name()),
		zap.Int("providers", len(registry.List())),
	)

	return &resolverEnv{
		Resolver:   r,
		Persistent: persistent,
		Metrics:    m,
		Breakers:   breakers,
	}, nil
}

// initBackend opens the configured persistent cache backend.
func initBackend(ctx context.Context, cc config.CacheConfig) (store.Backend, error) {
	switch cc.Backend {
	case config.BackendFile, "":
		return store.NewFile(cc.Dir, cc.FileName), nil
	case config.BackendSQLite:
		b, err := store.NewSQLite(ctx, cc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendPostgres:
		b, err := store.NewPostgres(ctx, cc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendRedis:
		b, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
			Prefix:   cc.RedisKey,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, eris.Errorf("unknown cache backend %q", cc.Backend)
	}
}

// initProviders registers every live provider that has credentials.
func initProviders(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()

	if cfg.Google.Key != "" {
		registry.Register(provider.NewGoogle(google.NewClient(cfg.Google.Key,
			google.WithBaseURL(cfg.Google.BaseURL),
			google.WithRateLimit(cfg.Google.RateLimit),
		)))
	} else {
		zap.L().Debug("google key not set, provider disabled")
	}

	if cfg.Foursquare.Key != "" {
		registry.Register(provider.NewFoursquare(foursquare.NewClient(cfg.Foursquare.Key,
			foursquare.WithBaseURL(cfg.Foursquare.BaseURL),
			foursquare.WithRateLimit(cfg.Foursquare.RateLimit),
		)))
	} else {
		zap.L().Debug("foursquare key not set, provider disabled")
	}

	if cfg.Nominatim.Enabled {
		registry.Register(provider.NewNominatim(nominatim.NewClient(
			nominatim.WithBaseURL(cfg.Nominatim.BaseURL),
			nominatim.WithUserAgent(cfg.Nominatim.UserAgent),
			nominatim.WithRateLimit(cfg.Nominatim.RateLimit),
		)))
	}

	return registry
}
