// Package resolver turns free-text place mentions into verified place
// records. It consults the ephemeral and persistent caches, then either
// offline reference data and synthetic generation or live providers.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/cache"
	"github.com/sells-group/place-resolver/internal/localref"
	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/normalize"
	"github.com/sells-group/place-resolver/internal/provider"
	"github.com/sells-group/place-resolver/internal/synthetic"
)

// Defaults for Config.
const (
	DefaultSearchLimit = 5
	DefaultBatchSize   = 5
	DefaultBatchDelay  = 200 * time.Millisecond
)

// Config wires a Resolver. Ephemeral and Persistent are required; the rest
// default to empty or built-in values. A negative BatchDelay disables the
// pause between batches.
type Config struct {
	Ephemeral  *cache.Ephemeral
	Persistent *cache.Persistent
	Registry   *provider.Registry
	Ordering   *provider.Ordering
	LocalRef   *localref.Store
	Synthetic  *synthetic.Generator
	Mode       *Mode
	Metrics    *metrics.Metrics
	Clock      clockwork.Clock

	MaxAlternatives int
	MinConfidence   float64
	SearchLimit     int
	BatchSize       int
	BatchDelay      time.Duration
}

// Resolver resolves places. It is safe for concurrent use.
type Resolver struct {
	ephemeral  *cache.Ephemeral
	persistent *cache.Persistent
	registry   *provider.Registry
	ordering   *provider.Ordering
	localref   *localref.Store
	synthetic  *synthetic.Generator
	mode       *Mode
	metrics    *metrics.Metrics
	clock      clockwork.Clock

	defaults    resolveOptions
	searchLimit int
	batchSize   int
	batchDelay  time.Duration
}

// New builds a Resolver from cfg.
func New(cfg Config) *Resolver {
	r := &Resolver{
		ephemeral:   cfg.Ephemeral,
		persistent:  cfg.Persistent,
		registry:    cfg.Registry,
		ordering:    cfg.Ordering,
		localref:    cfg.LocalRef,
		synthetic:   cfg.Synthetic,
		mode:        cfg.Mode,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		searchLimit: cfg.SearchLimit,
		batchSize:   cfg.BatchSize,
		batchDelay:  cfg.BatchDelay,
		defaults: resolveOptions{
			maxAlternatives: cfg.MaxAlternatives,
			minConfidence:   cfg.MinConfidence,
		},
	}
	if r.registry == nil {
		r.registry = provider.NewRegistry()
	}
	if r.ordering == nil {
		r.ordering = provider.DefaultOrdering()
	}
	if r.localref == nil {
		r.localref = localref.New()
	}
	if r.synthetic == nil {
		r.synthetic = synthetic.NewGenerator()
	}
	if r.mode == nil {
		r.mode = NewMode(false)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewUnregistered()
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.defaults.maxAlternatives <= 0 {
		r.defaults.maxAlternatives = DefaultMaxAlternatives
	}
	if r.defaults.minConfidence <= 0 {
		r.defaults.minConfidence = DefaultMinConfidence
	}
	if r.searchLimit <= 0 {
		r.searchLimit = DefaultSearchLimit
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	switch {
	case r.batchDelay == 0:
		r.batchDelay = DefaultBatchDelay
	case r.batchDelay < 0:
		r.batchDelay = 0
	}
	return r
}

// Mode returns the resolver's mode for runtime overrides.
func (r *Resolver) Mode() *Mode { return r.mode }

// CacheStats reports the persistent cache counters.
func (r *Resolver) CacheStats(ctx context.Context) (cache.Stats, error) {
	return r.persistent.Stats(ctx)
}

// Flush writes pending persistent cache changes.
func (r *Resolver) Flush(ctx context.Context) error {
	return r.persistent.Flush(ctx)
}

// ResolvePlace resolves one query. Absence of a match is not an error: the
// result then has a nil Resolved and a reason in Error. Only an invalid
// query returns an error.
func (r *Resolver) ResolvePlace(ctx context.Context, q model.UnresolvedPlace, opts ...ResolveOption) (model.PlaceResolutionResult, error) {
	if err := q.Validate(); err != nil {
		return model.PlaceResolutionResult{}, err
	}

	o := r.defaults
	for _, opt := range opts {
		opt(&o)
	}

	start := r.clock.Now()
	key := q.CacheKey()
	log := zap.L().With(zap.String("key", key))

	if !o.forceRefresh {
		if res, ok := r.lookupCached(ctx, key, log); ok {
			res.Duration = r.clock.Since(start)
			return res, nil
		}
	}

	var res model.PlaceResolutionResult
	if r.mode.Offline() {
		res = r.resolveOffline(ctx, q, key, o)
	} else {
		res = r.resolveLive(ctx, q, key, o, log)
	}
	res.Duration = r.clock.Since(start)
	return res, nil
}

func (r *Resolver) lookupCached(ctx context.Context, key string, log *zap.Logger) (model.PlaceResolutionResult, bool) {
	if res, ok := r.ephemeral.Get(key); ok {
		r.metrics.CacheLookup.WithLabelValues(metrics.TierEphemeral, metrics.ResultHit).Inc()
		log.Debug("resolver: ephemeral cache hit")
		res.Cached = true
		return res, true
	}
	r.metrics.CacheLookup.WithLabelValues(metrics.TierEphemeral, metrics.ResultMiss).Inc()

	entry, ok, err := r.persistent.Lookup(ctx, key)
	if err != nil {
		log.Warn("resolver: persistent cache lookup failed", zap.Error(err))
		return model.PlaceResolutionResult{}, false
	}
	if !ok {
		r.metrics.CacheLookup.WithLabelValues(metrics.TierPersistent, metrics.ResultMiss).Inc()
		return model.PlaceResolutionResult{}, false
	}
	r.metrics.CacheLookup.WithLabelValues(metrics.TierPersistent, metrics.ResultHit).Inc()
	log.Debug("resolver: persistent cache hit")

	res := entry.Result
	res.Cached = true
	r.ephemeral.Set(key, res)
	return res, true
}

// resolveOffline never reaches a provider: reference data first, then a
// synthetic place. The result is flushed before returning so a process
// that exits right away keeps it.
func (r *Resolver) resolveOffline(ctx context.Context, q model.UnresolvedPlace, key string, o resolveOptions) model.PlaceResolutionResult {
	res := model.PlaceResolutionResult{
		Original:     q,
		Alternatives: []model.ResolvedPlace{},
	}

	if place, alts, ok := r.findReference(q, o); ok {
		res.Resolved = &place
		res.Alternatives = alts
		res.Provider = string(model.SourceLocalReference)
	} else {
		place := r.synthetic.Generate(q)
		res.Resolved = &place
		res.Provider = string(model.SourceSynthetic)
	}
	r.metrics.Resolutions.WithLabelValues(res.Provider, metrics.OutcomeResolved).Inc()

	r.store(ctx, key, res)
	if err := r.persistent.Flush(ctx); err != nil {
		zap.L().Warn("resolver: offline flush failed", zap.String("key", key), zap.Error(err))
	}
	return res
}

func (r *Resolver) findReference(q model.UnresolvedPlace, o resolveOptions) (model.ResolvedPlace, []model.ResolvedPlace, bool) {
	if !r.localref.HasData(q.City, q.Country) {
		return model.ResolvedPlace{}, nil, false
	}
	if place, ok := r.localref.FindExact(q); ok {
		return place, []model.ResolvedPlace{}, true
	}
	matches := r.localref.FindFuzzy(q, localref.FuzzyOptions{
		MaxResults: 1 + o.maxAlternatives,
		Category:   q.Category,
	})
	if len(matches) == 0 {
		return model.ResolvedPlace{}, nil, false
	}
	alts := make([]model.ResolvedPlace, 0, len(matches)-1)
	for _, m := range matches[1:] {
		alts = append(alts, m.Place)
	}
	return matches[0].Place, alts, true
}

func (r *Resolver) resolveLive(ctx context.Context, q model.UnresolvedPlace, key string, o resolveOptions, log *zap.Logger) model.PlaceResolutionResult {
	res := model.PlaceResolutionResult{
		Original:     q,
		Alternatives: []model.ResolvedPlace{},
	}

	var lastErr error
	for _, src := range r.ordering.Candidates(q.Category, o.providers, o.skipExpensive) {
		p := r.registry.Get(src)
		if p == nil {
			log.Debug("resolver: provider not configured", zap.String("provider", string(src)))
			continue
		}

		raws, err := p.Search(ctx, q.Name, q.LocationHint(), r.searchLimit)
		if err != nil {
			log.Warn("resolver: provider failed",
				zap.String("provider", string(src)),
				zap.Error(err),
			)
			r.metrics.Resolutions.WithLabelValues(string(src), metrics.OutcomeError).Inc()
			lastErr = err
			continue
		}

		places := normalize.All(q, raws)
		if len(places) == 0 || places[0].Confidence < o.minConfidence {
			continue
		}

		best := places[0]
		res.Resolved = &best
		res.Alternatives = alternatives(best, places[1:], o.maxAlternatives)
		res.Provider = string(src)
		r.metrics.Resolutions.WithLabelValues(res.Provider, metrics.OutcomeResolved).Inc()
		r.store(ctx, key, res)
		return res
	}

	res.Provider = model.ProviderNone
	if lastErr != nil {
		res.Error = lastErr.Error()
	} else {
		res.Error = fmt.Sprintf("no match found for %q in %s", q.Name, q.LocationHint())
	}
	r.metrics.Resolutions.WithLabelValues(model.ProviderNone, metrics.OutcomeNoMatch).Inc()
	return res
}

// alternatives takes up to n runners-up, skipping any that duplicate best.
func alternatives(best model.ResolvedPlace, rest []model.ResolvedPlace, n int) []model.ResolvedPlace {
	out := make([]model.ResolvedPlace, 0, min(n, len(rest)))
	for _, p := range rest {
		if len(out) == n {
			break
		}
		if samePlace(best, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// samePlace matches on the native ID when the provider supplied one, and
// otherwise on name and coordinates.
func samePlace(a, b model.ResolvedPlace) bool {
	if a.Source != b.Source {
		return false
	}
	if a.SourceID != "" || b.SourceID != "" {
		return a.SourceID == b.SourceID
	}
	return strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(b.Name)) &&
		a.Coordinates == b.Coordinates
}

// store writes res through both cache tiers. Cache failures are logged;
// the caller still gets the result.
func (r *Resolver) store(ctx context.Context, key string, res model.PlaceResolutionResult) {
	r.ephemeral.Set(key, res)
	entry := model.CacheEntry{
		Query:     res.Original,
		Result:    res,
		Timestamp: r.clock.Now().UTC().Format(time.RFC3339),
	}
	if err := r.persistent.Put(ctx, key, entry); err != nil {
		zap.L().Warn("resolver: persistent cache write failed", zap.String("key", key), zap.Error(err))
	}
}
