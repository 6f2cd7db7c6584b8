package resolver

import "github.com/sells-group/place-resolver/internal/model"

// Defaults for ResolvePlace options.
const (
	DefaultMaxAlternatives = 2
	DefaultMinConfidence   = 0.5
)

type resolveOptions struct {
	providers       []model.Source
	maxAlternatives int
	minConfidence   float64
	skipExpensive   bool
	forceRefresh    bool
}

// ResolveOption adjusts a single resolution.
type ResolveOption func(*resolveOptions)

// WithProviders restricts the providers tried to those listed. Ordering
// still comes from the query's category.
func WithProviders(sources ...model.Source) ResolveOption {
	return func(o *resolveOptions) {
		o.providers = append([]model.Source(nil), sources...)
	}
}

// WithMaxAlternatives sets how many runner-up candidates are returned.
func WithMaxAlternatives(n int) ResolveOption {
	return func(o *resolveOptions) {
		o.maxAlternatives = max(n, 0)
	}
}

// WithMinConfidence sets the confidence a provider's best candidate needs
// to be accepted.
func WithMinConfidence(c float64) ResolveOption {
	return func(o *resolveOptions) {
		o.minConfidence = c
	}
}

// WithSkipExpensive skips providers that charge per request.
func WithSkipExpensive(skip bool) ResolveOption {
	return func(o *resolveOptions) {
		o.skipExpensive = skip
	}
}

// WithForceRefresh bypasses both cache tiers on read. The fresh result
// still overwrites the cached one.
func WithForceRefresh(force bool) ResolveOption {
	return func(o *resolveOptions) {
		o.forceRefresh = force
	}
}
