// Package provider defines the place search providers consulted by the
// resolver and the decorators that make them safe to call.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/pkg/foursquare"
	"github.com/sells-group/place-resolver/pkg/google"
	"github.com/sells-group/place-resolver/pkg/nominatim"
)

// RawCandidate is one provider-native search hit. The variants are fixed;
// normalize converts each into a model.ResolvedPlace.
type RawCandidate interface {
	Source() model.Source
	rawCandidate()
}

// GoogleCandidate wraps a Google Places result.
type GoogleCandidate struct {
	Place google.Place
}

// FoursquareCandidate wraps a Foursquare Places result.
type FoursquareCandidate struct {
	Place foursquare.Place
}

// NominatimCandidate wraps an OpenStreetMap Nominatim result.
type NominatimCandidate struct {
	Place nominatim.Place
}

func (GoogleCandidate) Source() model.Source     { return model.SourceGoogle }
func (FoursquareCandidate) Source() model.Source { return model.SourceFoursquare }
func (NominatimCandidate) Source() model.Source  { return model.SourceNominatim }

func (GoogleCandidate) rawCandidate()     {}
func (FoursquareCandidate) rawCandidate() {}
func (NominatimCandidate) rawCandidate()  {}

// Provider searches one external place source.
type Provider interface {
	// Source identifies the provider in orderings and results.
	Source() model.Source
	// Search returns up to limit candidates for query near locationHint.
	Search(ctx context.Context, query, locationHint string, limit int) ([]RawCandidate, error)
}

// Registry holds the configured providers by source.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.Source]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[model.Source]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same source.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Source()] = p
}

// Get returns the provider for s, or nil.
func (r *Registry) Get(s model.Source) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[s]
}

// List returns the registered sources, sorted.
func (r *Registry) List() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Source, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Wrap replaces every registered provider with wrap(p).
func (r *Registry) Wrap(wrap func(Provider) Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s, p := range r.providers {
		r.providers[s] = wrap(p)
	}
}
