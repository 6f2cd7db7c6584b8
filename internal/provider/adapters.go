package provider

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/pkg/foursquare"
	"github.com/sells-group/place-resolver/pkg/google"
	"github.com/sells-group/place-resolver/pkg/nominatim"
)

// Google searches Places API text search.
type Google struct {
	client google.Client
}

// NewGoogle wraps a Google Places client.
func NewGoogle(c google.Client) *Google {
	return &Google{client: c}
}

// Source implements Provider.
func (g *Google) Source() model.Source { return model.SourceGoogle }

// Search implements Provider.
func (g *Google) Search(ctx context.Context, query, locationHint string, limit int) ([]RawCandidate, error) {
	resp, err := g.client.TextSearch(ctx, google.TextSearchRequest{
		TextQuery:      joinQuery(query, locationHint),
		MaxResultCount: limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "provider: google search")
	}
	out := make([]RawCandidate, 0, len(resp.Places))
	for _, p := range resp.Places {
		out = append(out, GoogleCandidate{Place: p})
	}
	return out, nil
}

// Foursquare searches Foursquare Places.
type Foursquare struct {
	client foursquare.Client
}

// NewFoursquare wraps a Foursquare client.
func NewFoursquare(c foursquare.Client) *Foursquare {
	return &Foursquare{client: c}
}

// Source implements Provider.
func (f *Foursquare) Source() model.Source { return model.SourceFoursquare }

// Search implements Provider. The location hint goes in "near" so
// Foursquare geocodes it instead of matching it against venue names.
func (f *Foursquare) Search(ctx context.Context, query, locationHint string, limit int) ([]RawCandidate, error) {
	resp, err := f.client.Search(ctx, foursquare.SearchRequest{
		Query: query,
		Near:  locationHint,
		Limit: limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "provider: foursquare search")
	}
	out := make([]RawCandidate, 0, len(resp.Results))
	for _, p := range resp.Results {
		out = append(out, FoursquareCandidate{Place: p})
	}
	return out, nil
}

// Nominatim searches OpenStreetMap.
type Nominatim struct {
	client nominatim.Client
}

// NewNominatim wraps a Nominatim client.
func NewNominatim(c nominatim.Client) *Nominatim {
	return &Nominatim{client: c}
}

// Source implements Provider.
func (n *Nominatim) Source() model.Source { return model.SourceNominatim }

// Search implements Provider.
func (n *Nominatim) Search(ctx context.Context, query, locationHint string, limit int) ([]RawCandidate, error) {
	places, err := n.client.Search(ctx, nominatim.SearchRequest{
		Query: joinQuery(query, locationHint),
		Limit: limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "provider: nominatim search")
	}
	out := make([]RawCandidate, 0, len(places))
	for _, p := range places {
		out = append(out, NominatimCandidate{Place: p})
	}
	return out, nil
}

func joinQuery(query, hint string) string {
	query = strings.TrimSpace(query)
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return query
	}
	return query + ", " + hint
}
