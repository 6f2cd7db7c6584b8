package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidQuery is returned when a place query is missing a required field.
var ErrInvalidQuery = eris.New("model: invalid place query")

// Source identifies where a resolved place came from.
type Source string

const (
	SourceGoogle         Source = "google"
	SourceFoursquare     Source = "foursquare"
	SourceNominatim      Source = "nominatim"
	SourceLocalReference Source = "local_reference"
	SourceSynthetic      Source = "synthetic"
)

// ProviderNone is recorded on results that matched nothing.
const ProviderNone = "none"

// ParseSource converts a provider name to a Source. Unknown names return false.
func ParseSource(name string) (Source, bool) {
	s := Source(strings.ToLower(strings.TrimSpace(name)))
	switch s {
	case SourceGoogle, SourceFoursquare, SourceNominatim, SourceLocalReference, SourceSynthetic:
		return s, true
	default:
		return "", false
	}
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the point is the unknown (0,0) value.
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// UnresolvedPlace is a free-text place mention from a generated itinerary.
type UnresolvedPlace struct {
	Name         string       `json:"name"`
	Category     string       `json:"category,omitempty"`
	Neighborhood string       `json:"neighborhood,omitempty"`
	City         string       `json:"city"`
	Country      string       `json:"country"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
}

// Validate reports a missing name, city, or country.
func (q UnresolvedPlace) Validate() error {
	switch {
	case strings.TrimSpace(q.Name) == "":
		return eris.Wrap(ErrInvalidQuery, "name is required")
	case strings.TrimSpace(q.City) == "":
		return eris.Wrap(ErrInvalidQuery, "city is required")
	case strings.TrimSpace(q.Country) == "":
		return eris.Wrap(ErrInvalidQuery, "country is required")
	}
	return nil
}

// CacheKey returns the case-insensitive key shared by both cache tiers.
// Category is part of the key, so the same name under two categories
// occupies two entries.
func (q UnresolvedPlace) CacheKey() string {
	parts := []string{q.Name, q.City, q.Country, q.Category}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "|")
}

// LocationHint joins the non-empty neighborhood, city, and country.
func (q UnresolvedPlace) LocationHint() string {
	var parts []string
	for _, p := range []string{q.Neighborhood, q.City, q.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ResolvedPlace is a verified place record normalized across providers.
type ResolvedPlace struct {
	Name         string      `json:"name"`
	Address      string      `json:"address"`
	Neighborhood string      `json:"neighborhood,omitempty"`
	Coordinates  Coordinates `json:"coordinates"`
	Rating       *float64    `json:"rating,omitempty"`
	ReviewCount  *int        `json:"review_count,omitempty"`
	Photos       []string    `json:"photos,omitempty"`
	Confidence   float64     `json:"confidence"`
	Source       Source      `json:"source"`
	SourceID     string      `json:"source_id"`
	PriceLevel   *int        `json:"price_level,omitempty"`
	IsOpenNow    *bool       `json:"is_open_now,omitempty"`
	Website      string      `json:"website,omitempty"`
	Phone        string      `json:"phone,omitempty"`
}

// PlaceResolutionResult is the outcome of resolving one UnresolvedPlace.
// Resolved is nil when nothing matched; Error then explains why.
type PlaceResolutionResult struct {
	Original     UnresolvedPlace `json:"original"`
	Resolved     *ResolvedPlace  `json:"resolved"`
	Alternatives []ResolvedPlace `json:"alternatives"`
	Error        string          `json:"error,omitempty"`
	Provider     string          `json:"provider"`
	Duration     time.Duration   `json:"duration"`
	Cached       bool            `json:"cached"`
}

// Found reports whether the result carries a resolved place.
func (r PlaceResolutionResult) Found() bool {
	return r.Resolved != nil
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// Clone returns a deep copy so cached results never share mutable state
// with callers.
func (r PlaceResolutionResult) Clone() PlaceResolutionResult {
	out := r
	out.Original = r.Original.clone()
	if r.Resolved != nil {
		p := r.Resolved.Clone()
		out.Resolved = &p
	}
	if r.Alternatives != nil {
		out.Alternatives = make([]ResolvedPlace, len(r.Alternatives))
		for i, a := range r.Alternatives {
			out.Alternatives[i] = a.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p ResolvedPlace) Clone() ResolvedPlace {
	out := p
	if p.Rating != nil {
		out.Rating = Float64Ptr(*p.Rating)
	}
	if p.ReviewCount != nil {
		out.ReviewCount = IntPtr(*p.ReviewCount)
	}
	if p.PriceLevel != nil {
		out.PriceLevel = IntPtr(*p.PriceLevel)
	}
	if p.IsOpenNow != nil {
		out.IsOpenNow = BoolPtr(*p.IsOpenNow)
	}
	if p.Photos != nil {
		out.Photos = append([]string(nil), p.Photos...)
	}
	return out
}

func (q UnresolvedPlace) clone() UnresolvedPlace {
	if q.Coordinates != nil {
		c := *q.Coordinates
		q.Coordinates = &c
	}
	return q
}
