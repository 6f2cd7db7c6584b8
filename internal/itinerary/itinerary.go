// Package itinerary maps generated itineraries onto place resolution.
// It is the only package that knows the itinerary shape.
package itinerary

import (
	"context"
	"strings"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resolver"
)

// Itinerary is a generated trip plan.
type Itinerary struct {
	ID      string `json:"id"`
	City    string `json:"city"`
	Country string `json:"country"`
	Days    []Day  `json:"days"`
}

// Day is one day of the trip. City overrides the itinerary city for
// day trips.
type Day struct {
	ID    string `json:"id"`
	City  string `json:"city,omitempty"`
	Slots []Slot `json:"slots"`
}

// Slot is a time slot with candidate options.
type Slot struct {
	ID      string   `json:"id"`
	Options []Option `json:"options"`
}

// Option is one candidate activity for a slot.
type Option struct {
	ID       string   `json:"id"`
	Activity Activity `json:"activity"`
}

// Activity is the generator's guess at a place. Place is filled in once
// the activity resolves.
type Activity struct {
	Name         string               `json:"name"`
	Category     string               `json:"category,omitempty"`
	Neighborhood string               `json:"neighborhood,omitempty"`
	Coordinates  *model.Coordinates   `json:"coordinates,omitempty"`
	Place        *model.ResolvedPlace `json:"place,omitempty"`
}

// PlaceRef locates an option within an itinerary.
type PlaceRef struct {
	DayID    string `json:"day_id"`
	SlotID   string `json:"slot_id"`
	OptionID string `json:"option_id"`
}

// Resolver is the batch operation the adapter needs.
type Resolver interface {
	ResolvePlaces(ctx context.Context, qs []model.UnresolvedPlace, opts ...resolver.ResolveOption) ([]model.PlaceResolutionResult, error)
}

// Queries flattens every option with a non-blank activity name into a
// query, returning the queries and their refs in matching order.
func Queries(it Itinerary) ([]model.UnresolvedPlace, []PlaceRef) {
	var (
		qs   []model.UnresolvedPlace
		refs []PlaceRef
	)
	for _, d := range it.Days {
		city := it.City
		if strings.TrimSpace(d.City) != "" {
			city = d.City
		}
		for _, s := range d.Slots {
			for _, o := range s.Options {
				a := o.Activity
				if strings.TrimSpace(a.Name) == "" {
					continue
				}
				qs = append(qs, model.UnresolvedPlace{
					Name:         a.Name,
					Category:     a.Category,
					Neighborhood: a.Neighborhood,
					City:         city,
					Country:      it.Country,
					Coordinates:  a.Coordinates,
				})
				refs = append(refs, PlaceRef{DayID: d.ID, SlotID: s.ID, OptionID: o.ID})
			}
		}
	}
	return qs, refs
}

// ResolveItineraryPlaces resolves every activity in one batch and returns
// the results keyed by where they came from. On cancellation the partial
// results are returned with the context error.
func ResolveItineraryPlaces(ctx context.Context, r Resolver, it Itinerary, opts ...resolver.ResolveOption) (map[PlaceRef]model.PlaceResolutionResult, error) {
	qs, refs := Queries(it)
	out := make(map[PlaceRef]model.PlaceResolutionResult, len(refs))
	if len(qs) == 0 {
		return out, nil
	}

	results, err := r.ResolvePlaces(ctx, qs, opts...)
	for i, ref := range refs {
		if i < len(results) {
			out[ref] = results[i]
		}
	}
	return out, err
}

// Apply writes resolved places onto their activities and returns how many
// were applied. Activities whose result has no match keep the original
// guess.
func Apply(it *Itinerary, results map[PlaceRef]model.PlaceResolutionResult) int {
	applied := 0
	for di := range it.Days {
		d := &it.Days[di]
		for si := range d.Slots {
			s := &d.Slots[si]
			for oi := range s.Options {
				o := &s.Options[oi]
				res, ok := results[PlaceRef{DayID: d.ID, SlotID: s.ID, OptionID: o.ID}]
				if !ok || res.Resolved == nil {
					continue
				}
				p := res.Resolved.Clone()
				o.Activity.Place = &p
				applied++
			}
		}
	}
	return applied
}
