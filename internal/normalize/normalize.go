// Package normalize converts provider-native search hits into
// model.ResolvedPlace records scored against the query.
package normalize

import (
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/place-resolver/internal/confidence"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/provider"
	"github.com/sells-group/place-resolver/pkg/foursquare"
	"github.com/sells-group/place-resolver/pkg/google"
	"github.com/sells-group/place-resolver/pkg/nominatim"
)

// MaxPhotos caps the photo URLs kept per place.
const MaxPhotos = 5

// PhotoWidthPx is the width requested for Google photo media.
const PhotoWidthPx = 800

var googlePriceLevels = map[string]int{
	"PRICE_LEVEL_FREE":           0,
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// Candidate normalizes one raw hit. It returns false for a variant it does
// not know.
func Candidate(query model.UnresolvedPlace, raw provider.RawCandidate) (model.ResolvedPlace, bool) {
	switch c := raw.(type) {
	case provider.GoogleCandidate:
		return Google(query, c.Place), true
	case provider.FoursquareCandidate:
		return Foursquare(query, c.Place), true
	case provider.NominatimCandidate:
		return Nominatim(query, c.Place), true
	default:
		return model.ResolvedPlace{}, false
	}
}

// All normalizes raws and orders them by confidence, best first.
func All(query model.UnresolvedPlace, raws []provider.RawCandidate) []model.ResolvedPlace {
	out := make([]model.ResolvedPlace, 0, len(raws))
	for _, r := range raws {
		if p, ok := Candidate(query, r); ok {
			out = append(out, p)
		}
	}
	Sort(out)
	return out
}

// Sort orders places by confidence descending. Ties keep provider order.
func Sort(places []model.ResolvedPlace) {
	slices.SortStableFunc(places, func(a, b model.ResolvedPlace) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})
}

// Google normalizes a Places API result.
func Google(query model.UnresolvedPlace, p google.Place) model.ResolvedPlace {
	out := model.ResolvedPlace{
		Name:         p.DisplayName.Text,
		Address:      p.FormattedAddress,
		Neighborhood: googleNeighborhood(p.AddressComponents),
		Confidence:   confidence.Score(query.Name, p.DisplayName.Text),
		Source:       model.SourceGoogle,
		SourceID:     p.ID,
		Website:      p.WebsiteURI,
		Phone:        p.InternationalPhoneNumber,
	}
	if p.Location != nil {
		out.Coordinates = model.Coordinates{Lat: p.Location.Latitude, Lng: p.Location.Longitude}
	}
	if p.Rating > 0 {
		out.Rating = model.Float64Ptr(p.Rating)
	}
	if p.UserRatingCount > 0 {
		out.ReviewCount = model.IntPtr(p.UserRatingCount)
	}
	if lvl, ok := googlePriceLevels[p.PriceLevel]; ok {
		out.PriceLevel = model.IntPtr(lvl)
	}
	if p.CurrentOpeningHours != nil && p.CurrentOpeningHours.OpenNow != nil {
		out.IsOpenNow = model.BoolPtr(*p.CurrentOpeningHours.OpenNow)
	}
	for _, ph := range p.Photos {
		if len(out.Photos) == MaxPhotos {
			break
		}
		if ph.Name != "" {
			out.Photos = append(out.Photos, google.PhotoURL(ph.Name, PhotoWidthPx))
		}
	}
	return out
}

func googleNeighborhood(comps []google.AddressComponent) string {
	for _, want := range []string{"neighborhood", "sublocality_level_1", "sublocality"} {
		for _, c := range comps {
			if slices.Contains(c.Types, want) {
				return c.LongText
			}
		}
	}
	return ""
}

// Foursquare normalizes a Places v3 result. Foursquare rates on 0-10;
// the result is halved onto the 0-5 scale used everywhere else.
func Foursquare(query model.UnresolvedPlace, p foursquare.Place) model.ResolvedPlace {
	out := model.ResolvedPlace{
		Name:        p.Name,
		Address:     p.Location.FormattedAddress,
		Coordinates: model.Coordinates{Lat: p.Geocodes.Main.Latitude, Lng: p.Geocodes.Main.Longitude},
		Confidence:  confidence.Score(query.Name, p.Name),
		Source:      model.SourceFoursquare,
		SourceID:    p.FsqID,
		Website:     p.Website,
		Phone:       p.Tel,
	}
	if len(p.Location.Neighborhood) > 0 {
		out.Neighborhood = p.Location.Neighborhood[0]
	}
	if p.Rating > 0 {
		out.Rating = model.Float64Ptr(p.Rating / 2)
	}
	if p.Stats != nil && p.Stats.TotalRatings > 0 {
		out.ReviewCount = model.IntPtr(p.Stats.TotalRatings)
	}
	if p.Price >= 1 && p.Price <= 4 {
		out.PriceLevel = model.IntPtr(p.Price)
	}
	if p.Hours != nil && p.Hours.OpenNow != nil {
		out.IsOpenNow = model.BoolPtr(*p.Hours.OpenNow)
	}
	for _, ph := range p.Photos {
		if len(out.Photos) == MaxPhotos {
			break
		}
		if ph.Prefix != "" {
			out.Photos = append(out.Photos, ph.URL())
		}
	}
	return out
}

// Nominatim normalizes an OpenStreetMap result. OSM carries no rating,
// price, or photos. Unparseable coordinates become zero.
func Nominatim(query model.UnresolvedPlace, p nominatim.Place) model.ResolvedPlace {
	name := p.Name
	if name == "" {
		name, _, _ = strings.Cut(p.DisplayName, ",")
		name = strings.TrimSpace(name)
	}

	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		lat = 0
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		lng = 0
	}

	neighborhood := p.Address.Neighbourhood
	if neighborhood == "" {
		neighborhood = p.Address.Suburb
	}

	return model.ResolvedPlace{
		Name:         name,
		Address:      p.DisplayName,
		Neighborhood: neighborhood,
		Coordinates:  model.Coordinates{Lat: lat, Lng: lng},
		Confidence:   confidence.Score(query.Name, name),
		Source:       model.SourceNominatim,
		SourceID:     nominatimID(p),
		Website:      p.ExtraTags.Website,
		Phone:        p.ExtraTags.Phone,
	}
}

func nominatimID(p nominatim.Place) string {
	if p.OSMType != "" && p.OSMID != 0 {
		return p.OSMType + "/" + strconv.FormatInt(p.OSMID, 10)
	}
	return strconv.FormatInt(p.PlaceID, 10)
}
