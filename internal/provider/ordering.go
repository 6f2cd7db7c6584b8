package provider

import (
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/place-resolver/internal/model"
)

// Tiers. Any tier above TierFree costs money per request.
const (
	TierFree    = 0
	TierMetered = 1
	TierPremium = 2
)

// Ordering says which providers to try, in what order, for each category.
type Ordering struct {
	Providers  map[model.Source]Spec     `yaml:"providers"`
	Default    []model.Source            `yaml:"default"`
	Categories map[string][]model.Source `yaml:"categories"`
	Aliases    map[string]string         `yaml:"aliases"`
}

// Spec describes one provider in an ordering.
type Spec struct {
	Tier int `yaml:"tier"`
}

// DefaultOrdering returns the built-in ordering. Food and drink go to
// Foursquare first, sights to Google, and outdoor or area-level places to
// OpenStreetMap.
func DefaultOrdering() *Ordering {
	return &Ordering{
		Providers: map[model.Source]Spec{
			model.SourceGoogle:     {Tier: TierPremium},
			model.SourceFoursquare: {Tier: TierMetered},
			model.SourceNominatim:  {Tier: TierFree},
		},
		Default: []model.Source{model.SourceGoogle, model.SourceFoursquare, model.SourceNominatim},
		Categories: map[string][]model.Source{
			"restaurant": {model.SourceFoursquare, model.SourceGoogle, model.SourceNominatim},
			"cafe":       {model.SourceFoursquare, model.SourceGoogle, model.SourceNominatim},
			"bar":        {model.SourceFoursquare, model.SourceGoogle},
			"nightlife":  {model.SourceFoursquare, model.SourceGoogle},
			"shopping":   {model.SourceGoogle, model.SourceFoursquare, model.SourceNominatim},
			"museum":     {model.SourceGoogle, model.SourceNominatim, model.SourceFoursquare},
			"temple":     {model.SourceGoogle, model.SourceNominatim, model.SourceFoursquare},
			"landmark":   {model.SourceGoogle, model.SourceNominatim, model.SourceFoursquare},
			"attraction": {model.SourceGoogle, model.SourceFoursquare, model.SourceNominatim},
			"hotel":      {model.SourceGoogle, model.SourceFoursquare},
			"park":       {model.SourceNominatim, model.SourceGoogle},
			"viewpoint":  {model.SourceNominatim, model.SourceGoogle},
			"beach":      {model.SourceNominatim, model.SourceGoogle},
		},
		Aliases: map[string]string{
			"dining":      "restaurant",
			"food":        "restaurant",
			"coffee":      "cafe",
			"drinks":      "bar",
			"shrine":      "temple",
			"sightseeing": "attraction",
			"culture":     "museum",
			"nature":      "park",
			"lodging":     "hotel",
		},
	}
}

// LoadOrdering reads an ordering file and layers it over DefaultOrdering.
// Providers, categories, and aliases merge by key; a non-empty default list
// replaces the built-in one.
func LoadOrdering(path string) (*Ordering, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: read ordering %s", path)
	}

	var wrapper struct {
		Ordering Ordering `yaml:"ordering"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "provider: parse ordering")
	}

	o := DefaultOrdering()
	in := wrapper.Ordering
	for s, spec := range in.Providers {
		o.Providers[s] = spec
	}
	if len(in.Default) > 0 {
		o.Default = in.Default
	}
	for c, list := range in.Categories {
		o.Categories[normalizeCategory(c)] = list
	}
	for a, c := range in.Aliases {
		o.Aliases[normalizeCategory(a)] = normalizeCategory(c)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate rejects unknown provider names.
func (o *Ordering) Validate() error {
	check := func(where string, list []model.Source) error {
		for _, s := range list {
			if _, ok := model.ParseSource(string(s)); !ok {
				return eris.Errorf("provider: unknown provider %q in %s", s, where)
			}
		}
		return nil
	}
	if err := check("default", o.Default); err != nil {
		return err
	}
	for c, list := range o.Categories {
		if err := check("category "+c, list); err != nil {
			return err
		}
	}
	return nil
}

// Tier returns the tier of s. Unlisted providers are free.
func (o *Ordering) Tier(s model.Source) int {
	return o.Providers[s].Tier
}

// Expensive reports whether s costs money per request.
func (o *Ordering) Expensive(s model.Source) bool {
	return o.Tier(s) > TierFree
}

// Candidates returns the providers to try for category, in order. A
// non-empty allow list keeps only the providers it names. skipExpensive
// drops every provider above the free tier.
func (o *Ordering) Candidates(category string, allow []model.Source, skipExpensive bool) []model.Source {
	list, ok := o.Categories[o.canonical(category)]
	if !ok {
		list = o.Default
	}

	out := make([]model.Source, 0, len(list))
	for _, s := range list {
		if len(allow) > 0 && !slices.Contains(allow, s) {
			continue
		}
		if skipExpensive && o.Expensive(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (o *Ordering) canonical(category string) string {
	c := normalizeCategory(category)
	if alias, ok := o.Aliases[c]; ok {
		return alias
	}
	return c
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
