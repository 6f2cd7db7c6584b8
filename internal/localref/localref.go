// Package localref serves curated per-city place data from YAML files so
// offline resolution can return real records without calling a provider.
package localref

import (
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/place-resolver/internal/model"
)

// FuzzyFloor is the default minimum name similarity for FindFuzzy.
const FuzzyFloor = 0.6

// Confidence is assigned to every reference record, exact or fuzzy.
const Confidence = 0.9

// File is one city's reference data on disk.
type File struct {
	City    string  `yaml:"city"`
	Country string  `yaml:"country"`
	Places  []Place `yaml:"places"`
}

// Place is one curated record.
type Place struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Aliases      []string          `yaml:"aliases"`
	Category     string            `yaml:"category"`
	Address      string            `yaml:"address"`
	Neighborhood string            `yaml:"neighborhood"`
	Coordinates  model.Coordinates `yaml:"coordinates"`
	Rating       *float64          `yaml:"rating"`
	ReviewCount  *int              `yaml:"review_count"`
	PriceLevel   *int              `yaml:"price_level"`
	Photos       []string          `yaml:"photos"`
	Website      string            `yaml:"website"`
	Phone        string            `yaml:"phone"`
}

type entry struct {
	place Place
	keys  []string // folded name and aliases
}

// Store holds reference data for every loaded city.
type Store struct {
	cities map[string][]entry
}

// New builds a store from already-parsed files.
func New(files ...File) *Store {
	s := &Store{cities: make(map[string][]entry)}
	for _, f := range files {
		s.add(f)
	}
	return s
}

// LoadDir reads every .yaml and .yml file in dir. A missing directory
// yields an empty store.
func LoadDir(dir string) (*Store, error) {
	s := New()
	if dir == "" {
		return s, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.y*ml"))
	if err != nil {
		return nil, eris.Wrapf(err, "localref: list %s", dir)
	}
	if len(paths) == 0 {
		if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
			zap.L().Debug("localref: directory not found", zap.String("dir", dir))
			return s, nil
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "localref: read %s", p)
		}
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrapf(err, "localref: parse %s", p)
		}
		if strings.TrimSpace(f.City) == "" {
			return nil, eris.Errorf("localref: %s has no city", p)
		}
		s.add(f)
	}

	zap.L().Debug("localref: loaded reference data",
		zap.String("dir", dir),
		zap.Int("files", len(paths)),
		zap.Int("cities", len(s.cities)),
	)
	return s, nil
}

func (s *Store) add(f File) {
	ck := cityKey(f.City, f.Country)
	for _, p := range f.Places {
		e := entry{place: p, keys: []string{Fold(p.Name)}}
		for _, a := range p.Aliases {
			e.keys = append(e.keys, Fold(a))
		}
		s.cities[ck] = append(s.cities[ck], e)
	}
}

// HasData reports whether any reference data exists for the city.
func (s *Store) HasData(city, country string) bool {
	return len(s.cities[cityKey(city, country)]) > 0
}

// FindExact returns the record whose name or alias equals the query name
// after folding.
func (s *Store) FindExact(q model.UnresolvedPlace) (model.ResolvedPlace, bool) {
	want := Fold(q.Name)
	for _, e := range s.cities[cityKey(q.City, q.Country)] {
		for _, k := range e.keys {
			if k == want {
				return e.resolved(), true
			}
		}
	}
	return model.ResolvedPlace{}, false
}

// FuzzyOptions tunes FindFuzzy. Zero values take defaults.
type FuzzyOptions struct {
	// MaxResults caps the matches returned. Default: 1.
	MaxResults int
	// MinSimilarity is the lowest accepted similarity. Default: FuzzyFloor.
	MinSimilarity float64
	// Category restricts matches to records in this category. When no
	// record in the category reaches the floor, every category is searched.
	Category string
}

// Match is a fuzzy hit and its name similarity.
type Match struct {
	Place      model.ResolvedPlace
	Similarity float64
}

// FindFuzzy returns records whose best name or alias similarity reaches
// the floor, most similar first. See FuzzyOptions.Category for filtering.
func (s *Store) FindFuzzy(q model.UnresolvedPlace, opts FuzzyOptions) []Match {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 1
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = FuzzyFloor
	}
	want := Fold(q.Name)
	if want == "" {
		return nil
	}
	category := Fold(opts.Category)

	type scored struct {
		e     *entry
		score float64
	}
	var hits, inCategory []scored
	entries := s.cities[cityKey(q.City, q.Country)]
	for i := range entries {
		e := &entries[i]
		best := 0.0
		for _, k := range e.keys {
			best = max(best, levenshtein.Similarity(want, k, nil))
		}
		if best < opts.MinSimilarity {
			continue
		}
		h := scored{e: e, score: best}
		hits = append(hits, h)
		if category != "" && Fold(e.place.Category) == category {
			inCategory = append(inCategory, h)
		}
	}
	if len(inCategory) > 0 {
		hits = inCategory
	}

	slices.SortStableFunc(hits, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	out := make([]Match, 0, min(len(hits), opts.MaxResults))
	for _, h := range hits[:min(len(hits), opts.MaxResults)] {
		out = append(out, Match{Place: h.e.resolved(), Similarity: h.score})
	}
	return out
}

func (e *entry) resolved() model.ResolvedPlace {
	p := e.place
	id := p.ID
	if id == "" {
		id = Fold(p.Name)
	}
	out := model.ResolvedPlace{
		Name:         p.Name,
		Address:      p.Address,
		Neighborhood: p.Neighborhood,
		Coordinates:  p.Coordinates,
		Confidence:   Confidence,
		Source:       model.SourceLocalReference,
		SourceID:     id,
		Website:      p.Website,
		Phone:        p.Phone,
	}
	if p.Rating != nil {
		out.Rating = model.Float64Ptr(*p.Rating)
	}
	if p.ReviewCount != nil {
		out.ReviewCount = model.IntPtr(*p.ReviewCount)
	}
	if p.PriceLevel != nil {
		out.PriceLevel = model.IntPtr(*p.PriceLevel)
	}
	if len(p.Photos) > 0 {
		out.Photos = append([]string(nil), p.Photos...)
	}
	return out
}

// Fold lowercases s, strips diacritics, turns punctuation into spaces, and
// collapses whitespace, so "Sensō-ji" and "senso ji" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = cases.Fold().String(stripped)
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, stripped)
	return strings.Join(strings.Fields(stripped), " ")
}

func cityKey(city, country string) string {
	return Fold(city) + "|" + Fold(country)
}
