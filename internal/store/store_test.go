package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/place-resolver/internal/model"
)

func sampleEntry(name string) model.CacheEntry {
	q := model.UnresolvedPlace{Name: name, City: "Kyoto", Country: "Japan", Category: "temple"}
	return model.CacheEntry{
		Query: q,
		Result: model.PlaceResolutionResult{
			Original: q,
			Resolved: &model.ResolvedPlace{
				Name:       name,
				Address:    "Higashiyama, Kyoto",
				Confidence: 0.9,
				Source:     model.SourceLocalReference,
				SourceID:   "kyoto-" + name,
			},
			Provider: string(model.SourceLocalReference),
		},
		Timestamp: "2026-04-01T00:00:00Z",
	}
}

func sampleIndex() *model.CacheIndex {
	idx := model.NewCacheIndex()
	for _, n := range []string{"Kiyomizu-dera", "Kinkaku-ji"} {
		e := sampleEntry(n)
		idx.Entries[e.Query.CacheKey()] = e
	}
	idx.LastUpdated = "2026-04-01T00:00:00Z"
	idx.TotalHits = 4
	idx.TotalMisses = 2
	return idx
}

func TestChangeSet_Empty(t *testing.T) {
	t.Parallel()
	assert.True(t, ChangeSet{}.Empty())
	assert.False(t, ChangeSet{All: true}.Empty())
	assert.False(t, ChangeSet{Keys: []string{"a"}}.Empty())
}

func TestChangedEntries(t *testing.T) {
	t.Parallel()

	idx := sampleIndex()
	all := changedEntries(idx, ChangeSet{All: true})
	assert.Equal(t, []string{"kinkaku-ji|kyoto|japan|temple", "kiyomizu-dera|kyoto|japan|temple"}, all)

	some := changedEntries(idx, ChangeSet{Keys: []string{"kiyomizu-dera|kyoto|japan|temple", "missing"}})
	assert.Equal(t, []string{"kiyomizu-dera|kyoto|japan|temple"}, some)
}
