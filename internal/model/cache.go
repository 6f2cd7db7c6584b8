package model

import "time"

// CacheEntry is one persisted resolution.
type CacheEntry struct {
	Query     UnresolvedPlace       `json:"query"`
	Result    PlaceResolutionResult `json:"result"`
	Timestamp string                `json:"timestamp"`
}

// CacheIndex is the whole persistent cache as stored on disk.
type CacheIndex struct {
	Entries     map[string]CacheEntry `json:"entries"`
	LastUpdated string                `json:"lastUpdated"`
	TotalHits   int64                 `json:"totalHits"`
	TotalMisses int64                 `json:"totalMisses"`
}

// NewCacheIndex returns an empty index with zero counters.
func NewCacheIndex() *CacheIndex {
	return &CacheIndex{Entries: make(map[string]CacheEntry)}
}

// Touch stamps LastUpdated with now in RFC 3339.
func (idx *CacheIndex) Touch(now time.Time) {
	idx.LastUpdated = now.UTC().Format(time.RFC3339)
}
