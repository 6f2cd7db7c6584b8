// Package store persists the place cache index. Every backend stores the
// same model.CacheIndex; ordering and debouncing of writes is the caller's
// concern.
package store

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/model"
)

// ErrIndexNotFound is returned by Load when nothing has been persisted yet.
var ErrIndexNotFound = eris.New("store: cache index not found")

// ChangeSet describes what changed since the last Save. Counters and
// LastUpdated are always written.
type ChangeSet struct {
	// All requests a full rewrite of every entry.
	All bool
	// Keys lists entries written since the last Save.
	Keys []string
}

// Empty reports whether no entries changed.
func (c ChangeSet) Empty() bool {
	return !c.All && len(c.Keys) == 0
}

// Backend loads and saves the cache index.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// Load returns the stored index, or ErrIndexNotFound.
	Load(ctx context.Context) (*model.CacheIndex, error)
	// Save writes the entries named by changes plus the index counters.
	Save(ctx context.Context, idx *model.CacheIndex, changes ChangeSet) error
	// Close releases connections and handles.
	Close() error
}

// changedEntries resolves a ChangeSet into keys present in idx, sorted for
// deterministic write order.
func changedEntries(idx *model.CacheIndex, changes ChangeSet) []string {
	var keys []string
	if changes.All {
		keys = make([]string, 0, len(idx.Entries))
		for k := range idx.Entries {
			keys = append(keys, k)
		}
	} else {
		for _, k := range changes.Keys {
			if _, ok := idx.Entries[k]; ok {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
