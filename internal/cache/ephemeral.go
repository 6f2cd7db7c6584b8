// Package cache holds the two resolution cache tiers: a bounded in-process
// tier with a TTL, and a persistent index whose every access is serialized
// through a single FIFO operation queue.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sells-group/place-resolver/internal/model"
)

// DefaultEphemeralTTL is how long an in-process entry stays valid.
const DefaultEphemeralTTL = 24 * time.Hour

// DefaultEphemeralMaxEntries bounds the in-process tier.
const DefaultEphemeralMaxEntries = 10000

// Ephemeral is a TTL- and size-bounded LRU of resolution results.
type Ephemeral struct {
	ttl        time.Duration
	maxEntries int
	clock      clockwork.Clock

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element
}

type ephemeralItem struct {
	key       string
	result    model.PlaceResolutionResult
	expiresAt time.Time
}

// NewEphemeral creates an in-process cache. Non-positive arguments select
// the defaults; a nil clock uses real time.
func NewEphemeral(ttl time.Duration, maxEntries int, clock clockwork.Clock) *Ephemeral {
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultEphemeralMaxEntries
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ephemeral{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clock,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns a copy of the live entry for key. Expired entries are
// dropped on read.
func (e *Ephemeral) Get(key string) (model.PlaceResolutionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	el, ok := e.items[key]
	if !ok {
		return model.PlaceResolutionResult{}, false
	}
	item := el.Value.(*ephemeralItem)
	if !e.clock.Now().Before(item.expiresAt) {
		e.removeElement(el)
		return model.PlaceResolutionResult{}, false
	}
	e.order.MoveToFront(el)
	return item.result.Clone(), true
}

// Set stores a copy of result under key, replacing any previous entry and
// restarting its TTL.
func (e *Ephemeral) Set(key string, result model.PlaceResolutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	expiresAt := e.clock.Now().Add(e.ttl)
	if el, ok := e.items[key]; ok {
		item := el.Value.(*ephemeralItem)
		item.result = result.Clone()
		item.expiresAt = expiresAt
		e.order.MoveToFront(el)
		return
	}

	el := e.order.PushFront(&ephemeralItem{key: key, result: result.Clone(), expiresAt: expiresAt})
	e.items[key] = el
	for e.order.Len() > e.maxEntries {
		e.removeElement(e.order.Back())
	}
}

// Len returns the number of stored entries, including any not yet
// observed as expired.
func (e *Ephemeral) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Len()
}

// Clear drops every entry.
func (e *Ephemeral) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order.Init()
	e.items = make(map[string]*list.Element)
}

func (e *Ephemeral) removeElement(el *list.Element) {
	item := el.Value.(*ephemeralItem)
	delete(e.items, item.key)
	e.order.Remove(el)
}
