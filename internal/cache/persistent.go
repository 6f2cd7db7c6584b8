package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/store"
)

// DefaultDebounce is the quiet period after the last mutation before the
// index is written.
const DefaultDebounce = 100 * time.Millisecond

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = eris.New("cache: persistent cache is closed")

// Scheduler runs a function once after a delay and returns a handle that
// can cancel it. clockwork.Clock satisfies it, so tests drive the debounce
// with a fake clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// Txn is the view an operation gets of the index while it holds the lock.
// Operations report what they changed so the next flush writes only that.
type Txn struct {
	Index *model.CacheIndex

	dirty bool
	all   bool
	keys  []string
}

// MarkDirty schedules a full rewrite of the index.
func (t *Txn) MarkDirty() {
	t.dirty = true
	t.all = true
}

// MarkEntries schedules a write of the named entries and of the counters.
// With no keys only the counters are written.
func (t *Txn) MarkEntries(keys ...string) {
	t.dirty = true
	t.keys = append(t.keys, keys...)
}

// Stats summarizes the index.
type Stats struct {
	Backend     string `json:"backend"`
	Entries     int    `json:"entries"`
	TotalHits   int64  `json:"total_hits"`
	TotalMisses int64  `json:"total_misses"`
	LastUpdated string `json:"last_updated"`
	Dirty       bool   `json:"dirty"`
}

// Option configures a Persistent cache.
type Option func(*Persistent)

// WithClock sets the clock used for timestamps and, unless WithScheduler is
// also given, for the debounce timer.
func WithClock(c clockwork.Clock) Option {
	return func(p *Persistent) {
		p.clock = c
	}
}

// WithScheduler overrides the debounce scheduler.
func WithScheduler(s Scheduler) Option {
	return func(p *Persistent) {
		p.scheduler = s
	}
}

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(p *Persistent) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithMetrics records flushes and entry counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Persistent) {
		p.metrics = m
	}
}

// Persistent is the on-disk cache tier. Every read and write of the index
// runs as one operation on a single worker goroutine, in submission order,
// so no update is lost between concurrent resolutions. Writes are
// debounced: a burst of mutations produces one backend Save.
type Persistent struct {
	backend   store.Backend
	clock     clockwork.Clock
	scheduler Scheduler
	debounce  time.Duration
	metrics   *metrics.Metrics

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// Owned by the worker goroutine.
	index      *model.CacheIndex
	dirty      bool
	dirtyAll   bool
	dirtyKeys  map[string]struct{}
	timer      clockwork.Timer
	generation uint64
}

// Open starts the operation worker for backend. The index itself is loaded
// by the first operation.
func Open(backend store.Backend, opts ...Option) *Persistent {
	p := &Persistent{
		backend:   backend,
		debounce:  DefaultDebounce,
		ops:       make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		dirtyKeys: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.scheduler == nil {
		p.scheduler = p.clock
	}
	if p.metrics == nil {
		p.metrics = metrics.NewUnregistered()
	}
	go p.run()
	return p
}

func (p *Persistent) run() {
	defer close(p.done)
	for {
		select {
		case job := <-p.ops:
			job()
		case <-p.quit:
			return
		}
	}
}

// submit queues job behind every previously submitted operation. It fails
// only if ctx ends or the cache closes before the job is admitted.
func (p *Persistent) submit(ctx context.Context, job func()) error {
	select {
	case <-p.quit:
		return ErrClosed
	default:
	}
	select {
	case p.ops <- job:
		return nil
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithLock runs fn with exclusive access to the index. Operations run one
// at a time in submission order; the lock is released when fn returns,
// errors, or panics. Once admitted, fn runs to completion even if ctx is
// canceled.
func WithLock[T any](ctx context.Context, p *Persistent, fn func(tx *Txn) (T, error)) (T, error) {
	var (
		val T
		err error
	)
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				err = eris.Errorf("cache: operation panicked: %v", r)
			}
		}()

		p.ensureLoaded(ctx)
		tx := &Txn{Index: p.index}
		defer p.absorb(tx)
		val, err = fn(tx)
	}

	if serr := p.submit(ctx, job); serr != nil {
		var zero T
		return zero, serr
	}
	<-finished
	return val, err
}

// MarkDirty schedules a full rewrite of the index.
func (p *Persistent) MarkDirty(ctx context.Context) error {
	_, err := WithLock(ctx, p, func(tx *Txn) (struct{}, error) {
		tx.MarkDirty()
		return struct{}{}, nil
	})
	return err
}

// Flush writes pending changes now and cancels any scheduled write. It is
// a no-op when nothing is pending.
func (p *Persistent) Flush(ctx context.Context) error {
	return p.flushVia(ctx, metrics.FlushForced)
}

func (p *Persistent) flushVia(ctx context.Context, trigger string) error {
	var err error
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		err = p.flushLocked(ctx, trigger)
	}
	if serr := p.submit(ctx, job); serr != nil {
		return serr
	}
	<-finished
	return err
}

// Close flushes pending changes, stops the worker, and closes the backend.
// Later operations return ErrClosed.
func (p *Persistent) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		flushErr := p.flushVia(ctx, metrics.FlushClose)
		close(p.quit)
		<-p.done
		if p.timer != nil {
			p.timer.Stop()
		}
		p.closeErr = errors.Join(flushErr, p.backend.Close())
	})
	return p.closeErr
}

// Lookup returns the entry for key and records a hit or miss.
func (p *Persistent) Lookup(ctx context.Context, key string) (model.CacheEntry, bool, error) {
	type found struct {
		entry model.CacheEntry
		ok    bool
	}
	f, err := WithLock(ctx, p, func(tx *Txn) (found, error) {
		e, ok := tx.Index.Entries[key]
		if ok {
			tx.Index.TotalHits++
			e.Result = e.Result.Clone()
		} else {
			tx.Index.TotalMisses++
		}
		tx.MarkEntries()
		return found{entry: e, ok: ok}, nil
	})
	return f.entry, f.ok, err
}

// Put stores entry under key, overwriting any existing entry.
func (p *Persistent) Put(ctx context.Context, key string, entry model.CacheEntry) error {
	entry.Result = entry.Result.Clone()
	if entry.Timestamp == "" {
		entry.Timestamp = p.clock.Now().UTC().Format(time.RFC3339)
	}
	_, err := WithLock(ctx, p, func(tx *Txn) (struct{}, error) {
		tx.Index.Entries[key] = entry
		tx.MarkEntries(key)
		return struct{}{}, nil
	})
	return err
}

// Stats reports index counters without changing them.
func (p *Persistent) Stats(ctx context.Context) (Stats, error) {
	return WithLock(ctx, p, func(tx *Txn) (Stats, error) {
		return Stats{
			Backend:     p.backend.Name(),
			Entries:     len(tx.Index.Entries),
			TotalHits:   tx.Index.TotalHits,
			TotalMisses: tx.Index.TotalMisses,
			LastUpdated: tx.Index.LastUpdated,
			Dirty:       p.dirty,
		}, nil
	})
}

// ensureLoaded reads the index on first use. A missing or unreadable
// index starts empty.
func (p *Persistent) ensureLoaded(ctx context.Context) {
	if p.index != nil {
		return
	}
	idx, err := p.backend.Load(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, store.ErrIndexNotFound):
		idx = model.NewCacheIndex()
	default:
		zap.L().Warn("cache: index unreadable, starting empty",
			zap.String("backend", p.backend.Name()),
			zap.Error(err),
		)
		idx = model.NewCacheIndex()
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]model.CacheEntry)
	}
	p.index = idx
	p.metrics.CacheEntries.Set(float64(len(idx.Entries)))
}

// absorb folds a finished operation's changes into the pending set and
// restarts the debounce window.
func (p *Persistent) absorb(tx *Txn) {
	if !tx.dirty {
		return
	}
	p.dirty = true
	if tx.all {
		p.dirtyAll = true
	}
	for _, k := range tx.keys {
		p.dirtyKeys[k] = struct{}{}
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.generation++
	gen := p.generation
	p.timer = p.scheduler.AfterFunc(p.debounce, func() {
		_ = p.submit(context.Background(), func() {
			if gen != p.generation {
				return
			}
			if err := p.flushLocked(context.Background(), metrics.FlushDebounce); err != nil {
				zap.L().Warn("cache: debounced flush failed", zap.Error(err))
			}
		})
	})
}

func (p *Persistent) flushLocked(ctx context.Context, trigger string) error {
	if !p.dirty || p.index == nil {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.generation++

	keys := make([]string, 0, len(p.dirtyKeys))
	for k := range p.dirtyKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.index.Touch(p.clock.Now())
	changes := store.ChangeSet{All: p.dirtyAll, Keys: keys}
	if err := p.backend.Save(context.WithoutCancel(ctx), p.index, changes); err != nil {
		p.metrics.CacheFlushErrors.Inc()
		return eris.Wrapf(err, "cache: flush to %s", p.backend.Name())
	}

	p.dirty = false
	p.dirtyAll = false
	clear(p.dirtyKeys)
	p.metrics.CacheFlushes.WithLabelValues(trigger).Inc()
	p.metrics.CacheEntries.Set(float64(len(p.index.Entries)))
	zap.L().Debug("cache: index flushed",
		zap.String("backend", p.backend.Name()),
		zap.String("trigger", trigger),
		zap.Int("entries", len(p.index.Entries)),
		zap.Int("changed", len(keys)),
	)
	return nil
}
