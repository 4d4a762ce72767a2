package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/donorsync/internal/client/metrics"
	"github.com/dmitrijs2005/donorsync/internal/logging"
)

var (
	// ErrStaleSession is returned for results produced under a session that has since ended.
	ErrStaleSession = errors.New("result belongs to an ended session")
	ErrTypeMismatch = errors.New("cached value has unexpected type")
)

// Status of a cache entry.
type Status int

const (
	StatusStale Status = iota
	StatusFresh
	StatusFetching
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusFetching:
		return "fetching"
	}
	return "stale"
}

// Loader reads a value from the server.
type Loader func(ctx context.Context) (any, error)

// Writer performs a mutation and returns the new value of the mutated key,
// or nil when the server returned no body.
type Writer func(ctx context.Context) (any, error)

// Session tells the cache which session loads belong to. Epoch changes when a
// session starts or ends; Context is cancelled when the current session ends.
type Session interface {
	Epoch() uint64
	Context() context.Context
}

type Options struct {
	Session  Session
	FreshFor time.Duration
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

type entry struct {
	key           string
	value         any
	hasValue      bool
	status        Status
	lastFetchedAt time.Time
	epoch         uint64

	// version changes whenever the value is replaced or invalidated; a load
	// only stores its result if the version it started from is still current.
	// A superseded load stays in inflight until it returns, so the next load
	// for the key waits for it.
	version  uint64
	inflight *call

	// mutation lock, held for the whole write of a Mutate
	mutMu sync.Mutex
}

type call struct {
	done    chan struct{}
	value   any
	err     error
	epoch   uint64
	version uint64
	cancel  context.CancelFunc
	after   *call
}

// Cache is a keyed, session-aware cache of server reads. Each key has at most
// one in-flight load; stale values are served while they are reloaded.
type Cache struct {
	session  Session
	freshFor time.Duration
	log      logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	subMu  sync.RWMutex
	subs   map[int]func(key string)
	nextID int
}

func New(opts Options) *Cache {
	c := &Cache{
		session:  opts.Session,
		freshFor: opts.FreshFor,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		entries:  make(map[string]*entry),
		subs:     make(map[int]func(string)),
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	return c
}

func (c *Cache) epoch() uint64 {
	if c.session == nil {
		return 0
	}
	return c.session.Epoch()
}

func (c *Cache) sessionContext() context.Context {
	if c.session == nil {
		return context.Background()
	}
	return c.session.Context()
}

// entryLocked returns the entry for key, creating it if needed. Values left
// over from an earlier session are dropped. c.mu must be held.
func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, status: StatusStale}
		c.entries[key] = e
	}
	cur := c.epoch()
	if e.inflight != nil && e.inflight.epoch != cur && e.status == StatusFetching {
		e.status = StatusStale
	}
	if e.hasValue && e.epoch != cur {
		e.value, e.hasValue = nil, false
		e.status = StatusStale
		e.version++
	}
	return e
}

func (c *Cache) isFresh(e *entry) bool {
	if !e.hasValue || e.status != StatusFresh {
		return false
	}
	if c.freshFor > 0 && c.now().Sub(e.lastFetchedAt) > c.freshFor {
		return false
	}
	return true
}

// Fetch returns the value for key. A fresh value is returned as is. A stale
// value is returned with refreshing=true while a background load runs. With
// no value yet, Fetch waits for the load. Concurrent callers share one load.
//
// Loads run on the session context, so a caller giving up does not abort the
// load other callers are waiting for.
func (c *Cache) Fetch(ctx context.Context, key string, load Loader) (value any, refreshing bool, err error) {
	c.mu.Lock()
	e := c.entryLocked(key)

	if c.isFresh(e) {
		v := e.value
		c.mu.Unlock()
		c.metrics.CacheLookup("hit")
		return v, false, nil
	}

	cl := e.inflight
	switch {
	case cl == nil:
		cl = c.startLocked(e, load, nil)
	case c.supersededLocked(e, cl):
		cl = c.startLocked(e, load, cl)
	}

	if e.hasValue {
		v := e.value
		c.mu.Unlock()
		c.metrics.CacheLookup("stale")
		return v, true, nil
	}
	c.mu.Unlock()
	c.metrics.CacheLookup("miss")

	select {
	case <-cl.done:
		return cl.value, false, cl.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// supersededLocked reports whether cl can no longer store its result in e.
func (c *Cache) supersededLocked(e *entry, cl *call) bool {
	return cl.version != e.version || cl.epoch != c.epoch()
}

// startLocked starts a load for e. When after is set the load begins only
// once after has returned. c.mu must be held.
func (c *Cache) startLocked(e *entry, load Loader, after *call) *call {
	lctx, cancel := context.WithCancel(c.sessionContext())
	cl := &call{
		done:    make(chan struct{}),
		epoch:   c.epoch(),
		version: e.version,
		cancel:  cancel,
		after:   after,
	}
	e.inflight = cl
	e.status = StatusFetching

	go func() {
		if after != nil {
			<-after.done
			c.mu.Lock()
			cl.after = nil
			c.mu.Unlock()
		}
		finish := c.metrics.CacheLoadStarted()
		v, err := load(lctx)
		cancel()
		outcome := c.complete(e, cl, v, err)
		finish(outcome)
	}()
	return cl
}

func (c *Cache) complete(e *entry, cl *call, v any, err error) string {
	c.mu.Lock()

	if e.inflight == cl {
		e.inflight = nil
	}

	outcome := "ok"
	stored := false
	current := c.entries[e.key] == e

	switch {
	case cl.epoch != c.epoch():
		v, err = nil, ErrStaleSession
		outcome = "discarded"
	case err != nil:
		if current && e.version == cl.version && e.status == StatusFetching {
			e.status = StatusStale
		}
		outcome = "error"
	case !current || e.version != cl.version:
		// superseded by a mutation, an invalidation or a reset; waiters get
		// the mutation's value when there is one
		outcome = "superseded"
		if current && e.hasValue && e.status == StatusFresh {
			v = e.value
		}
	default:
		e.value, e.hasValue = v, true
		e.status = StatusFresh
		e.lastFetchedAt = c.now()
		e.epoch = cl.epoch
		stored = true
	}

	cl.value, cl.err = v, err
	c.mu.Unlock()

	if err != nil && !errors.Is(err, ErrStaleSession) {
		c.log.Debug(context.Background(), "cache load failed", "key", e.key, "error", err)
	}
	if stored {
		c.notify(e.key)
	}
	close(cl.done)
	return outcome
}

// Invalidate marks every entry whose key starts with prefix as stale and
// returns how many were affected. Loads already in flight for those keys will
// not store their result; the next Fetch loads again once they have returned.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	keys := c.invalidateLocked(prefix, "")
	c.mu.Unlock()

	for _, k := range keys {
		c.notify(k)
	}
	return len(keys)
}

func (c *Cache) invalidateLocked(prefix, skip string) []string {
	var keys []string
	for k, e := range c.entries {
		if k == skip || !strings.HasPrefix(k, prefix) {
			continue
		}
		e.status = StatusStale
		e.version++
		keys = append(keys, k)
	}
	return keys
}

// Mutate runs write while holding key's mutation lock. On success the
// returned value replaces the cached value of key (a nil value invalidates
// key instead) and every prefix in invalidate is invalidated, in one step as
// seen by readers. Loads started before the mutation never overwrite its result.
func (c *Cache) Mutate(ctx context.Context, key string, write Writer, invalidate ...string) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	c.mu.Unlock()

	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	epoch := c.epoch()
	v, err := write(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.epoch() != epoch {
		c.mu.Unlock()
		return nil, ErrStaleSession
	}

	e = c.entryLocked(key)
	e.version++
	if v != nil {
		e.value, e.hasValue = v, true
		e.status = StatusFresh
		e.lastFetchedAt = c.now()
		e.epoch = epoch
	} else {
		e.status = StatusStale
	}

	changed := []string{key}
	for _, p := range invalidate {
		skip := ""
		if v != nil {
			skip = key
		}
		changed = append(changed, c.invalidateLocked(p, skip)...)
	}
	c.mu.Unlock()

	seen := make(map[string]struct{}, len(changed))
	for _, k := range changed {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		c.notify(k)
	}
	return v, nil
}

// Reset drops every entry and cancels in-flight loads. Called when a session ends.
func (c *Cache) Reset() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]*entry)
	for _, e := range old {
		for cl := e.inflight; cl != nil; cl = cl.after {
			cl.cancel()
		}
	}
	c.mu.Unlock()

	c.log.Debug(context.Background(), "cache reset", "entries", len(old))
}

// Peek returns the cached value of key without loading it.
func (c *Cache) Peek(key string) (value any, status Status, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || !e.hasValue || e.epoch != c.epoch() {
		return nil, StatusStale, false
	}
	st := e.status
	if st == StatusFresh && !c.isFresh(e) {
		st = StatusStale
	}
	return e.value, st, true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribe registers fn to be called with the key of every entry whose value
// or status changed. The returned func unsubscribes.
func (c *Cache) Subscribe(fn func(key string)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) notify(key string) {
	c.subMu.RLock()
	fns := make([]func(string), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}

// Fetch is the typed form of Cache.Fetch.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	v, refreshing, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, false, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: key %q holds %T", ErrTypeMismatch, key, v)
	}
	return t, refreshing, nil
}

// Mutate is the typed form of Cache.Mutate. A nil result invalidates key.
func Mutate[T any](ctx context.Context, c *Cache, key string, write func(ctx context.Context) (*T, error), invalidate ...string) (*T, error) {
	v, err := c.Mutate(ctx, key, func(ctx context.Context) (any, error) {
		p, err := write(ctx)
		if err != nil || p == nil {
			return nil, err
		}
		return p, nil
	}, invalidate...)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*T), nil
}
