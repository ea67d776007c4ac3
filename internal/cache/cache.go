// Package cache is the process-wide store of fetched collection pages and
// counts. Pages are fetched on demand with at most one fetch in flight per
// key, served from memory until invalidated, and patched locally for
// optimistic updates.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/timeline-go/internal/api"
)

// DefaultSize bounds the number of cached pages (and, separately, counts)
// when Options.Size is zero.
const DefaultSize = 256

// CredentialSource hands out a credential valid at the instant of use, or
// "" when there is no session. *session.Manager satisfies it.
type CredentialSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// Fetcher performs the network call for one page. credential is "" for
// anonymous requests.
type Fetcher func(ctx context.Context, credential string) (*api.Page, error)

// IdentityFunc extracts the identity used to match records when patching.
type IdentityFunc func(api.Record) (string, bool)

// PageEntry is one cached page. Entries handed to callers are deep copies.
type PageEntry struct {
	Items      []api.Record
	TotalPages int
	FetchedAt  time.Time
}

func (e *PageEntry) clone() *PageEntry {
	if e == nil {
		return nil
	}

	items := make([]api.Record, len(e.Items))
	for i, r := range e.Items {
		items[i] = r.Clone()
	}

	return &PageEntry{Items: items, TotalPages: e.TotalPages, FetchedAt: e.FetchedAt}
}

// Options tunes a Cache. Zero values select the defaults.
type Options struct {
	// Size bounds the number of cached pages and counts; least recently
	// used entries are dropped first.
	Size int

	// Timeout bounds a shared fetch, which runs detached from the
	// cancellation of the callers waiting on it.
	Timeout time.Duration

	// Identity matches records for Patch. Defaults to api.Record.Identity.
	Identity IdentityFunc
}

// Stats summarizes cache activity.
type Stats struct {
	Pages   int
	Counts  int
	Hits    uint64
	Misses  uint64
	Fetches uint64
}

// flight tracks a fetch in progress so an invalidation that lands while it
// runs can keep its result out of the cache.
type flight struct {
	kind  string
	key   QueryKey
	stale bool
}

// Flight kinds.
const (
	kindPage  = "page"
	kindCount = "count"
)

// Cache is the resource cache. Safe for concurrent use.
type Cache struct {
	creds    CredentialSource
	logger   *slog.Logger
	timeout  time.Duration
	identity IdentityFunc

	// nowFunc stamps FetchedAt. Tests override it.
	nowFunc func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	pages    *lru.Cache[QueryKey, *PageEntry]
	counts   *lru.Cache[QueryKey, *CountEntry]
	inflight map[string]*flight

	hits    atomic.Uint64
	misses  atomic.Uint64
	fetches atomic.Uint64
}

// New creates a cache that borrows credentials from creds. creds may be nil
// for a cache used only with anonymous endpoints.
func New(creds CredentialSource, opts Options, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}

	identity := opts.Identity
	if identity == nil {
		identity = api.Record.Identity
	}

	pages, err := lru.NewWithEvict(size, func(k QueryKey, _ *PageEntry) {
		logger.Debug("page dropped from cache", slog.String("key", k.String()))
	})
	if err != nil {
		return nil, fmt.Errorf("cache: creating page store: %w", err)
	}

	counts, err := lru.New[QueryKey, *CountEntry](size)
	if err != nil {
		return nil, fmt.Errorf("cache: creating count store: %w", err)
	}

	return &Cache{
		creds:    creds,
		logger:   logger,
		timeout:  opts.Timeout,
		identity: identity,
		nowFunc:  time.Now,
		pages:    pages,
		counts:   counts,
		inflight: make(map[string]*flight),
	}, nil
}

// GetPage returns the cached entry for key, fetching it when absent.
// Concurrent calls for the same key share one fetch. A failed fetch leaves
// the cache untouched.
func (c *Cache) GetPage(ctx context.Context, key QueryKey, fetch Fetcher) (*PageEntry, error) {
	if e, ok := c.Peek(key); ok {
		c.hits.Add(1)
		return e, nil
	}

	c.misses.Add(1)

	return c.fetchPage(ctx, key, fetch)
}

// Refetch fetches key even when it is cached and replaces the entry.
func (c *Cache) Refetch(ctx context.Context, key QueryKey, fetch Fetcher) (*PageEntry, error) {
	return c.fetchPage(ctx, key, fetch)
}

// Peek returns the cached entry for key without fetching.
func (c *Cache) Peek(key QueryKey) (*PageEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pages.Get(key)
	if !ok {
		return nil, false
	}

	return e.clone(), true
}

func (c *Cache) fetchPage(ctx context.Context, key QueryKey, fetch Fetcher) (*PageEntry, error) {
	val, err := c.shared(ctx, kindPage, key, func(fctx context.Context, cred string) (any, func(), error) {
		page, err := fetch(fctx, cred)
		if err != nil {
			return nil, nil, err
		}

		if page.Items == nil {
			page.Items = []api.Record{}
		}

		entry := &PageEntry{Items: page.Items, TotalPages: max(page.TotalPages, 0), FetchedAt: c.nowFunc()}
		store := func() { c.pages.Add(key, entry) }

		return entry, store, nil
	})
	if err != nil {
		return nil, err
	}

	return val.(*PageEntry).clone(), nil
}

// shared runs fn at most once at a time per kind and key. fn returns the
// value for every waiter and a store func that is applied under c.mu unless
// an invalidation matched key while fn ran. Each caller stops waiting when its
// own ctx is done; the shared call carries on and still warms the cache.
func (c *Cache) shared(
	ctx context.Context, kind string, key QueryKey,
	fn func(ctx context.Context, cred string) (any, func(), error),
) (any, error) {
	sfKey := flightKey(kind, key)

	ch := c.group.DoChan(sfKey, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc

			fctx, cancel = context.WithTimeout(fctx, c.timeout)
			defer cancel()
		}

		fl := &flight{kind: kind, key: key}

		c.mu.Lock()
		c.inflight[sfKey] = fl
		c.mu.Unlock()

		c.fetches.Add(1)

		val, store, err := c.runFetch(fctx, fn)

		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.inflight, sfKey)

		if err != nil {
			c.logger.Debug("fetch failed", slog.String("key", sfKey), slog.String("error", err.Error()))
			return nil, err
		}

		if fl.stale {
			c.logger.Debug("discarding fetch invalidated in flight", slog.String("key", sfKey))
		} else {
			store()
		}

		return val, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for %s: %w", api.ErrNetwork, key, ctx.Err())
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Cache) runFetch(
	ctx context.Context, fn func(ctx context.Context, cred string) (any, func(), error),
) (any, func(), error) {
	var cred string

	if c.creds != nil {
		var err error

		cred, err = c.creds.EnsureValid(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	return fn(ctx, cred)
}

func flightKey(kind string, key QueryKey) string {
	return kind + ":" + key.String()
}

// markStale keeps a fetch already in flight for key from storing a result
// that predates a local write to the same key. Callers hold c.mu.
func (c *Cache) markStale(kind string, key QueryKey) {
	if fl, ok := c.inflight[flightKey(kind, key)]; ok {
		fl.stale = true
	}
}

// Invalidate removes every cached page whose key matches pred and returns
// how many were removed. Fetches in flight for matching keys will not store
// their results.
func (c *Cache) Invalidate(pred Predicate) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, k := range c.pages.Keys() {
		if pred(k) {
			c.pages.Remove(k)
			n++
		}
	}

	for _, fl := range c.inflight {
		if fl.kind == kindPage && pred(fl.key) {
			fl.stale = true
		}
	}

	if n > 0 {
		c.logger.Debug("invalidated pages", slog.Int("count", n))
	}

	return n
}

// Keys lists the cached page keys matching pred.
func (c *Cache) Keys(pred Predicate) []QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []QueryKey

	for _, k := range c.pages.Keys() {
		if pred == nil || pred(k) {
			out = append(out, k)
		}
	}

	return out
}

// Clear drops every page and count, e.g. after logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages.Purge()
	c.counts.Purge()

	for _, fl := range c.inflight {
		fl.stale = true
	}
}

// Stats returns a summary of the cache's contents and activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	pages, counts := c.pages.Len(), c.counts.Len()
	c.mu.Unlock()

	return Stats{
		Pages:   pages,
		Counts:  counts,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
	}
}
