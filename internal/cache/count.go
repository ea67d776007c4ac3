package cache

import (
	"context"
	"log/slog"
	"time"
)

// CountFetcher performs the network call for a count.
type CountFetcher func(ctx context.Context, credential string) (int64, error)

// CountEntry is a cached count served by its own endpoint (likes,
// followers, following). Stale counts are still shown but refetched by the
// next GetCount.
type CountEntry struct {
	Value     int64
	FetchedAt time.Time
	Stale     bool
}

// GetCount returns the cached count for key, fetching it when absent or
// stale. Concurrent calls share one fetch.
func (c *Cache) GetCount(ctx context.Context, key QueryKey, fetch CountFetcher) (CountEntry, error) {
	if e, ok := c.PeekCount(key); ok && !e.Stale {
		c.hits.Add(1)
		return e, nil
	}

	c.misses.Add(1)

	return c.RefetchCount(ctx, key, fetch)
}

// RefetchCount fetches the count for key and replaces the cached value.
func (c *Cache) RefetchCount(ctx context.Context, key QueryKey, fetch CountFetcher) (CountEntry, error) {
	val, err := c.shared(ctx, kindCount, key, func(fctx context.Context, cred string) (any, func(), error) {
		n, err := fetch(fctx, cred)
		if err != nil {
			return nil, nil, err
		}

		entry := &CountEntry{Value: n, FetchedAt: c.nowFunc()}
		store := func() { c.counts.Add(key, entry) }

		return entry, store, nil
	})
	if err != nil {
		return CountEntry{}, err
	}

	return *val.(*CountEntry), nil
}

// PeekCount returns the cached count for key without fetching.
func (c *Cache) PeekCount(key QueryKey) (CountEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.counts.Get(key)
	if !ok {
		return CountEntry{}, false
	}

	return *e, true
}

// AdjustCount applies a provisional delta to a cached count, never going
// below zero. Returns false when the count is not cached. A fetch of the
// count already in flight does not overwrite the adjusted value.
func (c *Cache) AdjustCount(key QueryKey, delta int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.markStale(kindCount, key)

	e, ok := c.counts.Peek(key)
	if !ok {
		return false
	}

	next := *e
	next.Value = max(next.Value+delta, 0)
	c.counts.Add(key, &next)

	c.logger.Debug("count adjusted",
		slog.String("key", key.String()),
		slog.Int64("delta", delta),
		slog.Int64("value", next.Value),
	)

	return true
}

// MarkCountStale flags matching counts so the next GetCount refetches them.
// The provisional value stays visible until then.
func (c *Cache) MarkCountStale(pred Predicate) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, k := range c.counts.Keys() {
		if !pred(k) {
			continue
		}

		e, _ := c.counts.Peek(k)
		next := *e
		next.Stale = true
		c.counts.Add(k, &next)
		n++
	}

	// A count fetched before the change must not land as fresh.
	for _, fl := range c.inflight {
		if fl.kind == kindCount && pred(fl.key) {
			fl.stale = true
		}
	}

	return n
}

// InvalidateCounts removes matching counts.
func (c *Cache) InvalidateCounts(pred Predicate) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, k := range c.counts.Keys() {
		if pred(k) {
			c.counts.Remove(k)
			n++
		}
	}

	for _, fl := range c.inflight {
		if fl.kind == kindCount && pred(fl.key) {
			fl.stale = true
		}
	}

	return n
}
