package cache

import (
	"log/slog"
	"slices"

	"github.com/tonimelisma/timeline-go/internal/api"
)

// Op is an optimistic patch operation.
type Op int

const (
	// OpInsert prepends the record. A record with the same identity already
	// on the page is moved to the front and replaced.
	OpInsert Op = iota
	// OpRemove deletes the record with the same identity.
	OpRemove
	// OpUpdate replaces the record with the same identity in place.
	OpUpdate
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Patch applies op to the cached page at key and reports whether the page
// changed. Patching a key with no cached page is a no-op: the next real
// fetch will include the change. Stored pages are replaced, never mutated,
// so entries already handed out are unaffected. A fetch of key already in
// flight does not overwrite the patched page.
func (c *Cache) Patch(key QueryKey, op Op, rec api.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.patchLocked(key, op, rec)
}

func (c *Cache) patchLocked(key QueryKey, op Op, rec api.Record) bool {
	c.markStale(kindPage, key)

	e, ok := c.pages.Peek(key)
	if !ok {
		return false
	}

	id, hasID := c.identity(rec)

	var items []api.Record

	switch op {
	case OpInsert:
		items = make([]api.Record, 0, len(e.Items)+1)
		items = append(items, rec.Clone())

		for _, r := range e.Items {
			if hasID && c.sameID(r, id) {
				continue
			}

			items = append(items, r)
		}

	case OpRemove:
		if !hasID {
			return false
		}

		items = slices.DeleteFunc(slices.Clone(e.Items), func(r api.Record) bool { return c.sameID(r, id) })
		if len(items) == len(e.Items) {
			return false
		}

	case OpUpdate:
		if !hasID {
			return false
		}

		i := slices.IndexFunc(e.Items, func(r api.Record) bool { return c.sameID(r, id) })
		if i < 0 {
			return false
		}

		items = slices.Clone(e.Items)
		items[i] = rec.Clone()

	default:
		return false
	}

	c.pages.Add(key, &PageEntry{Items: items, TotalPages: e.TotalPages, FetchedAt: e.FetchedAt})

	c.logger.Debug("page patched",
		slog.String("key", key.String()),
		slog.String("op", op.String()),
		slog.String("id", id),
	)

	return true
}

// ReplaceRecord swaps the record identified by oldID for the canonical rec,
// keeping its position and dropping any other copy of rec's identity. When
// oldID is not on the page but rec's identity is, that copy is updated.
// Returns whether the page changed.
func (c *Cache) ReplaceRecord(key QueryKey, oldID string, rec api.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.markStale(kindPage, key)

	e, ok := c.pages.Peek(key)
	if !ok {
		return false
	}

	i := slices.IndexFunc(e.Items, func(r api.Record) bool { return c.sameID(r, oldID) })
	if i < 0 {
		return c.patchLocked(key, OpUpdate, rec)
	}

	newID, hasNew := c.identity(rec)

	items := make([]api.Record, 0, len(e.Items))

	for j, r := range e.Items {
		switch {
		case j == i:
			items = append(items, rec.Clone())
		case hasNew && c.sameID(r, newID):
			// Already present from a refetch; keep the optimistic slot.
		default:
			items = append(items, r)
		}
	}

	c.pages.Add(key, &PageEntry{Items: items, TotalPages: e.TotalPages, FetchedAt: e.FetchedAt})

	c.logger.Debug("record reconciled",
		slog.String("key", key.String()),
		slog.String("old_id", oldID),
		slog.String("id", newID),
	)

	return true
}

// Contains reports whether the cached page at key holds a record with the
// given identity.
func (c *Cache) Contains(key QueryKey, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pages.Peek(key)
	if !ok {
		return false
	}

	return slices.ContainsFunc(e.Items, func(r api.Record) bool { return c.sameID(r, id) })
}

// Identity returns rec's identity as the cache matches it.
func (c *Cache) Identity(rec api.Record) (string, bool) {
	return c.identity(rec)
}

func (c *Cache) sameID(r api.Record, id string) bool {
	rid, ok := c.identity(r)
	return ok && rid == id
}
