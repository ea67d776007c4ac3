package cache

import "log/slog"

// Snapshot is a before-image of selected pages and counts, including their
// absence. Restoring it puts those entries back exactly as they were.
type Snapshot struct {
	pages  map[QueryKey]*PageEntry
	counts map[QueryKey]*CountEntry
}

// Pages lists the page keys captured in the snapshot.
func (s *Snapshot) Pages() []QueryKey {
	keys := make([]QueryKey, 0, len(s.pages))
	for k := range s.pages {
		keys = append(keys, k)
	}

	return keys
}

// Snapshot captures the current page entries for pageKeys and count entries
// for countKeys.
func (c *Cache) Snapshot(pageKeys, countKeys []QueryKey) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Snapshot{
		pages:  make(map[QueryKey]*PageEntry, len(pageKeys)),
		counts: make(map[QueryKey]*CountEntry, len(countKeys)),
	}

	for _, k := range pageKeys {
		e, ok := c.pages.Peek(k)
		if ok {
			s.pages[k] = e.clone()
		} else {
			s.pages[k] = nil
		}
	}

	for _, k := range countKeys {
		e, ok := c.counts.Peek(k)
		if ok {
			ce := *e
			s.counts[k] = &ce
		} else {
			s.counts[k] = nil
		}
	}

	return s
}

// Restore puts every captured entry back: entries that existed are
// reinstated bit-for-bit, entries that did not are removed. Fetches of the
// captured keys already in flight do not store their results.
func (c *Cache) Restore(s *Snapshot) {
	if s == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range s.pages {
		c.markStale(kindPage, k)

		if e == nil {
			c.pages.Remove(k)
			continue
		}

		c.pages.Add(k, e.clone())
	}

	for k, e := range s.counts {
		c.markStale(kindCount, k)

		if e == nil {
			c.counts.Remove(k)
			continue
		}

		ce := *e
		c.counts.Add(k, &ce)
	}

	c.logger.Debug("cache restored from snapshot",
		slog.Int("pages", len(s.pages)),
		slog.Int("counts", len(s.counts)),
	)
}
