package cache

import (
	"context"
	"net/url"
	"sync"

	"github.com/tonimelisma/timeline-go/internal/api"
)

// PageFetcher fetches one page of a collection.
type PageFetcher func(ctx context.Context, credential string, page int) (*api.Page, error)

// Pager walks a paginated collection through the cache. Pages are
// zero-indexed. Until the first load completes the collection is assumed to
// have one page, so navigation is never disabled before data arrives.
type Pager struct {
	cache *Cache
	base  QueryKey
	fetch PageFetcher

	mu         sync.Mutex
	page       int
	totalPages int
}

// NewPager creates a pager positioned at page 0.
func NewPager(c *Cache, endpoint string, params url.Values, fetch PageFetcher) *Pager {
	return &Pager{
		cache:      c,
		base:       NewKey(endpoint, params, 0),
		fetch:      fetch,
		totalPages: 1,
	}
}

// Page returns the current page index.
func (p *Pager) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.page
}

// TotalPages returns the last known page count, 1 before the first load.
func (p *Pager) TotalPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.totalPages
}

// Key returns the cache key of the current page.
func (p *Pager) Key() QueryKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.base.WithPage(p.page)
}

// Next advances one page. Returns false, leaving the position unchanged, on
// the last page.
func (p *Pager) Next() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.page >= p.totalPages-1 {
		return false
	}

	p.page++

	return true
}

// Prev goes back one page. Returns false on the first page.
func (p *Pager) Prev() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.page <= 0 {
		return false
	}

	p.page--

	return true
}

// SetPage jumps to page n, clamped to the known bounds, and returns the
// resulting position.
func (p *Pager) SetPage(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.page = p.clamp(n)

	return p.page
}

// Load returns the current page, fetching it through the cache when
// needed, and updates the known page count.
func (p *Pager) Load(ctx context.Context) (*PageEntry, error) {
	key := p.Key()

	e, err := p.cache.GetPage(ctx, key, func(ctx context.Context, cred string) (*api.Page, error) {
		return p.fetch(ctx, cred, key.Page)
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.totalPages = e.TotalPages
	p.page = p.clamp(p.page)
	p.mu.Unlock()

	return e, nil
}

// clamp bounds n to [0, totalPages-1]. Caller holds p.mu.
func (p *Pager) clamp(n int) int {
	return max(0, min(n, p.totalPages-1))
}
