// Package mutation performs writes against the backend with an
// optimistic-then-reconcile protocol: affected cache entries are patched
// before the call, reconciled with the server's canonical record on success,
// and restored exactly on failure.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/cache"
)

// defaultScanPages bounds IsFollowing when Options.FollowScanPages is zero.
const defaultScanPages = 5

// scanWorkers bounds the parallel page fetches of IsFollowing.
const scanWorkers = 4

// Session is the subset of the session manager the coordinator needs.
type Session interface {
	EnsureValid(ctx context.Context) (string, error)
	CurrentUser() *api.UserSummary
	SetCurrentUser(ctx context.Context, user *api.UserSummary)
}

// Backend is the subset of the API client the coordinator needs.
type Backend interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values, page int, token string) (*api.Page, error)
	CreatePublication(ctx context.Context, token, text string) (api.Record, error)
	DeletePublication(ctx context.Context, token string, pubID int64) error
	Like(ctx context.Context, token string, pubID, userID int64) error
	Unlike(ctx context.Context, token string, pubID, userID int64) error
	Follow(ctx context.Context, token string, userID, targetID int64) error
	Unfollow(ctx context.Context, token string, userID, targetID int64) error
	RenameUser(ctx context.Context, token string, userID int64, username string) (api.Record, error)
	CreateComment(ctx context.Context, token string, pubID, userID int64, text string) (api.Record, error)
	DeleteComment(ctx context.Context, token string, commentID, userID int64) error
}

// PagePatch is one optimistic change to a cached page.
type PagePatch struct {
	Key    cache.QueryKey
	Op     cache.Op
	Record api.Record
}

// CountDelta is a provisional adjustment to a cached count. The server is
// the source of truth for counts, so after success the count is marked
// stale and refetched on next read.
type CountDelta struct {
	Key   cache.QueryKey
	Delta int64
}

// Mutation describes one write.
type Mutation struct {
	// Name appears in logs and error messages.
	Name string

	Patches []PagePatch
	Counts  []CountDelta

	// Call performs the write with a valid credential and returns the
	// canonical record when the server sends one.
	Call func(ctx context.Context, credential string) (api.Record, error)

	// Reconcile makes the canonical record replace the optimistic records
	// of inserts and updates. Leave it off when the response is not the
	// patched record.
	Reconcile bool

	// Invalidate selects pages whose correctness a local patch cannot
	// guarantee (shifted pagination, lists on other endpoints).
	Invalidate cache.Predicate
}

// Options tunes a Coordinator.
type Options struct {
	// FollowScanPages bounds how many follower pages IsFollowing reads.
	FollowScanPages int
}

// Coordinator runs mutations. Safe for concurrent use.
type Coordinator struct {
	session   Session
	cache     *cache.Cache
	backend   Backend
	logger    *slog.Logger
	scanPages int

	// newID generates temporary identities for optimistic inserts.
	newID func() string
	// nowFunc stamps optimistic records. Tests override it.
	nowFunc func() time.Time

	// Concurrent mutations may touch the same cache entry, and a snapshot
	// holds whatever other mutations had patched in when it was taken.
	// marks records, per entry, the last mutation to patch or settle it. A
	// failed mutation that is no longer the last one restores and then
	// invalidates the entry, leaving the next read to refetch it.
	mu    sync.Mutex
	seq   uint64
	marks map[writeKey]*writeMark
}

// writeKey names a cached page, or with count set a cached count.
type writeKey struct {
	key   cache.QueryKey
	count bool
}

// writeMark is the latest mutation sequence to touch an entry and how many
// mutations touching it are still outstanding.
type writeMark struct {
	seq    uint64
	active int
}

// New creates a coordinator.
func New(session Session, c *cache.Cache, backend Backend, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	scan := opts.FollowScanPages
	if scan <= 0 {
		scan = defaultScanPages
	}

	return &Coordinator{
		session:   session,
		cache:     c,
		backend:   backend,
		logger:    logger,
		scanPages: scan,
		newID:     func() string { return "tmp-" + uuid.NewString() },
		nowFunc:   time.Now,
		marks:     make(map[writeKey]*writeMark),
	}
}

// Execute runs m: it borrows a credential, applies the optimistic patches,
// performs the call, then reconciles on success or restores the exact
// pre-mutation cache state on failure. Entries another mutation patched in
// the meantime are invalidated instead of restored. With no session it fails with
// api.ErrNotAuthenticated before touching the cache or the network.
func (c *Coordinator) Execute(ctx context.Context, m Mutation) (api.Record, error) {
	cred, err := c.session.EnsureValid(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}

	if cred == "" {
		return nil, fmt.Errorf("%s: %w", m.Name, api.ErrNotAuthenticated)
	}

	pageKeys := make([]cache.QueryKey, len(m.Patches))
	for i, p := range m.Patches {
		pageKeys[i] = p.Key
	}

	countKeys := make([]cache.QueryKey, len(m.Counts))
	for i, d := range m.Counts {
		countKeys[i] = d.Key
	}

	keys := make([]writeKey, 0, len(pageKeys)+len(countKeys))
	for _, k := range pageKeys {
		keys = append(keys, writeKey{key: k})
	}

	for _, k := range countKeys {
		keys = append(keys, writeKey{key: k, count: true})
	}

	c.mu.Lock()

	snap := c.cache.Snapshot(pageKeys, countKeys)

	for _, p := range m.Patches {
		c.cache.Patch(p.Key, p.Op, p.Record)
	}

	for _, d := range m.Counts {
		c.cache.AdjustCount(d.Key, d.Delta)
	}

	seq := c.claimLocked(keys)

	c.mu.Unlock()

	rec, err := m.Call(ctx, cred)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.releaseLocked(keys)

	if err != nil {
		c.cache.Restore(snap)
		contested := c.invalidateContestedLocked(keys, seq)

		c.logger.Warn("mutation failed, rolled back",
			slog.String("mutation", m.Name),
			slog.Int("contested", contested),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}

	if m.Reconcile {
		c.reconcile(m.Patches, rec)
	}

	if len(countKeys) > 0 {
		c.cache.MarkCountStale(func(k cache.QueryKey) bool {
			for _, ck := range countKeys {
				if k == ck {
					return true
				}
			}

			return false
		})
	}

	if m.Invalidate != nil {
		c.cache.Invalidate(m.Invalidate)
	}

	c.logger.Info("mutation succeeded",
		slog.String("mutation", m.Name),
		slog.Int("patches", len(m.Patches)),
		slog.Bool("canonical", rec != nil),
	)

	return rec, nil
}

// reconcile swaps optimistic records for the canonical one. Without a
// canonical record (204) the optimistic pages are dropped so the next read
// fetches the server's version.
func (c *Coordinator) reconcile(patches []PagePatch, rec api.Record) {
	for _, p := range patches {
		if p.Op == cache.OpRemove {
			continue
		}

		if rec == nil {
			c.cache.Invalidate(cache.ExactKey(p.Key))
			continue
		}

		if oldID, ok := c.cache.Identity(p.Record); ok {
			c.cache.ReplaceRecord(p.Key, oldID, rec)
		}
	}
}

// claimLocked marks keys as last touched by a new mutation and returns its
// sequence. Caller holds c.mu.
func (c *Coordinator) claimLocked(keys []writeKey) uint64 {
	c.seq++

	for _, k := range keys {
		mk := c.marks[k]
		if mk == nil {
			mk = &writeMark{}
			c.marks[k] = mk
		}

		mk.seq = c.seq
		mk.active++
	}

	return c.seq
}

// invalidateContestedLocked drops the entries among keys that a mutation
// other than seq touched after seq patched them, and returns how many.
// Caller holds c.mu.
func (c *Coordinator) invalidateContestedLocked(keys []writeKey, seq uint64) int {
	n := 0

	for _, k := range keys {
		if c.marks[k].seq == seq {
			continue
		}

		n++

		if k.count {
			c.cache.InvalidateCounts(cache.ExactKey(k.key))
		} else {
			c.cache.Invalidate(cache.ExactKey(k.key))
		}
	}

	return n
}

// releaseLocked settles a mutation on keys. Settling counts as touching the
// entry, so an older mutation still in flight will not restore over it.
// Caller holds c.mu.
func (c *Coordinator) releaseLocked(keys []writeKey) {
	c.seq++

	for _, k := range keys {
		mk := c.marks[k]
		mk.seq = c.seq

		mk.active--
		if mk.active == 0 {
			delete(c.marks, k)
		}
	}
}

// currentUser returns the signed-in user or api.ErrNotAuthenticated. It
// renews the credential if needed so the profile is current.
func (c *Coordinator) currentUser(ctx context.Context) (*api.UserSummary, error) {
	cred, err := c.session.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	u := c.session.CurrentUser()
	if cred == "" || u == nil {
		return nil, api.ErrNotAuthenticated
	}

	return u, nil
}
