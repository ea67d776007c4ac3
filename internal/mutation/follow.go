package mutation

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/cache"
)

// Follow makes the current user follow target.
func (c *Coordinator) Follow(ctx context.Context, target *api.UserSummary) error {
	return c.follow(ctx, target, true)
}

// Unfollow makes the current user stop following target. Unfollowing a user
// who is not followed succeeds.
func (c *Coordinator) Unfollow(ctx context.Context, target *api.UserSummary) error {
	return c.follow(ctx, target, false)
}

func (c *Coordinator) follow(ctx context.Context, target *api.UserSummary, add bool) error {
	name := "follow"
	if !add {
		name = "unfollow"
	}

	if target == nil {
		return fmt.Errorf("%s: %w: no target user", name, api.ErrValidation)
	}

	u, err := c.currentUser(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if u.UserID == target.UserID {
		return fmt.Errorf("%s: %w: cannot %s yourself", name, api.ErrValidation, name)
	}

	followers := api.FollowersEndpoint(target.UserID)
	following := api.FollowingEndpoint(u.UserID)
	me, them := u.Record(), target.Record()

	var (
		patches []PagePatch
		touched []cache.QueryKey
		delta   int64
	)

	if add {
		delta = 1
		touched = []cache.QueryKey{cache.NewKey(followers, nil, 0), cache.NewKey(following, nil, 0)}
		patches = []PagePatch{
			{Key: touched[0], Op: cache.OpInsert, Record: me},
			{Key: touched[1], Op: cache.OpInsert, Record: them},
		}
	} else {
		delta = -1

		for _, k := range c.keysContaining(cache.Endpoint(followers), strconv.FormatInt(u.UserID, 10)) {
			patches = append(patches, PagePatch{Key: k, Op: cache.OpRemove, Record: me})
			touched = append(touched, k)
		}

		for _, k := range c.keysContaining(cache.Endpoint(following), strconv.FormatInt(target.UserID, 10)) {
			patches = append(patches, PagePatch{Key: k, Op: cache.OpRemove, Record: them})
			touched = append(touched, k)
		}
	}

	_, err = c.Execute(ctx, Mutation{
		Name:    name + " " + target.Username,
		Patches: patches,
		Counts: []CountDelta{
			{Key: cache.NewKey(followers, nil, 0), Delta: delta},
			{Key: cache.NewKey(following, nil, 0), Delta: delta},
		},
		Call: func(ctx context.Context, cred string) (api.Record, error) {
			if add {
				return nil, c.backend.Follow(ctx, cred, u.UserID, target.UserID)
			}

			err := c.backend.Unfollow(ctx, cred, u.UserID, target.UserID)

			return nil, c.alreadyGone(err, "follow", strconv.FormatInt(target.UserID, 10))
		},
		// Inserting at the front shifts later pages; the timeline gains or
		// loses the target's publications.
		Invalidate: cache.Any(
			othersOf([]string{followers, following}, touched),
			cache.Endpoint(api.TimelineEndpoint(u.UserID)),
		),
	})

	return err
}

// IsFollowing reports whether followerID follows targetID by scanning the
// target's follower pages through the cache. At most the configured number
// of pages is read; certain is false when the answer is "no" but unread
// pages remain.
func (c *Coordinator) IsFollowing(ctx context.Context, followerID, targetID int64) (following, certain bool, err error) {
	endpoint := api.FollowersEndpoint(targetID)
	want := strconv.FormatInt(followerID, 10)

	fetch := func(page int) cache.Fetcher {
		return func(ctx context.Context, cred string) (*api.Page, error) {
			return c.backend.FetchPage(ctx, endpoint, nil, page, cred)
		}
	}

	first, err := c.cache.GetPage(ctx, cache.NewKey(endpoint, nil, 0), fetch(0))
	if err != nil {
		return false, false, fmt.Errorf("checking follow: %w", err)
	}

	if hasIdentity(first, want) {
		return true, true, nil
	}

	last := min(first.TotalPages, c.scanPages)

	var found atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)

	for p := 1; p < last; p++ {
		g.Go(func() error {
			if found.Load() {
				return nil
			}

			e, err := c.cache.GetPage(gctx, cache.NewKey(endpoint, nil, p), fetch(p))
			if err != nil {
				return err
			}

			if hasIdentity(e, want) {
				found.Store(true)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil && !found.Load() {
		return false, false, fmt.Errorf("checking follow: %w", err)
	}

	if found.Load() {
		return true, true, nil
	}

	return false, first.TotalPages <= c.scanPages, nil
}

func hasIdentity(e *cache.PageEntry, id string) bool {
	for _, r := range e.Items {
		if got, ok := r.Identity(); ok && got == id {
			return true
		}
	}

	return false
}
