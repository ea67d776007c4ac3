package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/cache"
	"github.com/tonimelisma/timeline-go/internal/session"
)

// CreatePublication posts text as the current user. The new publication is
// shown at the front of the user's own list and the global list until the
// server's canonical record replaces it.
func (c *Coordinator) CreatePublication(ctx context.Context, text string) (api.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("create publication: %w: text is empty", api.ErrValidation)
	}

	u, err := c.currentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("create publication: %w", err)
	}

	tmp := api.Record{
		"id":         c.newID(),
		"text":       text,
		"user":       u.Record(),
		"createDate": c.nowFunc().UTC().Format(time.RFC3339),
	}

	own := api.UserPublicationsEndpoint(u.UserID)
	keys := []cache.QueryKey{
		cache.NewKey(own, nil, 0),
		cache.NewKey(api.EndpointPublications, nil, 0),
	}

	return c.Execute(ctx, Mutation{
		Name: "create publication",
		Patches: []PagePatch{
			{Key: keys[0], Op: cache.OpInsert, Record: tmp},
			{Key: keys[1], Op: cache.OpInsert, Record: tmp},
		},
		Call: func(ctx context.Context, cred string) (api.Record, error) {
			return c.backend.CreatePublication(ctx, cred, text)
		},
		Reconcile: true,
		Invalidate: cache.Any(
			cache.EndpointPrefix(api.TimelinePrefix),
			othersOf([]string{own, api.EndpointPublications}, keys),
		),
	})
}

// DeletePublication removes a publication from every cached list that shows
// it. A publication that is already gone counts as deleted.
func (c *Coordinator) DeletePublication(ctx context.Context, pubID int64) error {
	id := strconv.FormatInt(pubID, 10)
	rec := api.Record{"id": id}

	keys := c.keysContaining(cache.EndpointPrefix(api.EndpointPublications), id)

	patches := make([]PagePatch, len(keys))
	for i, k := range keys {
		patches[i] = PagePatch{Key: k, Op: cache.OpRemove, Record: rec}
	}

	_, err := c.Execute(ctx, Mutation{
		Name:    "delete publication " + id,
		Patches: patches,
		Call: func(ctx context.Context, cred string) (api.Record, error) {
			return nil, c.alreadyGone(c.backend.DeletePublication(ctx, cred, pubID), "publication", id)
		},
		Invalidate: cache.Any(
			func(k cache.QueryKey) bool {
				return strings.HasPrefix(k.Endpoint, api.EndpointPublications) && !slices.Contains(keys, k)
			},
			cache.Endpoint(api.CommentsEndpoint(pubID)),
		),
	})
	if err != nil {
		return err
	}

	c.cache.InvalidateCounts(cache.Endpoint(api.LikesCountEndpoint(pubID)))

	return nil
}

// Like adds the current user's like to a publication.
func (c *Coordinator) Like(ctx context.Context, pubID int64) error {
	return c.like(ctx, pubID, true)
}

// Unlike removes the current user's like. Unliking a publication that is not
// liked, or no longer exists, succeeds.
func (c *Coordinator) Unlike(ctx context.Context, pubID int64) error {
	return c.like(ctx, pubID, false)
}

func (c *Coordinator) like(ctx context.Context, pubID int64, add bool) error {
	name, delta := "like", int64(1)
	if !add {
		name, delta = "unlike", -1
	}

	u, err := c.currentUser(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	_, err = c.Execute(ctx, Mutation{
		Name:   name + " " + strconv.FormatInt(pubID, 10),
		Counts: []CountDelta{{Key: cache.NewKey(api.LikesCountEndpoint(pubID), nil, 0), Delta: delta}},
		Call: func(ctx context.Context, cred string) (api.Record, error) {
			if add {
				return nil, c.backend.Like(ctx, cred, pubID, u.UserID)
			}

			return nil, c.alreadyGone(c.backend.Unlike(ctx, cred, pubID, u.UserID), "like", strconv.FormatInt(pubID, 10))
		},
	})

	return err
}

// RenameUser changes the current user's username. Cached user lists show
// the new name immediately; publication lists, which embed author names, are
// refetched after success.
func (c *Coordinator) RenameUser(ctx context.Context, newName string) (api.Record, error) {
	name := session.NormalizeUsername(newName)
	if name == "" {
		return nil, fmt.Errorf("rename: %w: username is empty", api.ErrValidation)
	}

	u, err := c.currentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}

	renamed := *u
	renamed.Username = name
	rec := renamed.Record()

	uid := strconv.FormatInt(u.UserID, 10)
	keys := c.keysContaining(cache.EndpointPrefix(api.UsersPrefix), uid)

	patches := make([]PagePatch, len(keys))
	for i, k := range keys {
		patches[i] = PagePatch{Key: k, Op: cache.OpUpdate, Record: rec}
	}

	canonical, err := c.Execute(ctx, Mutation{
		Name:    "rename",
		Patches: patches,
		Call: func(ctx context.Context, cred string) (api.Record, error) {
			return c.backend.RenameUser(ctx, cred, u.UserID, name)
		},
		Reconcile:  true,
		Invalidate: cache.EndpointPrefix(api.EndpointPublications),
	})
	if err != nil {
		return nil, err
	}

	if got := canonical.String("username"); got != "" {
		renamed.Username = got
	}

	c.session.SetCurrentUser(ctx, &renamed)

	return canonical, nil
}

// CreateComment adds a comment to a publication.
func (c *Coordinator) CreateComment(ctx context.Context, pubID int64, text string) (api.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("comment: %w: text is empty", api.ErrValidation)
	}

	u, err := c.currentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("comment: %w", err)
	}

	tmp := api.Record{
		"id":         c.newID(),
		"text":       text,
		"user":       u.Record(),
		"createDate": c.nowFunc().UTC().Format(time.RFC3339),
	}

	return c.Execute(ctx, Mutation{
		Name:    "comment on " + strconv.FormatInt(pubID, 10),
		Patches: []PagePatch{{Key: cache.NewKey(api.CommentsEndpoint(pubID), nil, 0), Op: cache.OpInsert, Record: tmp}},
		Call: func(ctx context.Context, cred string) (api.Record, error) {
			return c.backend.CreateComment(ctx, cred, pubID, u.UserID, text)
		},
		Reconcile: true,
	})
}

// DeleteComment removes one of the current user's comments.
func (c *Coordinator) DeleteComment(ctx context.Context, pubID, commentID int64) error {
	u, err := c.currentUser(ctx)
	if err != nil {
		return fmt.Errorf("uncomment: %w", err)
	}

	id := strconv.FormatInt(commentID, 10)
	keys := c.keysContaining(cache.Endpoint(api.CommentsEndpoint(pubID)), id)

	patches := make([]PagePatch, len(keys))
	for i, k := range keys {
		patches[i] = PagePatch{Key: k, Op: cache.OpRemove, Record: api.Record{"id": id}}
	}

	_, err = c.Execute(ctx, Mutation{
		Name:    "delete comment " + id,
		Patches: patches,
		Call: func(ctx context.Context, cred string) (api.Record, error) {
			return nil, c.alreadyGone(c.backend.DeleteComment(ctx, cred, commentID, u.UserID), "comment", id)
		},
	})

	return err
}

// keysContaining lists cached pages matching pred that hold a record with
// the given identity.
func (c *Coordinator) keysContaining(pred cache.Predicate, id string) []cache.QueryKey {
	var out []cache.QueryKey

	for _, k := range c.cache.Keys(pred) {
		if c.cache.Contains(k, id) {
			out = append(out, k)
		}
	}

	return out
}

// alreadyGone turns a not-found answer to a delete into success.
func (c *Coordinator) alreadyGone(err error, what, id string) error {
	if errors.Is(err, api.ErrNotFound) {
		c.logger.Debug("already gone", slog.String("kind", what), slog.String("id", id))

		return nil
	}

	return err
}

// othersOf matches every key on the given endpoints except keep.
func othersOf(endpoints []string, keep []cache.QueryKey) cache.Predicate {
	return func(k cache.QueryKey) bool {
		for _, e := range endpoints {
			if k.Endpoint == e {
				return !slices.Contains(keep, k)
			}
		}

		return false
	}
}
