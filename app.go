package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/cache"
	"github.com/tonimelisma/timeline-go/internal/config"
	"github.com/tonimelisma/timeline-go/internal/kvstore"
	"github.com/tonimelisma/timeline-go/internal/mutation"
	"github.com/tonimelisma/timeline-go/internal/session"
)

// app bundles the long-lived components every command works through: one
// API client, one session, one cache and one mutation coordinator per
// process.
type app struct {
	cfg     *config.Resolved
	logger  *slog.Logger
	client  *api.Client
	kv      *kvstore.Store
	store   session.Store
	session *session.Manager
	cache   *cache.Cache
	coord   *mutation.Coordinator
}

// newApp assembles the components for cfg and restores the persisted
// session. Callers must Close the result.
func newApp(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*app, error) {
	// max_retries = 0 in config means "never retry"; the client reads zero
	// as "use the default".
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = -1
	}

	client := api.NewClient(cfg.ServerURL, nil, api.Options{
		Timeout:    cfg.RequestTimeout,
		MaxRetries: retries,
		UserAgent:  cfg.UserAgent,
	}, logger)

	a := &app{cfg: cfg, logger: logger, client: client}

	var err error

	a.store, err = a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	a.session = session.NewManager(client, a.store, cfg.RequestTimeout, logger)

	if err := a.session.Restore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("restoring session: %w", err)
	}

	a.cache, err = cache.New(a.session, cache.Options{
		Size:    cfg.CacheSize,
		Timeout: cfg.RequestTimeout,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.coord = mutation.New(a.session, a.cache, client, mutation.Options{
		FollowScanPages: cfg.FollowScanPages,
	}, logger)

	return a, nil
}

// openStore picks the session store named by the session_store setting.
func (a *app) openStore(ctx context.Context) (session.Store, error) {
	switch a.cfg.SessionStore {
	case config.SessionStoreSQLite:
		kv, err := kvstore.Open(ctx, a.cfg.StatePath(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("opening state database: %w", err)
		}

		a.kv = kv

		return session.NewKVStore(kv, a.cfg.Profile), nil
	default:
		return session.NewFileStore(a.cfg.SessionPath()), nil
	}
}

// Close releases the state database, if one was opened.
func (a *app) Close() {
	if a.cache != nil {
		s := a.cache.Stats()
		a.logger.Debug("cache activity",
			slog.Int("pages", s.Pages),
			slog.Int("counts", s.Counts),
			slog.Uint64("hits", s.Hits),
			slog.Uint64("misses", s.Misses),
			slog.Uint64("fetches", s.Fetches),
		)
	}

	if a.kv == nil {
		return
	}

	if err := a.kv.Close(); err != nil {
		a.logger.Warn("closing state database", slog.String("error", err.Error()))
	}
}

// forgetProfile drops everything the store keeps for the profile beyond the
// session itself. File stores keep nothing else.
func (a *app) forgetProfile(ctx context.Context) error {
	f, ok := a.store.(interface{ Forget(context.Context) error })
	if !ok {
		return nil
	}

	return f.Forget(ctx)
}

// me returns the signed-in user or api.ErrNotAuthenticated.
func (a *app) me() (*api.UserSummary, error) {
	u := a.session.CurrentUser()
	if u == nil {
		return nil, api.ErrNotAuthenticated
	}

	return u, nil
}

// lookupUser resolves a username to a user. An empty name means the
// signed-in user.
func (a *app) lookupUser(ctx context.Context, name string) (*api.UserSummary, error) {
	name = session.NormalizeUsername(name)
	if name == "" {
		return a.me()
	}

	if u := a.session.CurrentUser(); u != nil && u.Username == name {
		return u, nil
	}

	u, err := a.client.UserByUsername(ctx, name)
	if errors.Is(err, api.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found: %w", name, err)
	}

	return u, err
}

// pager walks endpoint through the cache. Keys carry no query parameters,
// matching the keys the mutation coordinator patches.
func (a *app) pager(endpoint string) *cache.Pager {
	return cache.NewPager(a.cache, endpoint, nil, func(ctx context.Context, cred string, page int) (*api.Page, error) {
		return a.client.FetchPage(ctx, endpoint, nil, page, cred)
	})
}

// list fetches an unpaginated collection through the cache.
func (a *app) list(ctx context.Context, endpoint string) (*cache.PageEntry, error) {
	key := cache.NewKey(endpoint, nil, 0)

	return a.cache.GetPage(ctx, key, func(ctx context.Context, cred string) (*api.Page, error) {
		return a.client.FetchList(ctx, endpoint, cred)
	})
}

// count returns a count served by its own endpoint.
func (a *app) count(ctx context.Context, endpoint string) (cache.CountEntry, error) {
	return a.cache.GetCount(ctx, cache.NewKey(endpoint, nil, 0), func(ctx context.Context, cred string) (int64, error) {
		return a.client.FetchCount(ctx, endpoint, cred)
	})
}

// totalElements returns the size of a paginated collection, cached under
// the collection's page 0 key so follow and unfollow adjust it.
func (a *app) totalElements(ctx context.Context, endpoint string) (cache.CountEntry, error) {
	return a.cache.GetCount(ctx, cache.NewKey(endpoint, nil, 0), func(ctx context.Context, cred string) (int64, error) {
		return a.client.FetchTotalElements(ctx, endpoint, cred)
	})
}

