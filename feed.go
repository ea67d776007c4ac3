package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/cache"
	"github.com/tonimelisma/timeline-go/internal/session"
)

func newTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show publications from the users you follow",
		Long: `Show publications from the users you follow.

With --watch the timeline is refreshed every poll_interval and reprinted when
it changes. A sign-in or sign-out in another terminal is picked up without
restarting.`,
		Args: cobra.NoArgs,
		RunE: runTimeline,
	}

	cmd.Flags().Int("page", 1, "page number, starting at 1")
	cmd.Flags().Bool("watch", false, "keep refreshing until interrupted")

	return cmd
}

func newPublicationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publications",
		Short: "List publications by a user, or by everyone",
		Long: `List publications. With --user, only that user's publications are shown;
--user me selects the signed-in user. Without it, all publications are
listed.`,
		Args: cobra.NoArgs,
		RunE: runPublications,
	}

	cmd.Flags().String("user", "", "username whose publications to list")
	cmd.Flags().Int("page", 1, "page number, starting at 1")

	return cmd
}

func newFollowersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "followers [USERNAME]",
		Short: "List a user's followers (default: you)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, args, api.FollowersEndpoint, "followers")
		},
	}

	cmd.Flags().Int("page", 1, "page number, starting at 1")

	return cmd
}

func newFollowingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "following [USERNAME]",
		Short: "List the users a user follows (default: you)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, args, api.FollowingEndpoint, "following")
		},
	}

	cmd.Flags().Int("page", 1, "page number, starting at 1")

	return cmd
}

func newCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments PUBLICATION_ID",
		Short: "List the comments on a publication",
		Args:  cobra.ExactArgs(1),
		RunE:  runComments,
	}
}

func newLikesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "likes PUBLICATION_ID",
		Short: "Show how many likes a publication has",
		Args:  cobra.ExactArgs(1),
		RunE:  runLikes,
	}
}

// parseID parses a numeric identifier argument.
func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", api.ErrValidation, what, s)
	}

	return id, nil
}

// pageFlag returns the zero-based page requested with --page.
func pageFlag(cmd *cobra.Command) (int, error) {
	n, _ := cmd.Flags().GetInt("page")
	if n < 1 {
		return 0, fmt.Errorf("%w: --page must be at least 1, got %d", api.ErrValidation, n)
	}

	return n - 1, nil
}

// loadPage positions p at page n and loads it. Page 0 is loaded first so
// the pager knows the page count; a request past the end lands on the last
// page.
func loadPage(ctx context.Context, p *cache.Pager, n int) (*cache.PageEntry, error) {
	e, err := p.Load(ctx)
	if err != nil || n == 0 {
		return e, err
	}

	if p.SetPage(n) == 0 {
		return e, nil
	}

	return p.Load(ctx)
}

// pageOutput is the JSON form of one page of a collection.
type pageOutput struct {
	Page       int          `json:"page"`
	TotalPages int          `json:"total_pages"`
	Total      *int64       `json:"total,omitempty"`
	Items      []api.Record `json:"items"`
}

func printPage(w io.Writer, p *cache.Pager, e *cache.PageEntry, users bool) error {
	if flagJSON {
		return printJSON(w, pageOutput{Page: p.Page() + 1, TotalPages: e.TotalPages, Items: nonNil(e.Items)})
	}

	if len(e.Items) == 0 {
		statusf(w, "Nothing here yet.\n")
		return nil
	}

	if users {
		printUsers(w, e.Items)
	} else {
		printPublications(w, e.Items)
	}

	printPageFooter(w, p.Page(), e.TotalPages)

	return nil
}

func nonNil(items []api.Record) []api.Record {
	if items == nil {
		return []api.Record{}
	}

	return items
}

func runTimeline(cmd *cobra.Command, _ []string) error {
	page, err := pageFlag(cmd)
	if err != nil {
		return err
	}

	watch, _ := cmd.Flags().GetBool("watch")

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		u, err := a.me()
		if err != nil {
			return err
		}

		p := a.pager(api.TimelineEndpoint(u.UserID))

		e, err := loadPage(ctx, p, page)
		if err != nil {
			return err
		}

		if err := printPage(cmd.OutOrStdout(), p, e, false); err != nil {
			return err
		}

		if !watch {
			return nil
		}

		wctx, stop := interruptible(ctx, a.logger)
		defer stop()

		return watchTimeline(wctx, cmd.OutOrStdout(), a, p, e)
	})
}

// watchTimeline refreshes the current timeline page every poll interval
// and reprints it when its contents change. Session changes made by other
// processes clear the cache and trigger an immediate refresh. Returns nil
// when ctx is canceled.
func watchTimeline(ctx context.Context, w io.Writer, a *app, p *cache.Pager, last *cache.PageEntry) error {
	g, gctx := errgroup.WithContext(ctx)
	changed := make(chan struct{}, 1)

	g.Go(func() error {
		err := a.session.Watch(gctx, func(session.State) {
			a.cache.Clear()

			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if errors.Is(err, session.ErrNotWatchable) {
			a.logger.Debug("session store cannot be watched; polling only")
			return nil
		}

		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			case <-changed:
			}

			u, err := a.me()
			if err != nil {
				return err
			}

			// A different user signed in from another terminal.
			endpoint := api.TimelineEndpoint(u.UserID)
			if endpoint != p.Key().Endpoint {
				p = a.pager(endpoint)
			}

			a.cache.Invalidate(cache.Endpoint(endpoint))

			e, err := p.Load(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}

				a.logger.Warn("timeline refresh failed", slog.String("error", api.UserMessage(err)))

				continue
			}

			if sameIdentities(last, e) {
				continue
			}

			last = e

			fmt.Fprintln(w)

			if err := printPage(w, p, e, false); err != nil {
				return err
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// sameIdentities reports whether two pages list the same records in the
// same order.
func sameIdentities(a, b *cache.PageEntry) bool {
	ids := func(e *cache.PageEntry) []string {
		out := make([]string, 0, len(e.Items))
		for _, r := range e.Items {
			out = append(out, recordID(r))
		}

		return out
	}

	return a.TotalPages == b.TotalPages && slices.Equal(ids(a), ids(b))
}

func runPublications(cmd *cobra.Command, _ []string) error {
	page, err := pageFlag(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("user")

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		endpoint := api.EndpointPublications

		if name != "" {
			if name == "me" {
				name = ""
			}

			u, err := a.lookupUser(ctx, name)
			if err != nil {
				return err
			}

			endpoint = api.UserPublicationsEndpoint(u.UserID)
		}

		p := a.pager(endpoint)

		e, err := loadPage(ctx, p, page)
		if err != nil {
			return err
		}

		return printPage(cmd.OutOrStdout(), p, e, false)
	})
}

// runUserList prints one page of a followers or following list with the
// list's total size.
func runUserList(cmd *cobra.Command, args []string, endpointFor func(int64) string, label string) error {
	page, err := pageFlag(cmd)
	if err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		u, err := a.lookupUser(ctx, name)
		if err != nil {
			return err
		}

		endpoint := endpointFor(u.UserID)
		p := a.pager(endpoint)

		e, err := loadPage(ctx, p, page)
		if err != nil {
			return err
		}

		total, err := a.totalElements(ctx, endpoint)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()

		if flagJSON {
			return printJSON(w, pageOutput{
				Page: p.Page() + 1, TotalPages: e.TotalPages, Total: &total.Value, Items: nonNil(e.Items),
			})
		}

		fmt.Fprintf(w, "%s: %d %s\n\n", u.Username, total.Value, label)

		return printPage(w, p, e, true)
	})
}

func runComments(cmd *cobra.Command, args []string) error {
	pubID, err := parseID("publication id", args[0])
	if err != nil {
		return err
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		e, err := a.list(ctx, api.CommentsEndpoint(pubID))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()

		if flagJSON {
			return printJSON(w, nonNil(e.Items))
		}

		if len(e.Items) == 0 {
			statusf(w, "No comments.\n")
			return nil
		}

		printPublications(w, e.Items)

		return nil
	})
}

type likesOutput struct {
	PublicationID int64 `json:"publication_id"`
	Likes         int64 `json:"likes"`
}

func runLikes(cmd *cobra.Command, args []string) error {
	pubID, err := parseID("publication id", args[0])
	if err != nil {
		return err
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		n, err := a.count(ctx, api.LikesCountEndpoint(pubID))
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), likesOutput{PublicationID: pubID, Likes: n.Value})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n.Value)

		return nil
	})
}
