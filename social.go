package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timeline-go/internal/api"
)

func newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post TEXT...",
		Short: "Publish a new publication",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPost,
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete PUBLICATION_ID",
		Short: "Delete one of your publications",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
}

func newLikeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like PUBLICATION_ID",
		Short: "Like a publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLike(cmd, args, true)
		},
	}
}

func newUnlikeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlike PUBLICATION_ID",
		Short: "Remove your like from a publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLike(cmd, args, false)
		},
	}
}

func newFollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow USERNAME",
		Short: "Follow a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollow(cmd, args, true)
		},
	}
}

func newUnfollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow USERNAME",
		Short: "Stop following a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollow(cmd, args, false)
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename NEW_USERNAME",
		Short: "Change your username",
		Args:  cobra.ExactArgs(1),
		RunE:  runRename,
	}
}

func newCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment PUBLICATION_ID TEXT...",
		Short: "Comment on a publication",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runComment,
	}
}

func newUncommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uncomment PUBLICATION_ID COMMENT_ID",
		Short: "Delete one of your comments",
		Args:  cobra.ExactArgs(2),
		RunE:  runUncomment,
	}
}

// printCreated reports a record returned by a create operation.
func printCreated(cmd *cobra.Command, what string, rec api.Record) error {
	if flagJSON {
		if rec == nil {
			rec = api.Record{}
		}

		return printJSON(cmd.OutOrStdout(), rec)
	}

	if rec == nil {
		statusf(cmd.ErrOrStderr(), "%s created.\n", what)
		return nil
	}

	statusf(cmd.ErrOrStderr(), "%s %s created.\n", what, recordID(rec))

	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		rec, err := a.coord.CreatePublication(ctx, text)
		if err != nil {
			return err
		}

		return printCreated(cmd, "Publication", rec)
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	pubID, err := parseID("publication id", args[0])
	if err != nil {
		return err
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.coord.DeletePublication(ctx, pubID); err != nil {
			return err
		}

		statusf(cmd.ErrOrStderr(), "Publication %d deleted.\n", pubID)

		return nil
	})
}

func runLike(cmd *cobra.Command, args []string, add bool) error {
	pubID, err := parseID("publication id", args[0])
	if err != nil {
		return err
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		var err error

		verb := "Liked"

		if add {
			err = a.coord.Like(ctx, pubID)
		} else {
			verb = "Unliked"
			err = a.coord.Unlike(ctx, pubID)
		}

		if err != nil {
			return err
		}

		statusf(cmd.ErrOrStderr(), "%s publication %d.\n", verb, pubID)

		return nil
	})
}

func runFollow(cmd *cobra.Command, args []string, add bool) error {
	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		me, err := a.me()
		if err != nil {
			return err
		}

		target, err := a.lookupUser(ctx, args[0])
		if err != nil {
			return err
		}

		following, certain, err := a.coord.IsFollowing(ctx, me.UserID, target.UserID)
		if err != nil {
			a.logger.Debug("follow state unknown", slog.String("error", err.Error()))
		} else if certain && following == add {
			if add {
				statusf(cmd.ErrOrStderr(), "Already following %s.\n", target.Username)
			} else {
				statusf(cmd.ErrOrStderr(), "Not following %s.\n", target.Username)
			}

			return nil
		}

		if add {
			err = a.coord.Follow(ctx, target)
		} else {
			err = a.coord.Unfollow(ctx, target)
		}

		if err != nil {
			return err
		}

		if add {
			statusf(cmd.ErrOrStderr(), "Now following %s.\n", target.Username)
		} else {
			statusf(cmd.ErrOrStderr(), "Unfollowed %s.\n", target.Username)
		}

		return nil
	})
}

func runRename(cmd *cobra.Command, args []string) error {
	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		rec, err := a.coord.RenameUser(ctx, args[0])
		if err != nil {
			return err
		}

		if flagJSON && rec != nil {
			return printJSON(cmd.OutOrStdout(), rec)
		}

		statusf(cmd.ErrOrStderr(), "Username changed to %s.\n", a.session.CurrentUser().Username)

		return nil
	})
}

func runComment(cmd *cobra.Command, args []string) error {
	pubID, err := parseID("publication id", args[0])
	if err != nil {
		return err
	}

	text := strings.Join(args[1:], " ")

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		rec, err := a.coord.CreateComment(ctx, pubID, text)
		if err != nil {
			return err
		}

		return printCreated(cmd, "Comment", rec)
	})
}

func runUncomment(cmd *cobra.Command, args []string) error {
	pubID, err := parseID("publication id", args[0])
	if err != nil {
		return err
	}

	commentID, err := parseID("comment id", args[1])
	if err != nil {
		return err
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.coord.DeleteComment(ctx, pubID, commentID); err != nil {
			return err
		}

		statusf(cmd.ErrOrStderr(), "Comment %d deleted.\n", commentID)

		return nil
	})
}

