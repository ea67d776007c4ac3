package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/config"
)

// runWithApp assembles the application for the resolved config, runs fn,
// and releases everything afterwards.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	logger := buildLogger()

	a, err := newApp(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a username and password",
		Long: `Sign in with a username and password. The password is read from the
first line of standard input.

When --server is given, it is remembered for the profile so later commands
need no flag.`,
		RunE: runLogin,
	}

	cmd.Flags().String("username", "", "account username (required)")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Long:  "Create an account and sign in. The password is read from the first line of standard input.",
		RunE:  runRegister,
	}

	cmd.Flags().String("username", "", "account username (required)")
	cmd.Flags().String("email", "", "account email (required)")
	cmd.Flags().String("description", "", "profile description")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and erase the stored session",
		RunE:  runLogout,
	}

	cmd.Flags().Bool("forget", false, "also remove the profile's section from the config file")

	return cmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		RunE:  runWhoami,
	}
}

// readPassword reads the first line of r. Trailing newline characters are
// stripped; other whitespace is part of the password.
func readPassword(r io.Reader, w io.Writer) (string, error) {
	if isTerminal(w) {
		statusf(w, "Password: ")
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%w: empty password", api.ErrValidation)
	}

	return line, nil
}

// rememberServer records an explicit --server for the active profile.
func rememberServer(cmd *cobra.Command, logger *slog.Logger) {
	if !cmd.Flags().Changed("server") {
		return
	}

	if err := config.SaveProfileServer(resolvedCfg.ConfigPath, resolvedCfg.Profile, resolvedCfg.ServerURL); err != nil {
		logger.Warn("could not save server for profile",
			slog.String("profile", resolvedCfg.Profile),
			slog.String("error", err.Error()),
		)
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	username, _ := cmd.Flags().GetString("username")

	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		a.logger.Info("login started", slog.String("profile", a.cfg.Profile))

		if err := a.session.Login(ctx, username, password); err != nil {
			return err
		}

		rememberServer(cmd, a.logger)

		statusf(cmd.ErrOrStderr(), "Signed in as %s.\n", a.session.CurrentUser().Username)

		return nil
	})
}

func runRegister(cmd *cobra.Command, _ []string) error {
	username, _ := cmd.Flags().GetString("username")
	email, _ := cmd.Flags().GetString("email")
	description, _ := cmd.Flags().GetString("description")

	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		err := a.session.Register(ctx, api.RegisterRequest{
			Username:    username,
			Password:    password,
			Email:       strings.TrimSpace(email),
			Description: description,
		})
		if err != nil {
			return err
		}

		rememberServer(cmd, a.logger)

		statusf(cmd.ErrOrStderr(), "Registered and signed in as %s.\n", a.session.CurrentUser().Username)

		return nil
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	forget, _ := cmd.Flags().GetBool("forget")

	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		wasSignedIn := a.session.Authenticated()

		if err := a.session.Terminate(ctx); err != nil {
			return err
		}

		if forget {
			if err := a.forgetProfile(ctx); err != nil {
				return err
			}

			ok, err := config.HasProfileSection(a.cfg.ConfigPath, a.cfg.Profile)
			if err != nil {
				return err
			}

			if ok {
				if err := config.DeleteProfileSection(a.cfg.ConfigPath, a.cfg.Profile); err != nil {
					return err
				}
			}
		}

		if wasSignedIn {
			statusf(cmd.ErrOrStderr(), "Signed out of profile %s.\n", a.cfg.Profile)
		} else {
			statusf(cmd.ErrOrStderr(), "Not signed in.\n")
		}

		return nil
	})
}

type whoamiOutput struct {
	Profile     string `json:"profile"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Description string `json:"description,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	return runWithApp(cmd, func(_ context.Context, a *app) error {
		u, err := a.me()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if flagJSON {
			return printJSON(out, whoamiOutput{
				Profile:     a.cfg.Profile,
				UserID:      u.UserID,
				Username:    u.Username,
				Email:       u.Email,
				Description: u.Description,
			})
		}

		fmt.Fprintf(out, "%s (id %d)\n", u.Username, u.UserID)

		if u.Email != "" {
			fmt.Fprintf(out, "  email:       %s\n", u.Email)
		}

		if u.Description != "" {
			fmt.Fprintf(out, "  description: %s\n", u.Description)
		}

		return nil
	})
}
