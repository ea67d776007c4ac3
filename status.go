package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// Session state constants for status reporting.
const (
	sessionStateMissing = "signed out"
	sessionStateExpired = "expired"
	sessionStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the profile, server and session state",
		Long: `Display the active profile, the backend it talks to and the state of its
stored session. A stored session is checked against the server (and renewed
if its short-lived credential has expired) before it is reported.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

type statusOutput struct {
	Profile      string     `json:"profile"`
	Server       string     `json:"server"`
	SessionStore string     `json:"session_store"`
	State        string     `json:"state"`
	Username     string     `json:"username,omitempty"`
	UserID       int64      `json:"user_id,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	SavedAt      *time.Time `json:"saved_at,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		st := a.session.State()

		out := statusOutput{
			Profile:      a.cfg.Profile,
			Server:       a.cfg.ServerURL,
			SessionStore: a.cfg.SessionStore,
			State:        sessionStateMissing,
		}

		switch {
		case st.Absent():
		case st.Expiry.Before(time.Now()):
			out.State = sessionStateExpired
		default:
			out.State = sessionStateValid
		}

		if !st.Expiry.IsZero() {
			out.Expiry = &st.Expiry
		}

		saved, ok, err := a.session.SavedAt(ctx)
		if err != nil {
			a.logger.Debug("reading session write time", slog.String("error", err.Error()))
		} else if ok {
			out.SavedAt = &saved
		}

		if st.User != nil {
			out.Username = st.User.Username
			out.UserID = st.User.UserID
		}

		w := cmd.OutOrStdout()

		if flagJSON {
			return printJSON(w, out)
		}

		fmt.Fprintf(w, "Profile: %s\n", out.Profile)
		fmt.Fprintf(w, "Server:  %s\n", out.Server)
		fmt.Fprintf(w, "Store:   %s\n", out.SessionStore)
		fmt.Fprintf(w, "Session: %s\n", out.State)

		if out.Username != "" {
			fmt.Fprintf(w, "User:    %s (id %d)\n", out.Username, out.UserID)
		}

		if out.Expiry != nil {
			fmt.Fprintf(w, "Expires: %s\n", out.Expiry.Local().Format(time.RFC3339))
		}

		if out.SavedAt != nil {
			fmt.Fprintf(w, "Saved:   %s\n", out.SavedAt.Local().Format(time.RFC3339))
		}

		return nil
	})
}
