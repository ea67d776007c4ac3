package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for profile %q\n", r.Profile)

	if r.ConfigPath != "" {
		ew.printf("# Config file: %s\n", r.ConfigPath)
	}

	ew.printf("\n[network]\n")
	ew.printf("  server_url      = %q\n", r.ServerURL)
	ew.printf("  request_timeout = %q\n", r.RequestTimeout.String())
	ew.printf("  max_retries     = %d\n", r.MaxRetries)
	ew.printf("  user_agent      = %q\n", r.UserAgent)

	ew.printf("\n[cache]\n")
	ew.printf("  cache_size        = %d\n", r.CacheSize)
	ew.printf("  poll_interval     = %q\n", r.PollInterval.String())
	ew.printf("  follow_scan_pages = %d\n", r.FollowScanPages)

	ew.printf("\n[session]\n")
	ew.printf("  session_store = %q\n", r.SessionStore)
	ew.printf("  data_dir      = %q\n", r.DataDir)

	if r.SessionStore == SessionStoreSQLite {
		ew.printf("  # state: %s\n", r.StatePath())
	} else {
		ew.printf("  # session file: %s\n", r.SessionPath())
	}

	ew.printf("\n[logging]\n")
	ew.printf("  log_level = %q\n", r.LogLevel)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
