package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout  = 1 * time.Second
	maxRequestTimeout  = 10 * time.Minute
	maxMaxRetries      = 10
	minCacheSize       = 1
	maxCacheSize       = 100_000
	minPollInterval    = 5 * time.Second
	minFollowScanPages = 1
	maxFollowScanPages = 100
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)
	errs = append(errs, validateCache(&cfg.CacheConfig)...)
	errs = append(errs, validateSession(&cfg.SessionConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateProfiles(cfg.Profiles)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints on the final merged result, after env
// and CLI overrides that Validate never sees.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if err := validateServerURL(r.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url: %w", err))
	}

	if r.DataDir == "" {
		errs = append(errs, errors.New("data_dir: could not determine a data directory; set data_dir"))
	} else if !filepath.IsAbs(r.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute after expansion, got %q", r.DataDir))
	}

	return errors.Join(errs...)
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateServerURL(n.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url: %w", err))
	}

	errs = append(errs, validateDuration("request_timeout", n.RequestTimeout, minRequestTimeout, maxRequestTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxMaxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxMaxRetries, n.MaxRetries))
	}

	if strings.TrimSpace(n.UserAgent) == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	var errs []error

	if c.CacheSize < minCacheSize || c.CacheSize > maxCacheSize {
		errs = append(errs, fmt.Errorf("cache_size: must be between %d and %d, got %d",
			minCacheSize, maxCacheSize, c.CacheSize))
	}

	errs = append(errs, validateDuration("poll_interval", c.PollInterval, minPollInterval, 0)...)

	if c.FollowScanPages < minFollowScanPages || c.FollowScanPages > maxFollowScanPages {
		errs = append(errs, fmt.Errorf("follow_scan_pages: must be between %d and %d, got %d",
			minFollowScanPages, maxFollowScanPages, c.FollowScanPages))
	}

	return errs
}

func validateSession(s *SessionConfig) []error {
	var errs []error

	if err := validateSessionStore(s.SessionStore); err != nil {
		errs = append(errs, fmt.Errorf("session_store: %w", err))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	if !validLogLevels[l.LogLevel] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel)}
	}

	return nil
}

func validateProfiles(profiles map[string]Profile) []error {
	var errs []error

	for name, p := range profiles {
		if !profileNamePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("profile %q: name may contain only letters, digits, '.', '_' and '-'", name))
		}

		if p.ServerURL != "" {
			if err := validateServerURL(p.ServerURL); err != nil {
				errs = append(errs, fmt.Errorf("profile %q: server_url: %w", name, err))
			}
		}

		if p.SessionStore != "" {
			if err := validateSessionStore(p.SessionStore); err != nil {
				errs = append(errs, fmt.Errorf("profile %q: session_store: %w", name, err))
			}
		}
	}

	return errs
}

func validateServerURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", s, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", s)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host in %q", s)
	}

	return nil
}

func validateSessionStore(s string) error {
	switch s {
	case SessionStoreFile, SessionStoreSQLite:
		return nil
	default:
		return fmt.Errorf("must be %q or %q, got %q", SessionStoreFile, SessionStoreSQLite, s)
	}
}

// validateDuration parses s and checks it against [lo, hi]. hi of zero
// means unbounded.
func validateDuration(key, s string, lo, hi time.Duration) []error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", key, s, err)}
	}

	if d < lo {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", key, lo, d)}
	}

	if hi > 0 && d > hi {
		return []error{fmt.Errorf("%s: must be at most %s, got %s", key, hi, d)}
	}

	return nil
}
