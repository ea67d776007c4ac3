package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultProfileName is used when --profile is omitted.
const DefaultProfileName = "default"

// profileNamePattern keeps profile names safe as file names.
var profileNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Profile is one [profile.NAME] section. Empty fields inherit the global
// value.
type Profile struct {
	ServerURL    string `toml:"server_url"`
	SessionStore string `toml:"session_store"`
}

// Resolved is the effective configuration after the override chain, with
// durations parsed and paths expanded. It is the final product consumed by
// the CLI.
type Resolved struct {
	Profile    string
	ConfigPath string

	ServerURL      string
	RequestTimeout time.Duration
	MaxRetries     int
	UserAgent      string

	CacheSize       int
	PollInterval    time.Duration
	FollowScanPages int

	SessionStore string
	DataDir      string

	LogLevel string
}

// SessionPath returns the profile's session file.
func (r *Resolved) SessionPath() string {
	return SessionPath(r.DataDir, r.Profile)
}

// StatePath returns the sqlite state database.
func (r *Resolved) StatePath() string {
	return StatePath(r.DataDir)
}

// ResolveProfile merges global settings with the named profile's section.
// A profile without a section is valid: it only gets its own session.
func ResolveProfile(cfg *Config, profileName string) (*Resolved, error) {
	name := profileName
	if name == "" {
		name = DefaultProfileName
	}

	if !profileNamePattern.MatchString(name) {
		return nil, fmt.Errorf("profile %q: name may contain only letters, digits, '.', '_' and '-'", name)
	}

	// Durations were checked by Validate.
	timeout, _ := time.ParseDuration(cfg.RequestTimeout)
	poll, _ := time.ParseDuration(cfg.PollInterval)

	resolved := &Resolved{
		Profile:         name,
		ServerURL:       cfg.ServerURL,
		RequestTimeout:  timeout,
		MaxRetries:      cfg.MaxRetries,
		UserAgent:       cfg.UserAgent,
		CacheSize:       cfg.CacheSize,
		PollInterval:    poll,
		FollowScanPages: cfg.FollowScanPages,
		SessionStore:    cfg.SessionStore,
		DataDir:         expandTilde(cfg.DataDir),
		LogLevel:        cfg.LogLevel,
	}

	if p, ok := cfg.Profiles[name]; ok {
		if p.ServerURL != "" {
			resolved.ServerURL = p.ServerURL
		}

		if p.SessionStore != "" {
			resolved.SessionStore = p.SessionStore
		}
	}

	if resolved.DataDir == "" {
		resolved.DataDir = DefaultDataDir()
	}

	return resolved, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
