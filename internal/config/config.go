// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for timeline-go. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) with
// per-profile sections that override the server and session store.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Global settings are flat top-level keys; [profile.NAME] sections select
// another server or session store for one account.
type Config struct {
	Profiles map[string]Profile `toml:"profile"`

	NetworkConfig
	CacheConfig
	SessionConfig
	LoggingConfig
}

// NetworkConfig controls the REST client: where it connects, how long one
// request may take, and how often transient failures are retried.
type NetworkConfig struct {
	ServerURL      string `toml:"server_url"`
	RequestTimeout string `toml:"request_timeout"`
	MaxRetries     int    `toml:"max_retries"`
	UserAgent      string `toml:"user_agent"`
}

// CacheConfig controls the resource cache and the commands that read
// through it.
type CacheConfig struct {
	CacheSize       int    `toml:"cache_size"`
	PollInterval    string `toml:"poll_interval"`
	FollowScanPages int    `toml:"follow_scan_pages"`
}

// SessionConfig controls where the session is persisted. session_store is
// "file" (one JSON file per profile) or "sqlite" (a slot in state.db).
type SessionConfig struct {
	SessionStore string `toml:"session_store"`
	DataDir      string `toml:"data_dir"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Profile    string  // --profile flag (empty = use default)
	ServerURL  *string // --server flag
}
