package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work against a local development backend without any
// config file.
const (
	defaultServerURL       = "http://localhost:8080"
	defaultRequestTimeout  = "30s"
	defaultMaxRetries      = 3
	defaultUserAgent       = "timeline-go/0.1"
	defaultCacheSize       = 256
	defaultPollInterval    = "30s"
	defaultFollowScanPages = 5
	defaultSessionStore    = SessionStoreFile
	defaultLogLevel        = "info"
)

// Session store kinds.
const (
	SessionStoreFile   = "file"
	SessionStoreSQLite = "sqlite"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		NetworkConfig: NetworkConfig{
			ServerURL:      defaultServerURL,
			RequestTimeout: defaultRequestTimeout,
			MaxRetries:     defaultMaxRetries,
			UserAgent:      defaultUserAgent,
		},
		CacheConfig: CacheConfig{
			CacheSize:       defaultCacheSize,
			PollInterval:    defaultPollInterval,
			FollowScanPages: defaultFollowScanPages,
		},
		SessionConfig: SessionConfig{
			SessionStore: defaultSessionStore,
		},
		LoggingConfig: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		Profiles: make(map[string]Profile),
	}
}
