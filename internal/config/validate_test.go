package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://x" }, "server_url"},
		{"no host", func(c *Config) { c.ServerURL = "http://" }, "missing host"},
		{"timeout unparsable", func(c *Config) { c.RequestTimeout = "soon" }, "request_timeout"},
		{"timeout too short", func(c *Config) { c.RequestTimeout = "10ms" }, "at least"},
		{"timeout too long", func(c *Config) { c.RequestTimeout = "1h" }, "at most"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"too many retries", func(c *Config) { c.MaxRetries = 11 }, "max_retries"},
		{"empty user agent", func(c *Config) { c.UserAgent = " " }, "user_agent"},
		{"zero cache", func(c *Config) { c.CacheSize = 0 }, "cache_size"},
		{"poll too fast", func(c *Config) { c.PollInterval = "1s" }, "poll_interval"},
		{"scan pages", func(c *Config) { c.FollowScanPages = 0 }, "follow_scan_pages"},
		{"store", func(c *Config) { c.SessionStore = "redis" }, "session_store"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"profile name", func(c *Config) { c.Profiles["a/b"] = Profile{} }, `profile "a/b"`},
		{"profile url", func(c *Config) { c.Profiles["p"] = Profile{ServerURL: "nope"} }, `profile "p": server_url`},
		{"profile store", func(c *Config) { c.Profiles["p"] = Profile{SessionStore: "x"} }, `profile "p": session_store`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheSize = 0
	cfg.MaxRetries = -1
	cfg.LogLevel = "nope"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_size")
	assert.Contains(t, err.Error(), "max_retries")
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidateResolved(t *testing.T) {
	r := &Resolved{ServerURL: "http://localhost:8080", DataDir: "/data"}
	require.NoError(t, ValidateResolved(r))

	r.DataDir = "relative"
	assert.ErrorContains(t, ValidateResolved(r), "absolute")

	r.DataDir = ""
	assert.ErrorContains(t, ValidateResolved(r), "data_dir")
}
