package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "TIMELINE_GO_CONFIG"
	EnvProfile = "TIMELINE_GO_PROFILE"
	EnvServer  = "TIMELINE_GO_SERVER"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // TIMELINE_GO_CONFIG: override config file path
	Profile    string // TIMELINE_GO_PROFILE: active profile name
	ServerURL  string // TIMELINE_GO_SERVER: backend base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Profile:    os.Getenv(EnvProfile),
		ServerURL:  os.Getenv(EnvServer),
	}
}
