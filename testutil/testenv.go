// Package testutil provides shared environment helpers for E2E tests. It
// depends only on stdlib so that E2E tests (which cannot import internal/)
// can use it.
package testutil

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvE2EServer   = "TIMELINE_GO_E2E_SERVER"
	EnvE2EUsername = "TIMELINE_GO_E2E_USERNAME"
	EnvE2EPassword = "TIMELINE_GO_E2E_PASSWORD"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// Account is the backend and credentials the E2E suite signs in with.
type Account struct {
	Server   string
	Username string
	Password string
}

// RequireAccount reads the E2E account from the environment. It crashes
// the process when a variable is missing or the server is not a local
// address, so the suite never writes to a shared deployment by accident.
func RequireAccount() Account {
	acct := Account{
		Server:   os.Getenv(EnvE2EServer),
		Username: os.Getenv(EnvE2EUsername),
		Password: os.Getenv(EnvE2EPassword),
	}

	for name, v := range map[string]string{
		EnvE2EServer:   acct.Server,
		EnvE2EUsername: acct.Username,
		EnvE2EPassword: acct.Password,
	} {
		if v == "" {
			fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", name)
			fmt.Fprintln(os.Stderr, "Set it in .env or as an environment variable.")
			os.Exit(1)
		}
	}

	u, err := url.Parse(acct.Server)
	if err != nil || !isLocalHost(u.Hostname()) {
		fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not a local backend\n", EnvE2EServer, acct.Server)
		os.Exit(1)
	}

	return acct
}

func isLocalHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return strings.HasSuffix(host, ".localhost")
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// WriteConfig writes a minimal config file into dir that points the CLI at
// server and keeps all state under dir. Returns the file's path.
func WriteConfig(dir, server string) string {
	path := filepath.Join(dir, "config.toml")
	data := fmt.Sprintf("server_url = %q\ndata_dir = %q\n", server, filepath.Join(dir, "data"))

	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", path, err)
		os.Exit(1)
	}

	return path
}
