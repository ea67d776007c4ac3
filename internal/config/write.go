package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// sectionHeaderPrefix is the line prefix that starts a TOML section header.
// Used to detect section boundaries in line-based edits.
const sectionHeaderPrefix = "["

// configTemplate is the default config file content written the first time
// a profile is saved. All global settings are present as commented-out
// defaults so users can discover every option without reading docs. It is
// written once; later edits are line-based and preserve user changes.
const configTemplate = `# timeline-go configuration

# ── Global settings ──
# Uncomment and modify to override defaults.

# Backend base URL
# server_url = "http://localhost:8080"

# Per-request timeout and retries for transient failures
# request_timeout = "30s"
# max_retries = 3

# Number of cached pages (and, separately, counts)
# cache_size = 256

# Refresh interval for timeline --watch
# poll_interval = "30s"

# Follower pages read when checking whether you follow someone
# follow_scan_pages = 5

# Where the session is kept: "file" or "sqlite"
# session_store = "file"

# Log verbosity: debug, info, warn, error
# log_level = "info"

# ── Profiles ──
# Added by 'config set-server'. Each profile has its own session.
`

// profileSection generates the TOML text for a new profile section.
func profileSection(name, serverURL string) string {
	return fmt.Sprintf("\n[profile.%s]\nserver_url = %q\n", name, serverURL)
}

// CreateConfigWithProfile creates a new config file from the default
// template and appends a profile section. The write is atomic (temp file +
// rename) and parent directories are created as needed.
func CreateConfigWithProfile(path, name, serverURL string) error {
	slog.Info("creating config file with profile",
		"path", path,
		"profile", name,
		"server_url", serverURL,
	)

	content := configTemplate + profileSection(name, serverURL)

	return atomicWriteFile(path, []byte(content))
}

// AppendProfileSection appends a new profile section at the end of an
// existing config file.
func AppendProfileSection(path, name, serverURL string) error {
	slog.Info("appending profile section to config",
		"path", path,
		"profile", name,
		"server_url", serverURL,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)

	// The new section header must start on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += profileSection(name, serverURL)

	return atomicWriteFile(path, []byte(content))
}

// SetProfileKey finds a profile section and sets a key-value pair. If the
// key already exists within the section, its line is replaced; otherwise it
// is inserted on the line after the section header.
//
// Value formatting: booleans ("true"/"false") are written without quotes;
// all other values are written as quoted strings.
func SetProfileKey(path, name, key, value string) error {
	slog.Info("setting profile key in config",
		"path", path,
		"profile", name,
		"key", key,
		"value", value,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("profile section %q not found in config", name)
	}

	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))
	lines = setKeyInSection(lines, headerLine, sectionStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteProfileSection removes a profile section (header + all keys) from
// the config file, along with blank lines immediately preceding it. Used by
// `logout --forget`.
func DeleteProfileSection(path, name string) error {
	slog.Info("deleting profile section from config",
		"path", path,
		"profile", name,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("profile section %q not found in config", name)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)

	blankStart := headerLine
	for blankStart > 0 && strings.TrimSpace(lines[blankStart-1]) == "" {
		blankStart--
	}

	lines = append(lines[:blankStart], lines[sectionEnd:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// HasProfileSection reports whether the config file at path has a section
// for the named profile. A missing file has none.
func HasProfileSection(path, name string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("reading config file: %w", err)
	}

	_, start := findSectionHeader(strings.Split(string(data), "\n"), name)

	return start >= 0, nil
}

// SaveProfileServer records serverURL for a profile, creating the config
// file or the profile section as needed.
func SaveProfileServer(path, name, serverURL string) error {
	if err := validateServerURL(serverURL); err != nil {
		return fmt.Errorf("server_url: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return CreateConfigWithProfile(path, name, serverURL)
	}

	ok, err := HasProfileSection(path, name)
	if err != nil {
		return err
	}

	if !ok {
		return AppendProfileSection(path, name, serverURL)
	}

	return SetProfileKey(path, name, "server_url", serverURL)
}

// findSectionHeader locates the line index of a profile section header.
// Returns the header line index and the section content start (header + 1).
// Returns -1 for both if the section is not found.
func findSectionHeader(lines []string, name string) (int, int) {
	header := "[profile." + name + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. This excludes blank lines and comments that precede the
// next section header (those belong to the next section's preamble, not
// this section's content).
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, sectionHeaderPrefix) {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next section header to skip blank lines and
	// comment lines that belong to the next section's preamble.
	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	// Search for existing key within the section.
	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	// Key not found: insert after the header.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
