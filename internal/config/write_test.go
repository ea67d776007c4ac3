package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConfigWithProfile_CreatesFileWithTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, CreateConfigWithProfile(path, "work", "https://timeline.example.com"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# timeline-go configuration")
	assert.Contains(t, content, `# log_level = "info"`)
	assert.Contains(t, content, "[profile.work]")
	assert.Contains(t, content, `server_url = "https://timeline.example.com"`)
}

func TestCreateConfigWithProfile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, CreateConfigWithProfile(path, "work", "https://timeline.example.com"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, "https://timeline.example.com", cfg.Profiles["work"].ServerURL)
	assert.Equal(t, defaultServerURL, cfg.ServerURL, "commented template keeps defaults")
}

func TestCreateConfigWithProfile_ParentDirAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "deep", "config.toml")

	require.NoError(t, CreateConfigWithProfile(path, "default", "http://localhost:9000"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())
}

func TestAppendProfileSection(t *testing.T) {
	path := writeTestConfig(t, `log_level = "debug"`)

	require.NoError(t, AppendProfileSection(path, "home", "http://home.lan:8080"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://home.lan:8080", cfg.Profiles["home"].ServerURL)
}

func TestSetProfileKey_ReplacesAndInserts(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
server_url = "http://old:8080"

[profile.home]
server_url = "http://home:8080"
`)

	require.NoError(t, SetProfileKey(path, "work", "server_url", "http://new:8080"))
	require.NoError(t, SetProfileKey(path, "work", "session_store", "sqlite"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://new:8080", cfg.Profiles["work"].ServerURL)
	assert.Equal(t, "sqlite", cfg.Profiles["work"].SessionStore)
	assert.Equal(t, "http://home:8080", cfg.Profiles["home"].ServerURL)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "http://new:8080"))
	assert.NotContains(t, string(data), "http://old:8080")
}

func TestSetProfileKey_MissingSection(t *testing.T) {
	path := writeTestConfig(t, `log_level = "info"`)

	err := SetProfileKey(path, "nope", "server_url", "http://x:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeleteProfileSection(t *testing.T) {
	path := writeTestConfig(t, `log_level = "info"

[profile.work]
server_url = "http://work:8080"

# home server
[profile.home]
server_url = "http://home:8080"
`)

	require.NoError(t, DeleteProfileSection(path, "work"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotContains(t, cfg.Profiles, "work")
	assert.Equal(t, "http://home:8080", cfg.Profiles["home"].ServerURL)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# home server", "next section's preamble survives")
}

func TestSaveProfileServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	ok, err := HasProfileSection(path, "work")
	require.NoError(t, err)
	assert.False(t, ok)

	// Creates the file.
	require.NoError(t, SaveProfileServer(path, "work", "http://a:1"))
	// Appends a section.
	require.NoError(t, SaveProfileServer(path, "home", "http://b:2"))
	// Updates in place.
	require.NoError(t, SaveProfileServer(path, "work", "http://c:3"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://c:3", cfg.Profiles["work"].ServerURL)
	assert.Equal(t, "http://b:2", cfg.Profiles["home"].ServerURL)

	require.Error(t, SaveProfileServer(path, "work", "ftp://nope"))
}

func TestFormatTOMLValue(t *testing.T) {
	assert.Equal(t, "true", formatTOMLValue("true"))
	assert.Equal(t, `"sqlite"`, formatTOMLValue("sqlite"))
}
