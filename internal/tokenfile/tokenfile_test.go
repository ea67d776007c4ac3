package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testFile() *File {
	return &File{
		Token: &oauth2.Token{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			Expiry:       time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		User: map[string]string{
			KeyUserID:   "7",
			KeyUsername: "alice",
		},
		SavedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Nil(t, f)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "default.json")

	require.NoError(t, Save(path, testFile()))

	f, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "access-123", f.Token.AccessToken)
	assert.Equal(t, "refresh-456", f.Token.RefreshToken)
	assert.True(t, f.Token.Expiry.Equal(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "alice", f.User[KeyUsername])
	assert.Equal(t, "7", f.User[KeyUserID])
}

func TestSave_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, Save(path, testFile()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.json")

	require.NoError(t, Save(path, testFile()))
	require.NoError(t, Save(path, testFile()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s.json", entries[0].Name())
}

func TestSave_RejectsMissingToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")

	assert.Error(t, Save(path, nil))
	assert.Error(t, Save(path, &File{}))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), FilePerms))

	f, err := Load(path)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Contains(t, err.Error(), "decoding")
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"user":{"username":"alice"}}`), FilePerms))

	f, err := Load(path)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestRemove_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, Save(path, testFile()))

	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))

	f, err := Load(path)
	assert.NoError(t, err)
	assert.Nil(t, f)
}
