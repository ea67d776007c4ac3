// Package tokenfile reads and writes persisted session files. A session file
// stores the credential pair as an oauth2.Token alongside the signed-in
// user's profile fields. It is a leaf package so session stores and the CLI
// can share it without import cycles.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the sessions directory.
const DirPerms = 0o700

// Profile keys stored in File.User.
const (
	KeyUserID      = "user_id"
	KeyUsername    = "username"
	KeyEmail       = "email"
	KeyDescription = "description"
	KeyCreateDate  = "create_date"
)

// ErrCorrupt is returned when a session file exists but cannot be used.
var ErrCorrupt = errors.New("tokenfile: corrupt session file")

// File is the on-disk format for a session. Token carries both credentials
// and the short-lived credential's expiry. User is empty until the profile
// has been fetched.
type File struct {
	Token   *oauth2.Token     `json:"token"`
	User    map[string]string `json:"user,omitempty"`
	SavedAt time.Time         `json:"saved_at"`
}

// Load reads a session file. Returns (nil, nil) if the file does not exist.
// Undecodable files and files without a token match ErrCorrupt.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCorrupt, path, err)
	}

	if f.Token == nil {
		return nil, fmt.Errorf("%w: %s missing token field", ErrCorrupt, path)
	}

	return &f, nil
}

// Save writes a session file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func Save(path string, f *File) error {
	if f == nil || f.Token == nil {
		return errors.New("tokenfile: refusing to save a session without a token")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes a session file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
