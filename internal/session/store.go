package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/tonimelisma/timeline-go/internal/kvstore"
	"github.com/tonimelisma/timeline-go/internal/tokenfile"
)

// FileStore keeps the session in a JSON file written atomically with owner-only
// permissions.
type FileStore struct {
	path    string
	nowFunc func() time.Time
}

// NewFileStore returns a store backed by the session file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, nowFunc: time.Now}
}

// Path returns the session file location. The watcher uses it.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*State, error) {
	f, err := tokenfile.Load(s.path)
	if err != nil {
		return nil, err
	}

	if f == nil {
		return nil, nil //nolint:nilnil // nothing stored
	}

	return fromFile(f)
}

func (s *FileStore) Save(_ context.Context, st State) error {
	return tokenfile.Save(s.path, toFile(st, s.nowFunc()))
}

func (s *FileStore) Erase(_ context.Context) error {
	return tokenfile.Remove(s.path)
}

// SavedAt returns the session file's modification time.
func (s *FileStore) SavedAt(_ context.Context) (time.Time, bool, error) {
	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, fmt.Errorf("session: stat %s: %w", s.path, err)
	}

	return fi.ModTime(), true, nil
}

// sessionKey is the key of the session slot inside a KVStore scope.
const sessionKey = "session"

// KVStore keeps the session in a scoped slot of the SQLite state database.
// The scope is the profile name, so one database holds the sessions of
// every profile.
type KVStore struct {
	kv      *kvstore.Store
	scope   string
	nowFunc func() time.Time
}

// NewKVStore returns a store using the given scope of kv.
func NewKVStore(kv *kvstore.Store, scope string) *KVStore {
	return &KVStore{kv: kv, scope: scope, nowFunc: time.Now}
}

func (s *KVStore) Load(ctx context.Context) (*State, error) {
	data, ok, err := s.kv.Get(ctx, s.scope, sessionKey)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil //nolint:nilnil // nothing stored
	}

	var f tokenfile.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decoding %s session: %w", tokenfile.ErrCorrupt, s.scope, err)
	}

	if f.Token == nil {
		return nil, fmt.Errorf("%w: %s session missing token field", tokenfile.ErrCorrupt, s.scope)
	}

	return fromFile(&f)
}

func (s *KVStore) Save(ctx context.Context, st State) error {
	data, err := json.Marshal(toFile(st, s.nowFunc()))
	if err != nil {
		return fmt.Errorf("session: encoding: %w", err)
	}

	return s.kv.Put(ctx, s.scope, sessionKey, data)
}

func (s *KVStore) Erase(ctx context.Context) error {
	return s.kv.Delete(ctx, s.scope, sessionKey)
}

func (s *KVStore) SavedAt(ctx context.Context) (time.Time, bool, error) {
	return s.kv.UpdatedAt(ctx, s.scope, sessionKey)
}

// Forget drops everything stored under the store's scope, not only the
// session slot.
func (s *KVStore) Forget(ctx context.Context) error {
	_, err := s.kv.ClearScope(ctx, s.scope)

	return err
}
