package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/kvstore"
	"github.com/tonimelisma/timeline-go/internal/tokenfile"
)

func sampleState() State {
	return State{
		AccessToken:  "a",
		RefreshToken: "r",
		Expiry:       time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		User: &api.UserSummary{
			UserID:      7,
			Username:    "alice",
			Email:       "alice@example.com",
			Description: "hi",
			CreateDate:  "2024-01-01",
		},
	}
}

// storeContract runs the behavior every Store must have.
func storeContract(t *testing.T, s Store) {
	t.Helper()

	ctx := context.Background()

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.Save(ctx, sampleState()))

	st, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "a", st.AccessToken)
	assert.Equal(t, "r", st.RefreshToken)
	assert.True(t, st.Expiry.Equal(sampleState().Expiry))
	assert.Equal(t, sampleState().User, st.User)

	// Refresh-only session without a profile.
	require.NoError(t, s.Save(ctx, State{RefreshToken: "r2"}))

	st, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Empty(t, st.AccessToken)
	assert.True(t, st.Expiry.IsZero())
	assert.Nil(t, st.User)

	require.NoError(t, s.Erase(ctx))
	require.NoError(t, s.Erase(ctx))

	st, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestFileStore_Contract(t *testing.T) {
	storeContract(t, NewFileStore(filepath.Join(t.TempDir(), "sessions", "default.json")))
}

func TestKVStore_Contract(t *testing.T) {
	kv, err := kvstore.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	storeContract(t, NewKVStore(kv, "http://localhost:8080"))
}

func TestKVStore_ScopesAreIndependent(t *testing.T) {
	ctx := context.Background()

	kv, err := kvstore.Open(ctx, filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	a := NewKVStore(kv, "http://a")
	b := NewKVStore(kv, "http://b")

	require.NoError(t, a.Save(ctx, sampleState()))

	st, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestKVStore_CorruptValue(t *testing.T) {
	ctx := context.Background()

	kv, err := kvstore.Open(ctx, filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	require.NoError(t, kv.Put(ctx, "http://a", sessionKey, []byte("{nope")))

	_, err = NewKVStore(kv, "http://a").Load(ctx)
	assert.ErrorIs(t, err, tokenfile.ErrCorrupt)
}

func TestFileStore_RejectsUnpairedExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"token":{"access_token":"a","refresh_token":"r"}}`), tokenfile.FilePerms))

	_, err := NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, tokenfile.ErrCorrupt)
}

func TestRestore_CorruptFileIsErased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte(`garbage`), tokenfile.FilePerms))

	m := newTestManager(t, &fakeAuth{}, NewFileStore(path))
	require.NoError(t, m.Restore(context.Background()))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNormalizeUsername(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	assert.Equal(t, "caf\u00e9", NormalizeUsername(" cafe\u0301 "))
	assert.Equal(t, "bob", NormalizeUsername("bob"))
}

func TestFileStore_SavedAt(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "s.json"))

	_, ok, err := s.SavedAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, sampleState()))

	at, ok, err := s.SavedAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), at, time.Minute)
}

func TestKVStore_SavedAtAndForget(t *testing.T) {
	ctx := context.Background()

	kv, err := kvstore.Open(ctx, filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	s := NewKVStore(kv, "work")
	require.NoError(t, s.Save(ctx, sampleState()))
	require.NoError(t, kv.Put(ctx, "work", "extra", []byte("x")))
	require.NoError(t, kv.Put(ctx, "home", "extra", []byte("y")))

	_, ok, err := s.SavedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Forget(ctx))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, ok, err = kv.Get(ctx, "work", "extra")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = kv.Get(ctx, "home", "extra")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_SavedAt(t *testing.T) {
	ctx := context.Background()

	m := newTestManager(t, &fakeAuth{}, &memStore{})
	_, ok, err := m.SavedAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "memory store does not track write times")

	path := filepath.Join(t.TempDir(), "s.json")
	file := NewFileStore(path)
	require.NoError(t, file.Save(ctx, sampleState()))

	m = newTestManager(t, &fakeAuth{}, file)
	_, ok, err = m.SavedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
