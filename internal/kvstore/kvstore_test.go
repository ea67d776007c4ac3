package kvstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore(t)

	v, ok, err := s.Get(context.Background(), "scope", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestPutGet_ScopedOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "session", []byte("one")))
	require.NoError(t, s.Put(ctx, "b", "session", []byte("other")))
	require.NoError(t, s.Put(ctx, "a", "session", []byte("two")))

	v, ok, err := s.Get(ctx, "a", "session")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(v))

	v, ok, err = s.Get(ctx, "b", "session")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "other", string(v))
}

func TestPut_EmptyValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "k", nil))

	v, ok, err := s.Get(ctx, "a", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestDelete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "a", "k"))
	require.NoError(t, s.Delete(ctx, "a", "k"))

	_, ok, err := s.Get(ctx, "a", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", "z", []byte("1")))
	require.NoError(t, s.Put(ctx, "a", "m", []byte("2")))
	require.NoError(t, s.Put(ctx, "b", "x", []byte("3")))

	n, err := s.ClearScope(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok, err := s.Get(ctx, "a", "z")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := s.Get(ctx, "b", "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", string(v))

	n, err = s.ClearScope(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdatedAt_UsesClock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	require.NoError(t, s.Put(ctx, "a", "k", []byte("v")))

	at, ok, err := s.UpdatedAt(ctx, "a", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(fixed))

	_, ok, err = s.UpdatedAt(ctx, "a", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "a", "k", []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "a", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", string(v))
}
