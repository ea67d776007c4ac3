package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher error backoff, doubling from watchErrInitBackoff.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
)

// ErrNotWatchable is returned by Watch when the store has no file to watch.
var ErrNotWatchable = errors.New("session: store does not support watching")

// pathStore is implemented by stores backed by a single file.
type pathStore interface {
	Path() string
}

// Watch follows changes made to the session file by other processes (a
// login or logout in another terminal) and reloads the in-memory session
// after each one. The manager's own saves are not reloaded. onChange, when
// non-nil, runs after every reload that changed the session. Blocks until
// ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(State)) error {
	ps, ok := m.store.(pathStore)
	if !ok {
		return ErrNotWatchable
	}

	path := ps.Path()
	dir := filepath.Dir(path)

	// The file is replaced by rename on every save, so the directory is
	// watched rather than the file itself.
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: creating %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("session: watching %s: %w", dir, err)
	}

	m.logger.Debug("watching session file", slog.String("path", path))

	base := filepath.Base(path)
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
				continue
			}

			changed, err := m.reload(ctx)
			if err != nil {
				m.logger.Warn("reloading session after change", slog.String("error", err.Error()))
				continue
			}

			if !changed {
				continue
			}

			if onChange != nil {
				onChange(m.State())
			}

			errBackoff = watchErrInitBackoff

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			m.logger.Warn("session watcher error",
				slog.String("error", werr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			t := time.NewTimer(errBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)
		}
	}
}
