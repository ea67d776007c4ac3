// Package kvstore is a small scoped key-value store on SQLite. Each value is
// addressed by (scope, key); the session layer uses one scope per profile so
// several profiles can share a state database.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

const (
	sqlGet = `SELECT value FROM kv WHERE scope = ? AND key = ?`
	sqlPut = `INSERT INTO kv (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	sqlDelete     = `DELETE FROM kv WHERE scope = ? AND key = ?`
	sqlUpdatedAt  = `SELECT updated_at FROM kv WHERE scope = ? AND key = ?`
	sqlClearScope = `DELETE FROM kv WHERE scope = ?`
)

// Store is a SQLite-backed key-value store. Safe for concurrent use; writes
// are serialized through a single connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// nowFunc stamps updated_at. Tests override it.
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies
// migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("kvstore: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("kv store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value at (scope, key). ok is false when nothing is stored.
func (s *Store) Get(ctx context.Context, scope, key string) (value []byte, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, sqlGet, scope, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("kvstore: reading %s/%s: %w", scope, key, err)
	}

	return value, true, nil
}

// Put stores value at (scope, key), replacing any previous value.
func (s *Store) Put(ctx context.Context, scope, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}

	if _, err := s.db.ExecContext(ctx, sqlPut, scope, key, value, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("kvstore: writing %s/%s: %w", scope, key, err)
	}

	return nil
}

// Delete removes (scope, key). Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, scope, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDelete, scope, key); err != nil {
		return fmt.Errorf("kvstore: deleting %s/%s: %w", scope, key, err)
	}

	return nil
}

// UpdatedAt returns when (scope, key) was last written. ok is false when
// nothing is stored.
func (s *Store) UpdatedAt(ctx context.Context, scope, key string) (t time.Time, ok bool, err error) {
	var nanos int64

	err = s.db.QueryRowContext(ctx, sqlUpdatedAt, scope, key).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, fmt.Errorf("kvstore: reading %s/%s: %w", scope, key, err)
	}

	return time.Unix(0, nanos), true, nil
}

// ClearScope removes every key under scope and returns how many were removed.
func (s *Store) ClearScope(ctx context.Context, scope string) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlClearScope, scope)
	if err != nil {
		return 0, fmt.Errorf("kvstore: clearing %s: %w", scope, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kvstore: clearing %s: %w", scope, err)
	}

	if n > 0 {
		s.logger.Info("cleared scope", slog.String("scope", scope), slog.Int64("keys", n))
	}

	return n, nil
}
