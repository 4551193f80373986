// Package store caches the package name of each client uid in SQLite, so
// the input session can name its client without asking the host again.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a uid has no cached package name.
var ErrNotFound = errors.New("store: package not found")

// Store is the package-name cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database at the given path and runs
// migrations. ":memory:" opens a private in-memory cache.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps an in-memory database shared and serializes
	// writers on disk
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Lookup returns the cached package name for uid and marks it used.
func (s *Store) Lookup(uid int) (string, error) {
	var name string
	err := s.db.QueryRow("SELECT name FROM packages WHERE uid = ?", uid).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup package %d: %w", uid, err)
	}

	if _, err := s.db.Exec("UPDATE packages SET last_used_ns = ? WHERE uid = ?", s.now().UnixNano(), uid); err != nil {
		return "", fmt.Errorf("touch package %d: %w", uid, err)
	}
	return name, nil
}

// Put records the package name for uid, replacing any previous name.
func (s *Store) Put(uid int, name string) error {
	if name == "" {
		return fmt.Errorf("put package %d: empty name", uid)
	}
	ts := s.now().UnixNano()
	_, err := s.db.Exec(`
		INSERT INTO packages (uid, name, updated_ns, last_used_ns) VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET name = excluded.name, updated_ns = excluded.updated_ns, last_used_ns = excluded.last_used_ns`,
		uid, name, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("put package %d: %w", uid, err)
	}
	return nil
}

// Forget removes the entry for uid. Forgetting an unknown uid is not an
// error.
func (s *Store) Forget(uid int) error {
	if _, err := s.db.Exec("DELETE FROM packages WHERE uid = ?", uid); err != nil {
		return fmt.Errorf("forget package %d: %w", uid, err)
	}
	return nil
}

// Prune removes entries unused for longer than maxAge and returns how many
// were removed.
func (s *Store) Prune(maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).UnixNano()
	result, err := s.db.Exec("DELETE FROM packages WHERE last_used_ns < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune packages: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of cached entries.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM packages").Scan(&n); err != nil {
		return 0, fmt.Errorf("count packages: %w", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database handle for stats collection.
func (s *Store) DB() *sql.DB {
	return s.db
}
