// Package store is the durable, versioned and deduplicated solution library.
//
// Solutions and the interaction log live in a single SQLite database inside the
// library directory. Writes for one request fingerprint are serialized through a
// per-fingerprint mutex and every record is published in one transaction, so
// readers observe either the old or the new state, never a partial solution.
// A file lock on the directory keeps a second process from opening the same
// library for writing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	dbFileName   = "library.db"
	lockFileName = "library.lock"

	// timeLayout is fixed-width so that stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrLibraryLocked is returned by Open when another process holds the library.
var ErrLibraryLocked = errors.New("library is locked by another process")

// Options tunes a Store. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Store manages solution persistence backed by SQLite.
type Store struct {
	db      *sql.DB
	dir     string
	lock    *flock.Flock
	writers *keyedMutex
	logger  *slog.Logger
	now     func() time.Time

	// nextVersion lets tests force a stale version number to exercise the
	// conflict retry path.
	nextVersion func(fingerprint string, computed int) int
}

// Open initializes or connects to the library in dir and applies the schema.
func Open(ctx context.Context, dir string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire library lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLibraryLocked, dir)
	}

	db, err := sql.Open("sqlite", dsn(filepath.Join(dir, dbFileName)))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{
		db:      db,
		dir:     dir,
		lock:    lock,
		writers: newKeyedMutex(),
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	s.logger.Debug("library opened", "dir", dir)
	return s, nil
}

// dsn builds the connection string. Pragmas are given per connection so every
// pooled connection gets them, and write transactions start IMMEDIATE so the
// busy timeout applies instead of failing on lock upgrade.
func dsn(path string) string {
	params := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// Close closes the database and releases the library lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = fmt.Errorf("release library lock: %w", unlockErr)
	}
	return err
}

// Dir returns the library directory.
func (s *Store) Dir() string {
	return s.dir
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

// isUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY
// constraint, i.e. another writer claimed the same (fingerprint, version).
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
