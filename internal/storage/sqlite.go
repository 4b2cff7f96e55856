package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/observability"

	_ "modernc.org/sqlite"
)

const (
	// schemaVersion is the only PRAGMA user_version this build understands.
	schemaVersion = 2

	busyTimeout = 3 * time.Second

	// DefaultSweepGrace keeps just-expired rows around long enough for a
	// client that is extending their TTL.
	DefaultSweepGrace = time.Hour
)

const upsertSQL = `
	INSERT INTO kv (key, value, tags, created_at, updated_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		tags = excluded.tags,
		updated_at = excluded.updated_at,
		expires_at = excluded.expires_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	mu    sync.RWMutex
	db    *sql.DB
	path  string
	log   *observability.Logger
	now   func() time.Time
	grace time.Duration
	hooks storeHooks
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger used for store events.
func WithLogger(l *observability.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now, mainly for sweep tests.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepGrace sets how long past expiry a row survives a sweep.
func WithSweepGrace(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d >= 0 {
			s.grace = d
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// storeHooks lets tests inject failures inside transactions.
type storeHooks struct {
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

// Open opens (or creates) the database file at path, creating parent
// directories as needed, and verifies the schema. Use ":memory:" for an
// in-memory database.
//
// A file carrying any schema version other than the current one is
// rejected before anything is written to it.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:  path,
		log:   observability.Discard(),
		now:   time.Now,
		grace: DefaultSweepGrace,
		hooks: defaultStoreHooks(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, kverr.IO("creating database directory", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kverr.Storage(fmt.Sprintf("opening '%s'", path), err)
	}
	// One connection: every statement shares the same pragmas and SQLite's
	// own locking serializes writers.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info("database connection open", "path", path)
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initialize() error {
	opening := fmt.Sprintf("opening '%s'", s.path)

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
		return kverr.Storage(opening, err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return kverr.Storage(opening, err)
	}
	s.log.Debug("database schema", "user_version", version)

	if version != 0 && version != schemaVersion {
		return kverr.Schema("unsupported database schema version %d; delete the database file to recreate it", version)
	}

	if version == 0 {
		var tables int
		err := s.db.QueryRow(
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'kv'",
		).Scan(&tables)
		if err != nil {
			return kverr.Storage(opening, err)
		}
		if tables > 0 {
			return kverr.Schema("unsupported legacy database detected; delete the database file to recreate it")
		}
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return kverr.Storage(fmt.Sprintf("applying %q", p), err)
		}
	}

	if version == 0 {
		return s.createSchema()
	}
	return nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		tags       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		expires_at TEXT
	)`

	err := s.inTx(context.Background(), "creating schema", func(tx *sql.Tx) error {
		if _, err := tx.Exec(schema); err != nil {
			return err
		}
		_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
		return err
	})
	if err != nil {
		return err
	}
	s.log.Info("initialized kv schema", "user_version", schemaVersion)
	return nil
}

// inTx runs fn in one transaction. Classified errors from fn pass through;
// anything else is reported as a storage failure during op.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.hooks.beginTx(ctx, s.db)
	if err != nil {
		return kverr.Storage(op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		if kverr.KindOf(err) != kverr.KindInternal {
			return err
		}
		return kverr.Storage(op, err)
	}
	if err := s.hooks.commit(tx); err != nil {
		return kverr.Storage(op, err)
	}
	return nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, tx *sql.Tx, key string, e entry.Entry) error {
	tags, err := e.TagsJSON()
	if err != nil {
		return err
	}
	_, err = s.hooks.exec(ctx, tx, upsertSQL,
		key, e.Value, tags,
		entry.FormatTime(e.CreatedAt),
		entry.FormatTime(e.UpdatedAt),
		entry.FormatOptional(e.ExpiresAt),
	)
	return err
}

// LoadAll returns every record ordered by key.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]entry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, tags, created_at, updated_at, expires_at FROM kv ORDER BY key ASC",
	)
	if err != nil {
		return nil, kverr.Storage("loading entries", err)
	}
	defer rows.Close()

	var records []entry.Record
	for rows.Next() {
		var key, value, tags, createdAt, updatedAt string
		var expiresAt sql.NullString
		if err := rows.Scan(&key, &value, &tags, &createdAt, &updatedAt, &expiresAt); err != nil {
			return nil, kverr.Storage("loading entries", err)
		}

		var expires *string
		if expiresAt.Valid {
			expires = &expiresAt.String
		}
		e, err := entry.FromPersisted(value, tags, createdAt, updatedAt, expires)
		if err != nil {
			return nil, kverr.Storage(fmt.Sprintf("decoding key '%s'", key), err)
		}
		records = append(records, entry.Record{Key: key, Entry: e})
	}
	if err := rows.Err(); err != nil {
		return nil, kverr.Storage("loading entries", err)
	}

	s.log.Debug("loaded entries", "count", len(records))
	return records, nil
}

// Upsert stores or updates one entry in its own transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, key string, e entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inTx(ctx, fmt.Sprintf("storing key '%s'", key), func(tx *sql.Tx) error {
		return s.upsertTx(ctx, tx, key, e)
	})
	if err != nil {
		return err
	}
	s.log.Info("stored entry", "key", key, "updated_at", entry.FormatTime(e.UpdatedAt))
	return nil
}

// Delete removes a record by key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inTx(ctx, fmt.Sprintf("deleting key '%s'", key), func(tx *sql.Tx) error {
		res, err := s.hooks.exec(ctx, tx, "DELETE FROM kv WHERE key = ?", key)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return kverr.NotFound(key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("deleted entry", "key", key)
	return nil
}

// ReplaceAll deletes every row and inserts records, all in one transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, records []entry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inTx(ctx, "replacing all entries", func(tx *sql.Tx) error {
		if _, err := s.hooks.exec(ctx, tx, "DELETE FROM kv"); err != nil {
			return err
		}
		for _, rec := range records {
			if err := s.upsertTx(ctx, tx, rec.Key, rec.Entry); err != nil {
				return fmt.Errorf("key '%s': %w", rec.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("replaced all entries", "count", len(records))
	return nil
}

// SweepExpired removes rows that expired at least the grace window ago.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := entry.FormatTime(s.now().Add(-s.grace))
	var deleted int64
	err := s.inTx(ctx, "sweeping expired entries", func(tx *sql.Tx) error {
		res, err := s.hooks.exec(ctx, tx,
			"DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?", threshold,
		)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("swept expired entries", "count", deleted, "threshold", threshold)
	}
	return int(deleted), nil
}

// Count returns the total number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&count); err != nil {
		return 0, kverr.Storage("counting entries", err)
	}
	return count, nil
}

// Close shuts down the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
