package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/kverr"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ns", "data.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// rawDB opens path directly, bypassing the schema checks.
func rawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func userVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	db := rawDB(t, s.Path())
	if v := userVersion(t, db); v != schemaVersion {
		t.Errorf("user_version = %d, want %d", v, schemaVersion)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "k", entry.New("v", nil, t0)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	n, err := s2.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestOpen_SchemaVersionMismatch_NoWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	db := rawDB(t, path)
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path)
	if err == nil {
		t.Fatal("expected schema error")
	}
	if !kverr.Is(err, kverr.KindSchema) {
		t.Errorf("kind = %v, want schema (%v)", kverr.KindOf(err), err)
	}

	if v := userVersion(t, db); v != 99 {
		t.Errorf("user_version = %d, want 99 untouched", v)
	}
	var tables int
	if err := db.QueryRow("SELECT COUNT(1) FROM sqlite_master WHERE type = 'table'").Scan(&tables); err != nil {
		t.Fatal(err)
	}
	if tables != 0 {
		t.Errorf("tables = %d, want 0", tables)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if strings.EqualFold(mode, "wal") {
		t.Error("journal_mode switched to wal on a rejected file")
	}
}

func TestOpen_LegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db := rawDB(t, path)
	if _, err := db.Exec("CREATE TABLE kv (key TEXT PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path)
	if !kverr.Is(err, kverr.KindSchema) {
		t.Fatalf("err = %v, want schema error", err)
	}
	if !strings.Contains(err.Error(), "legacy") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := entry.New("hello world", []string{"a", "b"}, t0.Add(987654321*time.Nanosecond))
	e.SetTTL(30, t0)
	if err := s.Upsert(ctx, "greeting", e); err != nil {
		t.Fatal(err)
	}

	records, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("len = %d, want 1", len(records))
	}
	got := records[0]
	if got.Key != "greeting" || got.Value != "hello world" {
		t.Errorf("got %+v", got)
	}
	if !slices.Equal(got.Tags, []string{"a", "b"}) {
		t.Errorf("Tags = %v", got.Tags)
	}
	want := e.CreatedAt.Truncate(time.Microsecond)
	if !got.CreatedAt.Equal(want) || !got.UpdatedAt.Equal(want) {
		t.Errorf("timestamps = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, want)
	}
	if !got.ExpiresAt.Equal(e.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, e.ExpiresAt)
	}
}

func TestSQLiteStore_RoundTrip_NoExpiryNoTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "plain", entry.New("v", nil, t0)); err != nil {
		t.Fatal(err)
	}
	records, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records[0].Tags) != 0 {
		t.Errorf("Tags = %v, want empty", records[0].Tags)
	}
	if !records[0].ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", records[0].ExpiresAt)
	}
}

func TestSQLiteStore_Upsert_KeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := entry.New("v1", nil, t0)
	if err := s.Upsert(ctx, "k", first); err != nil {
		t.Fatal(err)
	}

	// A caller that forgot to carry created_at over still cannot change it.
	second := entry.New("v2", []string{"x"}, t0.Add(time.Hour))
	if err := s.Upsert(ctx, "k", second); err != nil {
		t.Fatal(err)
	}

	records, _ := s.LoadAll(ctx)
	got := records[0]
	if got.Value != "v2" {
		t.Errorf("Value = %q, want v2", got.Value)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
	}
	if !got.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}
}

func TestSQLiteStore_LoadAll_OrderedByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"charlie", "alpha", "bravo"} {
		if err := s.Upsert(ctx, k, entry.New(k, nil, t0)); err != nil {
			t.Fatal(err)
		}
	}
	records, _ := s.LoadAll(ctx)
	var keys []string
	for _, r := range records {
		keys = append(keys, r.Key)
	}
	if !slices.Equal(keys, []string{"alpha", "bravo", "charlie"}) {
		t.Errorf("keys = %v", keys)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, "k", entry.New("v", nil, t0))
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count = %d after delete", n)
	}
}

func TestSQLiteStore_Delete_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(context.Background(), "missing")
	if !kverr.Is(err, kverr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err.Error() != "key not found: missing" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestSQLiteStore_ReplaceAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, "old1", entry.New("o", nil, t0))
	s.Upsert(ctx, "old2", entry.New("o", nil, t0))

	next := []entry.Record{
		{Key: "new1", Entry: entry.New("n1", nil, t0)},
		{Key: "new2", Entry: entry.New("n2", nil, t0)},
		{Key: "new3", Entry: entry.New("n3", nil, t0)},
	}
	if err := s.ReplaceAll(ctx, next); err != nil {
		t.Fatal(err)
	}

	records, _ := s.LoadAll(ctx)
	var keys []string
	for _, r := range records {
		keys = append(keys, r.Key)
	}
	if !slices.Equal(keys, []string{"new1", "new2", "new3"}) {
		t.Errorf("keys = %v", keys)
	}
}

func TestSQLiteStore_ReplaceAll_Empty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, "a", entry.New("v", nil, t0))
	s.Upsert(ctx, "b", entry.New("v", nil, t0))

	if err := s.ReplaceAll(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestSQLiteStore_ReplaceAll_FailureKeepsOldTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, "keep1", entry.New("v", nil, t0))
	s.Upsert(ctx, "keep2", entry.New("v", nil, t0))

	inserts := 0
	exec := s.hooks.exec
	s.hooks.exec = func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
		if strings.Contains(query, "INSERT INTO kv") {
			inserts++
			if inserts == 2 {
				return nil, errors.New("disk full")
			}
		}
		return exec(ctx, db, query, args...)
	}

	err := s.ReplaceAll(ctx, []entry.Record{
		{Key: "x", Entry: entry.New("1", nil, t0)},
		{Key: "y", Entry: entry.New("2", nil, t0)},
		{Key: "z", Entry: entry.New("3", nil, t0)},
	})
	if !kverr.Is(err, kverr.KindStorage) {
		t.Fatalf("err = %v, want storage error", err)
	}

	s.hooks = defaultStoreHooks()
	records, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, r := range records {
		keys = append(keys, r.Key)
	}
	if !slices.Equal(keys, []string{"keep1", "keep2"}) {
		t.Errorf("keys = %v, want old table intact", keys)
	}
}

func TestSQLiteStore_Upsert_CommitFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.hooks.commit = func(tx *sql.Tx) error {
		tx.Rollback()
		return errors.New("commit refused")
	}
	err := s.Upsert(ctx, "k", entry.New("v", nil, t0))
	if !kverr.Is(err, kverr.KindStorage) {
		t.Fatalf("err = %v, want storage error", err)
	}
	if !strings.Contains(err.Error(), "storing key 'k'") {
		t.Errorf("message = %q", err.Error())
	}

	s.hooks = defaultStoreHooks()
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count = %d after failed commit", n)
	}
}

func TestSQLiteStore_SweepExpired(t *testing.T) {
	now := t0
	s := newTestStore(t, WithClock(func() time.Time { return now }), WithSweepGrace(0))
	ctx := context.Background()

	short := entry.New("short", nil, t0)
	short.SetTTL(5, t0)
	long := entry.New("long", nil, t0)
	long.SetTTL(60, t0)
	s.Upsert(ctx, "short", short)
	s.Upsert(ctx, "long", long)
	s.Upsert(ctx, "forever", entry.New("forever", nil, t0))

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("swept %d before any expiry", n)
	}

	now = t0.Add(5 * time.Minute)
	n, err = s.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d at the deadline, want 1", n)
	}

	records, _ := s.LoadAll(ctx)
	var keys []string
	for _, r := range records {
		keys = append(keys, r.Key)
	}
	if !slices.Equal(keys, []string{"forever", "long"}) {
		t.Errorf("keys = %v", keys)
	}
}

func TestSQLiteStore_SweepExpired_Grace(t *testing.T) {
	now := t0
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	e := entry.New("v", nil, t0)
	e.SetTTL(1, t0)
	s.Upsert(ctx, "k", e)

	now = t0.Add(30 * time.Minute)
	if n, _ := s.SweepExpired(ctx); n != 0 {
		t.Errorf("swept %d inside the grace window", n)
	}

	now = t0.Add(time.Minute + DefaultSweepGrace)
	if n, _ := s.SweepExpired(ctx); n != 1 {
		t.Errorf("swept %d after the grace window, want 1", n)
	}

	// Repeated sweeps are harmless.
	if n, err := s.SweepExpired(ctx); err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v", n, err)
	}
}

func TestSQLiteStore_Count(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, k := range []string{"a", "b", "c"} {
		s.Upsert(ctx, k, entry.New("v", nil, t0.Add(time.Duration(i)*time.Second)))
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
