// Package storage provides the durable, authoritative copy of a namespace.
//
// The Store interface is the primary abstraction. SQLiteStore is the default
// implementation using pure-Go SQLite (modernc.org/sqlite).
//
// The store keeps no in-memory state: the cache and the HTTP gateway both
// build their views from LoadAll.
package storage

import (
	"context"

	"github.com/overhuman/kvstore/internal/entry"
)

// Store is the persistent storage interface.
type Store interface {
	// LoadAll returns every record ordered by key.
	LoadAll(ctx context.Context) ([]entry.Record, error)

	// Upsert inserts or replaces one entry. An existing row keeps its
	// created_at.
	Upsert(ctx context.Context, key string, e entry.Entry) error

	// Delete removes a key. It fails with a not-found error when no row
	// matched.
	Delete(ctx context.Context, key string) error

	// ReplaceAll swaps the whole table for records atomically.
	ReplaceAll(ctx context.Context, records []entry.Record) error

	// SweepExpired removes entries whose expiry has passed, minus a grace
	// window, and returns how many were removed.
	SweepExpired(ctx context.Context) (int, error)

	// Count returns the total number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close shuts down the store.
	Close() error
}
