// Package mutation changes records durably.
//
// A Mutation describes one store change (upsert, delete or full replace).
// Apply commits it to the store and only then mirrors it into an index, so
// a failed commit leaves both untouched. Mutator builds mutations for the
// record and tag operations exposed over HTTP and MCP, working from a fresh
// snapshot of the store on every call.
package mutation

import (
	"context"
	"fmt"

	"github.com/overhuman/kvstore/internal/cache"
	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/storage"
)

// Op identifies the kind of change.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
	OpReplace
)

func (o Op) String() string {
	switch o {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	case OpReplace:
		return "replace"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Mutation is one change to a namespace.
type Mutation struct {
	Op      Op
	Key     string         // upsert, delete
	Entry   entry.Entry    // upsert
	Records []entry.Record // replace
}

// Upsert stores e under key.
func Upsert(key string, e entry.Entry) Mutation {
	return Mutation{Op: OpUpsert, Key: key, Entry: e}
}

// Delete removes key.
func Delete(key string) Mutation {
	return Mutation{Op: OpDelete, Key: key}
}

// Replace swaps the whole namespace for records.
func Replace(records []entry.Record) Mutation {
	return Mutation{Op: OpReplace, Records: records}
}

// Commit writes the mutation to the store in one transaction.
func (m Mutation) Commit(ctx context.Context, store storage.Store) error {
	switch m.Op {
	case OpUpsert:
		return store.Upsert(ctx, m.Key, m.Entry)
	case OpDelete:
		return store.Delete(ctx, m.Key)
	case OpReplace:
		return store.ReplaceAll(ctx, m.Records)
	}
	return fmt.Errorf("unknown mutation %v", m.Op)
}

// ApplyTo mirrors a committed mutation into ix.
func (m Mutation) ApplyTo(ix *cache.Index) {
	switch m.Op {
	case OpUpsert:
		ix.Insert(m.Key, m.Entry)
	case OpDelete:
		ix.Remove(m.Key)
	case OpReplace:
		ix.Reset(m.Records)
	}
}

// Apply commits m and, once that succeeded, applies it to ix. ix may be nil
// when there is no long-lived index to keep in step.
func Apply(ctx context.Context, store storage.Store, ix *cache.Index, m Mutation) error {
	if err := m.Commit(ctx, store); err != nil {
		return err
	}
	if ix != nil {
		m.ApplyTo(ix)
	}
	return nil
}
