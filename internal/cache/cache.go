// Package cache holds the in-memory mirror of one namespace: a key→entry map
// plus a sorted key list for ordered listing and fuzzy search, and the
// recently-accessed key log.
//
// An Index has no locking. It is owned by one session (the CLI path) or
// built fresh for one request (the gateway) and is never shared.
package cache

import (
	"slices"

	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/observability"
)

// Index is the in-memory view of a namespace.
type Index struct {
	entries map[string]entry.Entry
	keys    []string // sorted ascending, same set as entries
	matcher Matcher
	log     *observability.Logger

	recent     []string // most recent first
	recentCap  int
	recentPath string // empty: history kept in memory only
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger for cache and history events.
func WithLogger(l *observability.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.log = l
		}
	}
}

// WithMatcher replaces the default fuzzy matcher.
func WithMatcher(m Matcher) Option {
	return func(ix *Index) {
		if m != nil {
			ix.matcher = m
		}
	}
}

// New builds an index from records.
func New(records []entry.Record, opts ...Option) *Index {
	ix := &Index{
		matcher:   FuzzyMatcher{},
		log:       observability.Discard(),
		recentCap: DefaultRecentCapacity,
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.fill(records)
	return ix
}

func (ix *Index) fill(records []entry.Record) {
	ix.entries = make(map[string]entry.Entry, len(records))
	ix.keys = make([]string, 0, len(records))
	for _, rec := range records {
		if _, dup := ix.entries[rec.Key]; !dup {
			ix.keys = append(ix.keys, rec.Key)
		}
		ix.entries[rec.Key] = rec.Entry
	}
	slices.Sort(ix.keys)
}

// Reset replaces the whole working set and re-prunes the recent history
// against the new keys.
func (ix *Index) Reset(records []entry.Record) {
	ix.fill(records)
	ix.log.Info("cache reset", "total_entries", len(ix.entries))
	ix.pruneRecent()
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Get returns the entry for key.
func (ix *Index) Get(key string) (entry.Entry, bool) {
	e, ok := ix.entries[key]
	return e, ok
}

// Contains reports whether key is present.
func (ix *Index) Contains(key string) bool {
	_, ok := ix.entries[key]
	return ok
}

// Insert stores e under key and returns the entry it replaced, if any.
func (ix *Index) Insert(key string, e entry.Entry) (entry.Entry, bool) {
	prev, existed := ix.entries[key]
	if !existed {
		pos, found := slices.BinarySearch(ix.keys, key)
		if !found {
			ix.keys = slices.Insert(ix.keys, pos, key)
		}
	}
	ix.entries[key] = e
	ix.log.Debug("cache updated", "key", key, "total_entries", len(ix.entries))
	return prev, existed
}

// Remove deletes key and evicts it from the recent history.
func (ix *Index) Remove(key string) (entry.Entry, bool) {
	prev, existed := ix.entries[key]
	if !existed {
		return entry.Entry{}, false
	}
	delete(ix.entries, key)
	if pos, found := slices.BinarySearch(ix.keys, key); found {
		ix.keys = slices.Delete(ix.keys, pos, pos+1)
	} else {
		ix.keys = slices.DeleteFunc(ix.keys, func(k string) bool { return k == key })
	}
	ix.log.Debug("cache removed key", "key", key, "total_entries", len(ix.entries))
	ix.pruneRecent()
	return prev, true
}

// Ordered returns every record in ascending key order.
func (ix *Index) Ordered() []entry.Record {
	out := make([]entry.Record, 0, len(ix.keys))
	for _, k := range ix.keys {
		if e, ok := ix.entries[k]; ok {
			out = append(out, entry.Record{Key: k, Entry: e})
		}
	}
	return out
}

// Keys returns a copy of the sorted key list.
func (ix *Index) Keys() []string {
	return slices.Clone(ix.keys)
}
