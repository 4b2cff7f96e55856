// Package session is the CLI's view of one namespace: a store handle plus
// a long-lived index that every mutation updates after the store commits.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/overhuman/kvstore/internal/cache"
	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/mutation"
	"github.com/overhuman/kvstore/internal/observability"
	"github.com/overhuman/kvstore/internal/storage"
)

// Options configures Open.
type Options struct {
	Namespace    string
	DataFile     string
	RecentFile   string
	HistoryLimit int           // 0 disables recent history
	SweepGrace   time.Duration // how long past expiry an entry survives the open-time sweep
	Logger       *observability.Logger
	Now          func() time.Time
}

// Session owns a store and its index.
type Session struct {
	store     storage.Store
	index     *cache.Index
	namespace string
	log       *observability.Logger
	now       func() time.Time
}

// Open connects the store at opts.DataFile, drops expired entries and
// loads the rest.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	storeOpts := []storage.Option{storage.WithLogger(opts.Logger.Named("storage"))}
	if opts.Now != nil {
		storeOpts = append(storeOpts, storage.WithClock(opts.Now))
	}
	storeOpts = append(storeOpts, storage.WithSweepGrace(opts.SweepGrace))

	opts.Logger.Debug("opening store", "path", opts.DataFile)
	store, err := storage.Open(opts.DataFile, storeOpts...)
	if err != nil {
		return nil, err
	}
	s, err := FromStore(ctx, store, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// FromStore builds a session over an already opened store.
func FromStore(ctx context.Context, store storage.Store, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if n, err := store.SweepExpired(ctx); err != nil {
		return nil, err
	} else if n > 0 {
		opts.Logger.Info("removed expired entries", "count", n)
	}

	records, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	ix := cache.New(records, cache.WithLogger(opts.Logger.Named("cache")))
	if opts.HistoryLimit > 0 {
		ix.EnableRecent(cache.NewRecentConfig(opts.RecentFile, opts.HistoryLimit))
	}

	return &Session{
		store:     store,
		index:     ix,
		namespace: opts.Namespace,
		log:       opts.Logger,
		now:       opts.Now,
	}, nil
}

// Close releases the store.
func (s *Session) Close() error {
	return s.store.Close()
}

// Index exposes the loaded index for read-only consumers.
func (s *Session) Index() *cache.Index {
	return s.index
}

// Namespace returns the namespace this session was opened for.
func (s *Session) Namespace() string {
	return s.namespace
}

// Apply commits m and mirrors it into the index.
func (s *Session) Apply(ctx context.Context, m mutation.Mutation) error {
	return mutation.Apply(ctx, s.store, s.index, m)
}

// AddResult reports what Add changed.
type AddResult struct {
	Key      string
	Entry    entry.Entry
	Previous *entry.Entry
}

// Message is the CLI confirmation line.
func (r AddResult) Message() string {
	if r.Previous != nil {
		return "Updated '" + r.Key + "'. Previous: " + r.Previous.Describe() + "; Now: " + r.Entry.Describe()
	}
	return "Added '" + r.Key + "'. " + r.Entry.Describe()
}

// Add creates or updates key. Empty tags keep the existing ones; ttl > 0
// sets a fresh expiry and ttl == 0 keeps the current one.
func (s *Session) Add(ctx context.Context, key, value string, tags []string, ttl int64) (AddResult, error) {
	if strings.TrimSpace(key) == "" {
		return AddResult{}, kverr.InvalidInput("field 'key' cannot be empty")
	}
	if ttl < 0 {
		return AddResult{}, kverr.InvalidInput("--ttl must be greater than 0")
	}
	if ttl > entry.MaxTTLMinutes {
		return AddResult{}, kverr.InvalidInput("--ttl must be at most %d", entry.MaxTTLMinutes)
	}

	now := s.now()
	var prev *entry.Entry
	if e, ok := s.index.Get(key); ok {
		prev = &e
	}

	switch {
	case len(tags) > 0:
		tags = entry.NormalizeTags(tags)
	case prev != nil:
		tags = prev.Tags
	default:
		tags = []string{}
	}

	next := entry.ForUpdate(prev, value, tags, now)
	if ttl > 0 {
		next.SetTTL(ttl, now)
	}
	if err := s.Apply(ctx, mutation.Upsert(key, next)); err != nil {
		return AddResult{}, err
	}
	s.index.RecordAccess(key)
	return AddResult{Key: key, Entry: next, Previous: prev}, nil
}

// Get returns key's entry and records the access.
func (s *Session) Get(key string) (entry.Entry, error) {
	e, ok := s.index.Get(key)
	if !ok {
		return entry.Entry{}, kverr.NotFound(key)
	}
	s.index.RecordAccess(key)
	return e, nil
}

// Remove deletes key and returns what it held.
func (s *Session) Remove(ctx context.Context, key string) (entry.Entry, error) {
	e, ok := s.index.Get(key)
	if !ok {
		return entry.Entry{}, kverr.NotFound(key)
	}
	if err := s.Apply(ctx, mutation.Delete(key)); err != nil {
		return entry.Entry{}, err
	}
	return e, nil
}

// List returns every record in key order, keeping only keys that match the
// glob pattern when one is given.
func (s *Session) List(pattern string) ([]entry.Record, error) {
	records := s.index.Ordered()
	if pattern == "" {
		return records, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, kverr.InvalidInput("invalid --match pattern '%s': %v", pattern, err)
	}
	out := records[:0]
	for _, rec := range records {
		if g.Match(rec.Key) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Search runs a fuzzy search over the index.
func (s *Session) Search(pattern string, limit int, scope cache.Scope) []cache.Match {
	return s.index.Search(pattern, limit, scope)
}

// Recent returns up to limit recently accessed keys, newest first.
func (s *Session) Recent(limit int) []string {
	return s.index.Recent(limit)
}
