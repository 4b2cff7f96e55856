package mutation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/overhuman/kvstore/internal/cache"
	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/observability"
	"github.com/overhuman/kvstore/internal/storage"
)

// Mutator runs record and tag operations against a store. Every operation
// reads a fresh snapshot, so a Mutator holds no cached state.
type Mutator struct {
	store storage.Store
	now   func() time.Time
	log   *observability.Logger
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Mutator) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(m *Mutator) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMutator creates a Mutator over store.
func NewMutator(store storage.Store, opts ...Option) *Mutator {
	m := &Mutator{store: store, now: time.Now, log: observability.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UpsertInput is a create-or-update request. A nil Tags keeps the current
// tags; a nil TTLMinutes keeps the current expiry.
type UpsertInput struct {
	Key        string
	Value      string
	Tags       *[]string
	TTLMinutes *int64
}

// RequireNonEmpty trims value and rejects it when nothing is left.
func RequireNonEmpty(value, field string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", kverr.InvalidInput("field '%s' cannot be empty", field)
	}
	return trimmed, nil
}

// RequirePositiveMinutes rejects zero, negative and unrepresentable
// durations.
func RequirePositiveMinutes(minutes int64, field string) (int64, error) {
	if minutes <= 0 {
		return 0, kverr.InvalidInput("field '%s' must be greater than 0", field)
	}
	if minutes > entry.MaxTTLMinutes {
		return 0, kverr.InvalidInput("field '%s' must be at most %d", field, entry.MaxTTLMinutes)
	}
	return minutes, nil
}

// maxExpiryYear is the last year TimeLayout can persist and parse back.
const maxExpiryYear = 9999

// Snapshot loads the store into a throwaway index.
func (m *Mutator) Snapshot(ctx context.Context) (*cache.Index, error) {
	records, err := m.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return cache.New(records, cache.WithLogger(m.log)), nil
}

func (m *Mutator) existing(ctx context.Context, key string) (entry.Entry, error) {
	ix, err := m.Snapshot(ctx)
	if err != nil {
		return entry.Entry{}, err
	}
	e, ok := ix.Get(key)
	if !ok {
		return entry.Entry{}, kverr.NotFound(key)
	}
	return e, nil
}

// Upsert creates or updates a record.
func (m *Mutator) Upsert(ctx context.Context, in UpsertInput) (string, error) {
	key, err := RequireNonEmpty(in.Key, "key")
	if err != nil {
		return "", err
	}
	if in.TTLMinutes != nil {
		if _, err := RequirePositiveMinutes(*in.TTLMinutes, "ttl_minutes"); err != nil {
			return "", err
		}
	}

	ix, err := m.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	now := m.now()

	prev, existed := ix.Get(key)
	var base *entry.Entry
	if existed {
		base = &prev
	}

	tags := []string{}
	switch {
	case in.Tags != nil:
		tags = entry.NormalizeTags(*in.Tags)
	case existed:
		tags = prev.Tags
	}

	next := entry.ForUpdate(base, in.Value, tags, now)
	if in.TTLMinutes != nil {
		next.SetTTL(*in.TTLMinutes, now)
	}
	if err := Upsert(key, next).Commit(ctx, m.store); err != nil {
		return "", err
	}

	if existed {
		return fmt.Sprintf("updated '%s'", key), nil
	}
	return fmt.Sprintf("created '%s'", key), nil
}

// Delete removes a record.
func (m *Mutator) Delete(ctx context.Context, key string) (string, error) {
	key, err := RequireNonEmpty(key, "key")
	if err != nil {
		return "", err
	}
	if err := Delete(key).Commit(ctx, m.store); err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted '%s'", key), nil
}

// AddTag adds tag to one record.
func (m *Mutator) AddTag(ctx context.Context, key, tag string) (string, error) {
	key, err := RequireNonEmpty(key, "key")
	if err != nil {
		return "", err
	}
	tag, err = RequireNonEmpty(tag, "tag")
	if err != nil {
		return "", err
	}

	cur, err := m.existing(ctx, key)
	if err != nil {
		return "", err
	}
	tags := entry.NormalizeTags(append(slices.Clone(cur.Tags), tag))
	if slices.Equal(tags, cur.Tags) {
		return fmt.Sprintf("tag '%s' already exists on '%s'", tag, key), nil
	}

	next := entry.ForUpdate(&cur, cur.Value, tags, m.now())
	if err := Upsert(key, next).Commit(ctx, m.store); err != nil {
		return "", err
	}
	return fmt.Sprintf("added tag '%s' to '%s'", tag, key), nil
}

// RemoveTag removes tag from one record.
func (m *Mutator) RemoveTag(ctx context.Context, key, tag string) (string, error) {
	key, err := RequireNonEmpty(key, "key")
	if err != nil {
		return "", err
	}
	tag, err = RequireNonEmpty(tag, "tag")
	if err != nil {
		return "", err
	}

	cur, err := m.existing(ctx, key)
	if err != nil {
		return "", err
	}
	if !cur.HasTag(tag) {
		return "", kverr.NotFound(fmt.Sprintf("tag '%s' on '%s'", tag, key))
	}
	tags := slices.DeleteFunc(slices.Clone(cur.Tags), func(t string) bool { return t == tag })

	next := entry.ForUpdate(&cur, cur.Value, entry.NormalizeTags(tags), m.now())
	if err := Upsert(key, next).Commit(ctx, m.store); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed tag '%s' from '%s'", tag, key), nil
}

// ExtendTTL pushes a record's expiry out by minutes.
func (m *Mutator) ExtendTTL(ctx context.Context, key string, minutes int64) (string, error) {
	key, err := RequireNonEmpty(key, "key")
	if err != nil {
		return "", err
	}
	if _, err := RequirePositiveMinutes(minutes, "ttl_minutes"); err != nil {
		return "", err
	}

	cur, err := m.existing(ctx, key)
	if err != nil {
		return "", err
	}
	now := m.now()
	next := entry.ForUpdate(&cur, cur.Value, cur.Tags, now)
	next.ExtendTTL(minutes, now)
	if next.ExpiresAt.Year() > maxExpiryYear {
		return "", kverr.InvalidInput("field 'ttl_minutes' moves the expiry past year %d", maxExpiryYear)
	}
	if err := Upsert(key, next).Commit(ctx, m.store); err != nil {
		return "", err
	}
	return fmt.Sprintf("extended ttl for '%s' by %d minute(s)", key, minutes), nil
}

// RenameTag renames a tag on every record carrying it, atomically.
func (m *Mutator) RenameTag(ctx context.Context, from, to string) (string, error) {
	from, err := RequireNonEmpty(from, "from")
	if err != nil {
		return "", err
	}
	to, err = RequireNonEmpty(to, "to")
	if err != nil {
		return "", err
	}
	if from == to {
		return "", kverr.InvalidInput("field 'from' and 'to' must differ")
	}

	changed, err := m.rewriteTags(ctx, from, func(tags []string) []string {
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if t == from {
				t = to
			}
			out = append(out, t)
		}
		return out
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("renamed tag '%s' to '%s' on %d record(s)", from, to, changed), nil
}

// DeleteTag strips a tag from every record carrying it, atomically.
func (m *Mutator) DeleteTag(ctx context.Context, tag string) (string, error) {
	tag, err := RequireNonEmpty(tag, "tag")
	if err != nil {
		return "", err
	}

	changed, err := m.rewriteTags(ctx, tag, func(tags []string) []string {
		return slices.DeleteFunc(slices.Clone(tags), func(t string) bool { return t == tag })
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted tag '%s' from %d record(s)", tag, changed), nil
}

// rewriteTags applies rewrite to every record carrying target and replaces
// the whole table in one transaction.
func (m *Mutator) rewriteTags(ctx context.Context, target string, rewrite func([]string) []string) (int, error) {
	ix, err := m.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	records := ix.Ordered()
	changed := 0
	for i, rec := range records {
		if !rec.HasTag(target) {
			continue
		}
		cur := rec.Entry
		records[i].Entry = entry.ForUpdate(&cur, cur.Value, entry.NormalizeTags(rewrite(cur.Tags)), now)
		changed++
	}
	if changed == 0 {
		return 0, kverr.NotFound(fmt.Sprintf("tag '%s'", target))
	}

	if err := Replace(records).Commit(ctx, m.store); err != nil {
		return 0, err
	}
	m.log.Info("rewrote tag", "tag", target, "records", changed)
	return changed, nil
}
