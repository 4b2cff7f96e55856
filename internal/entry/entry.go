// Package entry holds the stored unit of the note store: a value, its tags
// and its lifecycle timestamps.
package entry

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/overhuman/kvstore/internal/kverr"
)

// TimeLayout is the persisted timestamp format. It is RFC3339 with a fixed
// width fraction so that text comparison in SQL matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// MaxTTLMinutes is the largest TTL that fits in a time.Duration.
const MaxTTLMinutes = math.MaxInt64 / int64(time.Minute)

// ttl converts minutes to a Duration, saturating at MaxTTLMinutes.
func ttl(minutes int64) time.Duration {
	return time.Duration(min(minutes, MaxTTLMinutes)) * time.Minute
}

// Entry is the value stored under one key.
type Entry struct {
	Value     string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time // Zero means no expiry.
}

// Record pairs a key with its entry.
type Record struct {
	Key string
	Entry
}

// New creates a fresh entry with both timestamps set to now.
func New(value string, tags []string, now time.Time) Entry {
	now = now.UTC()
	return Entry{
		Value:     value,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ForUpdate builds the next version of an entry. created_at and the expiry
// carry over from existing; updated_at becomes now.
func ForUpdate(existing *Entry, value string, tags []string, now time.Time) Entry {
	next := New(value, tags, now)
	if existing != nil {
		next.CreatedAt = existing.CreatedAt
		next.ExpiresAt = existing.ExpiresAt
	}
	return next
}

// FromPersisted decodes a row as stored in the kv table.
func FromPersisted(value, tagsJSON, createdAt, updatedAt string, expiresAt *string) (Entry, error) {
	var tags []string
	if strings.TrimSpace(tagsJSON) != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return Entry{}, fmt.Errorf("decode tags %q: %w", tagsJSON, err)
		}
	}

	created, err := ParseTime(createdAt)
	if err != nil {
		return Entry{}, err
	}
	updated, err := ParseTime(updatedAt)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Value:     value,
		Tags:      tags,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if expiresAt != nil && strings.TrimSpace(*expiresAt) != "" {
		if e.ExpiresAt, err = ParseTime(*expiresAt); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

// TagsJSON encodes the tag set as a JSON array ("[]" when empty).
func (e Entry) TagsJSON() (string, error) {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// HasTag reports whether the entry carries tag exactly.
func (e Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// SetTTL replaces the expiry with now+minutes. A non-positive value clears it.
func (e *Entry) SetTTL(minutes int64, now time.Time) {
	if minutes <= 0 {
		e.ExpiresAt = time.Time{}
		return
	}
	e.ExpiresAt = now.UTC().Add(ttl(minutes))
}

// ExtendTTL pushes the expiry out by minutes, counting from the current
// expiry or from now, whichever is later.
func (e *Entry) ExtendTTL(minutes int64, now time.Time) {
	base := now.UTC()
	if e.ExpiresAt.After(base) {
		base = e.ExpiresAt
	}
	e.ExpiresAt = base.Add(ttl(minutes))
}

// Expired reports whether the entry has an expiry at or before now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// Remaining returns the time left before expiry; ok is false when the entry
// never expires.
func (e Entry) Remaining(now time.Time) (d time.Duration, ok bool) {
	if e.ExpiresAt.IsZero() {
		return 0, false
	}
	return e.ExpiresAt.Sub(now), true
}

// Summary renders "key = value [tags: a, b]" for listings.
func (e Entry) Summary(key string) string {
	if len(e.Tags) == 0 {
		return fmt.Sprintf("%s = %s", key, e.Value)
	}
	return fmt.Sprintf("%s = %s [tags: %s]", key, e.Value, strings.Join(e.Tags, ", "))
}

// Describe renders the quoted value and its tags for confirmations.
func (e Entry) Describe() string {
	if len(e.Tags) == 0 {
		return fmt.Sprintf("'%s'", e.Value)
	}
	return fmt.Sprintf("'%s' (tags: %s)", e.Value, strings.Join(e.Tags, ", "))
}

// NormalizeTags trims every tag, drops empties and duplicates and returns
// the survivors sorted. The result is never nil.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// FormatTime renders t in the persisted layout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatOptional renders t, or nil when t is zero.
func FormatOptional(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := FormatTime(t)
	return &s
}

// ParseTime accepts any RFC3339 timestamp and returns it in UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, kverr.InvalidInput("invalid timestamp %q: %v", s, err)
	}
	return t.UTC(), nil
}
