package cache

import (
	"sort"

	"github.com/sahilm/fuzzy"

	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/kverr"
)

// Scope restricts what a search looks at.
type Scope int

const (
	ScopeAll Scope = iota
	ScopeKeys
	ScopeTags
)

func (s Scope) String() string {
	switch s {
	case ScopeKeys:
		return "keys"
	case ScopeTags:
		return "tags"
	default:
		return "all"
	}
}

func (s Scope) keys() bool { return s == ScopeAll || s == ScopeKeys }
func (s Scope) tags() bool { return s == ScopeAll || s == ScopeTags }

// ResolveScope maps the --tags/--keys flags to a scope.
func ResolveScope(tagsOnly, keysOnly bool) (Scope, error) {
	switch {
	case tagsOnly && keysOnly:
		return ScopeAll, kverr.InvalidInput("cannot combine --tags and --keys")
	case tagsOnly:
		return ScopeTags, nil
	case keysOnly:
		return ScopeKeys, nil
	}
	return ScopeAll, nil
}

// ParseScope reads a scope name as printed by Scope.String. Empty means
// ScopeAll.
func ParseScope(name string) (Scope, error) {
	switch name {
	case "", "all":
		return ScopeAll, nil
	case "keys":
		return ScopeKeys, nil
	case "tags":
		return ScopeTags, nil
	}
	return ScopeAll, kverr.InvalidInput("unknown search scope '%s' (want all, keys or tags)", name)
}

// Matcher scores a candidate against a pattern; higher is better and ok is
// false when the candidate does not match at all.
type Matcher interface {
	Score(pattern, candidate string) (score int, ok bool)
}

// FuzzyMatcher is the default Matcher, backed by sahilm/fuzzy.
type FuzzyMatcher struct{}

// Score implements Matcher.
func (FuzzyMatcher) Score(pattern, candidate string) (int, bool) {
	matches := fuzzy.Find(pattern, []string{candidate})
	if len(matches) == 0 {
		return 0, false
	}
	return matches[0].Score, true
}

// Match is one search hit.
type Match struct {
	Key   string
	Entry entry.Entry
	Score int
}

// Search ranks entries against pattern and returns at most limit matches,
// best first. Entries with equal scores come back in no particular order.
func (ix *Index) Search(pattern string, limit int, scope Scope) []Match {
	if pattern == "" || limit <= 0 {
		return nil
	}

	var scored []Match
	for _, key := range ix.keys {
		e, ok := ix.entries[key]
		if !ok {
			continue
		}

		var keyScore, tagScore int
		var keyOK, tagOK bool
		if scope.keys() {
			keyScore, keyOK = ix.matcher.Score(pattern, key)
		}
		if scope.tags() {
			for _, tag := range e.Tags {
				if s, ok := ix.matcher.Score(pattern, tag); ok && (!tagOK || s > tagScore) {
					tagScore, tagOK = s, true
				}
			}
		}

		best, found := keyScore, keyOK
		if tagOK && (!found || tagScore > best) {
			best, found = tagScore, true
		}
		if found {
			scored = append(scored, Match{Key: key, Entry: e, Score: best})
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	ix.log.Debug("fuzzy search", "pattern", pattern, "scope", scope.String(), "results", len(scored))
	return scored
}
