package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultRecentCapacity bounds the history when no config is given.
const DefaultRecentCapacity = 50

// RecentConfig locates and bounds the recent-access log.
type RecentConfig struct {
	Path     string
	Capacity int
}

// NewRecentConfig clamps capacity to at least one.
func NewRecentConfig(path string, capacity int) RecentConfig {
	return RecentConfig{Path: path, Capacity: max(capacity, 1)}
}

// EnableRecent loads the history file and keeps it in sync from now on.
// A missing file is an empty history; an unreadable one is logged and
// treated the same way. Keys no longer in the index are dropped.
func (ix *Index) EnableRecent(cfg RecentConfig) {
	ix.recentCap = max(cfg.Capacity, 1)
	ix.recentPath = cfg.Path
	ix.recent = ix.loadRecent(cfg.Path)
	ix.pruneRecent()
}

// RecordAccess moves key to the front of the history. Unknown keys are
// ignored.
func (ix *Index) RecordAccess(key string) {
	if !ix.Contains(key) {
		return
	}
	ix.recent = slices.DeleteFunc(ix.recent, func(k string) bool { return k == key })
	ix.recent = slices.Insert(ix.recent, 0, key)
	if len(ix.recent) > ix.recentCap {
		ix.recent = ix.recent[:ix.recentCap]
	}
	ix.persistRecent()
}

// Recent returns up to limit keys, most recent first.
func (ix *Index) Recent(limit int) []string {
	if limit <= 0 {
		return nil
	}
	return slices.Clone(ix.recent[:min(limit, len(ix.recent))])
}

func (ix *Index) loadRecent(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			ix.log.Warn("failed to read recent history file", "path", path, "error", err)
		}
		return nil
	}

	var keys []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		key := strings.TrimSpace(line)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// pruneRecent drops duplicates and dead keys, enforces the capacity and
// rewrites the file.
func (ix *Index) pruneRecent() {
	seen := make(map[string]bool, len(ix.recent))
	ix.recent = slices.DeleteFunc(ix.recent, func(k string) bool {
		if seen[k] || !ix.Contains(k) {
			return true
		}
		seen[k] = true
		return false
	})
	if len(ix.recent) > ix.recentCap {
		ix.recent = ix.recent[:ix.recentCap]
	}
	ix.persistRecent()
}

func (ix *Index) persistRecent() {
	if ix.recentPath == "" {
		return
	}
	if dir := filepath.Dir(ix.recentPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			ix.log.Warn("failed to create recent history directory", "path", dir, "error", err)
			return
		}
	}
	payload := strings.Join(ix.recent, "\n")
	if err := os.WriteFile(ix.recentPath, []byte(payload), 0o644); err != nil {
		ix.log.Warn("failed to write recent history file", "path", ix.recentPath, "error", err)
	}
}
