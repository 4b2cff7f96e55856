package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/mutation"
	"github.com/overhuman/kvstore/internal/viewer"
)

// exportEntry is one value in the export document, keyed by record key.
type exportEntry struct {
	Value     string   `json:"value"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	ExpiresAt *string  `json:"expires_at"`
}

type importEntry struct {
	Value     *string  `json:"value"`
	Tags      []string `json:"tags"`
	CreatedAt *string  `json:"created_at"`
	UpdatedAt *string  `json:"updated_at"`
	ExpiresAt *string  `json:"expires_at"`
}

func ensureParent(path, action string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kverr.IO(action, dir, err)
	}
	return nil
}

// Export writes every entry to path as a pretty JSON object keyed by key
// and returns how many were written.
func (s *Session) Export(path string) (int, error) {
	if err := ensureParent(path, "creating export directory"); err != nil {
		return 0, err
	}

	doc := make(map[string]exportEntry, s.index.Len())
	for _, rec := range s.index.Ordered() {
		tags := rec.Tags
		if tags == nil {
			tags = []string{}
		}
		doc[rec.Key] = exportEntry{
			Value:     rec.Value,
			Tags:      tags,
			CreatedAt: entry.FormatTime(rec.CreatedAt),
			UpdatedAt: entry.FormatTime(rec.UpdatedAt),
			ExpiresAt: entry.FormatOptional(rec.ExpiresAt),
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, kverr.IO("writing export file", path, err)
	}
	return len(doc), nil
}

// Import replaces the whole namespace with the contents of path. An empty
// file clears it. Missing timestamps default to now.
func (s *Session) Import(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, kverr.IO("reading import file", path, err)
	}

	doc := map[string]importEntry{}
	if strings.TrimSpace(string(data)) == "" {
		s.log.Warn("import file is empty; clearing namespace", "path", path)
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return 0, kverr.InvalidInput("data format error: %v", err)
	}

	now := s.now()
	records := make([]entry.Record, 0, len(doc))
	for key, item := range doc {
		e, err := item.toEntry(key, now)
		if err != nil {
			return 0, err
		}
		records = append(records, entry.Record{Key: key, Entry: e})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	if err := s.Apply(ctx, mutation.Replace(records)); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (it importEntry) toEntry(key string, now time.Time) (entry.Entry, error) {
	if it.Value == nil {
		return entry.Entry{}, kverr.InvalidInput("data format error: missing field 'value' for '%s'", key)
	}
	e := entry.New(*it.Value, entry.NormalizeTags(it.Tags), now)

	var err error
	if it.CreatedAt != nil {
		if e.CreatedAt, err = entry.ParseTime(*it.CreatedAt); err != nil {
			return entry.Entry{}, err
		}
	}
	if it.UpdatedAt != nil {
		if e.UpdatedAt, err = entry.ParseTime(*it.UpdatedAt); err != nil {
			return entry.Entry{}, err
		}
	}
	if it.ExpiresAt != nil {
		if e.ExpiresAt, err = entry.ParseTime(*it.ExpiresAt); err != nil {
			return entry.Entry{}, err
		}
	}
	return e, nil
}

// WriteHTML writes a static viewer page for the namespace.
func (s *Session) WriteHTML(path string) error {
	if err := ensureParent(path, "creating html output directory"); err != nil {
		return err
	}
	page, err := viewer.Render(s.index, viewer.Options{Namespace: s.namespace})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, page, 0o644); err != nil {
		return kverr.IO("writing html output file", path, err)
	}
	return nil
}

// requireMarkdown rejects paths without an .md extension unless anyFile.
func requireMarkdown(path string, anyFile bool, label string) error {
	if anyFile || strings.EqualFold(filepath.Ext(path), ".md") {
		return nil
	}
	return kverr.InvalidInput("%s must end with '.md' (or pass --any-file): %s", label, path)
}

// PutFile stores the contents of path under key.
func (s *Session) PutFile(ctx context.Context, key, path string, tags []string, anyFile bool) (AddResult, error) {
	if err := requireMarkdown(path, anyFile, "source file"); err != nil {
		return AddResult{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return AddResult{}, kverr.IO("reading source file", path, err)
	}
	return s.Add(ctx, key, string(data), tags, 0)
}

// GetFile writes key's value to path.
func (s *Session) GetFile(key, path string, anyFile bool) error {
	if err := requireMarkdown(path, anyFile, "destination file"); err != nil {
		return err
	}
	e, ok := s.index.Get(key)
	if !ok {
		return kverr.NotFound(key)
	}
	if err := ensureParent(path, "creating destination directory"); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(e.Value), 0o644); err != nil {
		return kverr.IO("writing destination file", path, err)
	}
	s.index.RecordAccess(key)
	return nil
}
