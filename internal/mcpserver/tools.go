package mcpserver

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/overhuman/kvstore/internal/cache"
	"github.com/overhuman/kvstore/internal/entry"
	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/mutation"
)

// intArg extracts an integer argument; JSON numbers arrive as float64.
// Values beyond the int64 range saturate so range checks downstream still
// see them as too large or too small.
func intArg(req mcp.CallToolRequest, key string) (n int64, ok bool, err error) {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return 0, false, nil
	}
	switch {
	case math.IsNaN(v) || v != math.Trunc(v):
		return 0, true, kverr.InvalidInput("field '%s' must be a whole number", key)
	case v >= math.MaxInt64:
		return math.MaxInt64, true, nil
	case v <= math.MinInt64:
		return math.MinInt64, true, nil
	}
	return int64(v), true, nil
}

// stringsArg extracts a string array argument. ok is false when the key is
// absent.
func stringsArg(req mcp.CallToolRequest, key string) ([]string, bool) {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func describe(e entry.Entry, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", e.Value)
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(e.Tags, ", "))
	}
	if d, ok := e.Remaining(now); ok {
		fmt.Fprintf(&b, "expires: %s (in %s)\n", entry.FormatTime(e.ExpiresAt), d.Round(time.Second))
	}
	fmt.Fprintf(&b, "updated: %s", entry.FormatTime(e.UpdatedAt))
	return b.String()
}

// GetTool handles kv_get.
type GetTool struct {
	m *mutation.Mutator
}

// NewGetTool creates a GetTool.
func NewGetTool(m *mutation.Mutator) *GetTool { return &GetTool{m: m} }

// Definition returns the kv_get schema.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("kv_get",
		mcp.WithDescription("Read the value stored under a key, with its tags and expiry."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Exact key")),
	)
}

// Handle processes kv_get.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("'key' is required"), nil
	}
	ix, err := t.m.Snapshot(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	e, ok := ix.Get(key)
	if !ok {
		return mcp.NewToolResultError("key not found: " + key), nil
	}
	return mcp.NewToolResultText(describe(e, time.Now())), nil
}

// ListTool handles kv_list.
type ListTool struct {
	m *mutation.Mutator
}

// NewListTool creates a ListTool.
func NewListTool(m *mutation.Mutator) *ListTool { return &ListTool{m: m} }

// Definition returns the kv_list schema.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("kv_list",
		mcp.WithDescription("List stored entries in key order."),
		mcp.WithString("match", mcp.Description("Optional glob over keys, e.g. 'project-*'")),
	)
}

// Handle processes kv_list.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var g glob.Glob
	if pattern := req.GetString("match", ""); pattern != "" {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid match pattern '%s': %v", pattern, err)), nil
		}
		g = compiled
	}

	ix, err := t.m.Snapshot(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	var b strings.Builder
	for _, rec := range ix.Ordered() {
		if g != nil && !g.Match(rec.Key) {
			continue
		}
		b.WriteString(rec.Summary(rec.Key))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("No entries stored."), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

// SearchTool handles kv_search.
type SearchTool struct {
	m *mutation.Mutator
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(m *mutation.Mutator) *SearchTool { return &SearchTool{m: m} }

// Definition returns the kv_search schema.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("kv_search",
		mcp.WithDescription("Fuzzy search keys and tags. Best matches come first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Fuzzy pattern")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
		mcp.WithString("scope", mcp.Description("all (default), keys or tags")),
	)
}

// Handle processes kv_search.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	scope, err := cache.ParseScope(req.GetString("scope", ""))
	if err != nil {
		return errorResult(err), nil
	}
	limit := int64(10)
	n, ok, err := intArg(req, "limit")
	if err != nil {
		return errorResult(err), nil
	}
	if ok && n > 0 {
		limit = min(n, math.MaxInt32)
	}

	ix, err := t.m.Snapshot(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	matches := ix.Search(query, int(limit), scope)
	if len(matches) == 0 {
		return mcp.NewToolResultText("No matches found."), nil
	}
	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.Entry.Summary(m.Key))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// UpsertTool handles kv_upsert.
type UpsertTool struct {
	m *mutation.Mutator
}

// NewUpsertTool creates an UpsertTool.
func NewUpsertTool(m *mutation.Mutator) *UpsertTool { return &UpsertTool{m: m} }

// Definition returns the kv_upsert schema.
func (t *UpsertTool) Definition() mcp.Tool {
	return mcp.NewTool("kv_upsert",
		mcp.WithDescription("Create or update a key. Omitted tags keep the current tags; "+
			"ttl_minutes sets a new expiry counted from now."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key to write")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Value to store")),
		mcp.WithArray("tags", mcp.Description("Replacement tag set"), mcp.WithStringItems()),
		mcp.WithNumber("ttl_minutes", mcp.Description("Expiry in minutes from now")),
	)
}

// Handle processes kv_upsert.
func (t *UpsertTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	value, ok := req.GetArguments()["value"].(string)
	if !ok {
		return mcp.NewToolResultError("'value' is required"), nil
	}
	in := mutation.UpsertInput{Key: req.GetString("key", ""), Value: value}
	if tags, ok := stringsArg(req, "tags"); ok {
		in.Tags = &tags
	}
	ttl, ok, err := intArg(req, "ttl_minutes")
	if err != nil {
		return errorResult(err), nil
	}
	if ok {
		in.TTLMinutes = &ttl
	}

	msg, err := t.m.Upsert(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(msg), nil
}

// DeleteTool handles kv_delete.
type DeleteTool struct {
	m *mutation.Mutator
}

// NewDeleteTool creates a DeleteTool.
func NewDeleteTool(m *mutation.Mutator) *DeleteTool { return &DeleteTool{m: m} }

// Definition returns the kv_delete schema.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("kv_delete",
		mcp.WithDescription("Delete a key."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key to delete")),
	)
}

// Handle processes kv_delete.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := t.m.Delete(ctx, req.GetString("key", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(msg), nil
}

// ExtendTTLTool handles kv_extend_ttl.
type ExtendTTLTool struct {
	m *mutation.Mutator
}

// NewExtendTTLTool creates an ExtendTTLTool.
func NewExtendTTLTool(m *mutation.Mutator) *ExtendTTLTool { return &ExtendTTLTool{m: m} }

// Definition returns the kv_extend_ttl schema.
func (t *ExtendTTLTool) Definition() mcp.Tool {
	return mcp.NewTool("kv_extend_ttl",
		mcp.WithDescription("Push a key's expiry further out. Keys without expiry get one counted from now."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key to extend")),
		mcp.WithNumber("ttl_minutes", mcp.Required(), mcp.Description("Minutes to add")),
	)
}

// Handle processes kv_extend_ttl.
func (t *ExtendTTLTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes, ok, err := intArg(req, "ttl_minutes")
	if err != nil {
		return errorResult(err), nil
	}
	if !ok {
		return mcp.NewToolResultError("'ttl_minutes' is required"), nil
	}
	msg, err := t.m.ExtendTTL(ctx, req.GetString("key", ""), minutes)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(msg), nil
}
