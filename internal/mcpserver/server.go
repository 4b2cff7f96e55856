// Package mcpserver exposes a namespace to MCP clients over stdio.
//
// Each tool follows the same shape:
//   - a struct holding the mutator, built by a constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() processes the request and returns a result
//
// Reads take a fresh snapshot of the store; writes go through the mutator,
// so the MCP path and the HTTP gateway share validation and messages.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/overhuman/kvstore/internal/mutation"
	"github.com/overhuman/kvstore/internal/observability"
	"github.com/overhuman/kvstore/internal/storage"
)

const instructions = `kvstore keeps short notes as key/value pairs with optional tags and expiry.
Use kv_search or kv_list to find keys before kv_get. kv_upsert creates or replaces a value;
omitting tags keeps the existing ones. kv_extend_ttl pushes an expiry further out.`

// Tool is one MCP tool handler.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tools builds every tool served for one store.
func Tools(m *mutation.Mutator) []Tool {
	return []Tool{
		NewGetTool(m),
		NewListTool(m),
		NewSearchTool(m),
		NewUpsertTool(m),
		NewDeleteTool(m),
		NewExtendTTLTool(m),
	}
}

// New creates the MCP server for store.
func New(store storage.Store, version string, logger *observability.Logger) *server.MCPServer {
	if logger == nil {
		logger = observability.Discard()
	}
	s := server.NewMCPServer(
		"kvstore",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	m := mutation.NewMutator(store, mutation.WithLogger(logger))
	for _, t := range Tools(m) {
		def := t.Definition()
		s.AddTool(def, t.Handle)
		logger.Debug("registered mcp tool", "tool", def.Name)
	}
	return s
}

// Serve runs s on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
