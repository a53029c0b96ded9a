// Package mcphub implements the MCP Hub: a server exposing a fixed set
// of built-in tools (memory store/retrieve, category listing, vector
// search and indexing) over the Model Context Protocol, plus a registry
// of externally-configured MCP tool servers discovered from shared and
// per-user scopes (mirrors a typical MCP manager shape: the
// client side — connecting out to external MCP servers) and on the
// AddResource/tool-handler shape in the jaakkos-stringwork collaboration
// server (the server side — hosting tools via mark3labs/mcp-go/server).
package mcphub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/noteforge/noteforge/internal/toolbox"
)

// Hub owns the built-in tool implementations and the mcp-go server that
// exposes them to stdio/SSE-connected MCP clients (the subprocess agent
// driver's CLI, or any third-party MCP peer).
type Hub struct {
	mcpServer *server.MCPServer
	memory    *MemoryStore
	vectors   *VectorStore
	registry  *ServerRegistry
	embed     EmbeddingFunc
}

// EmbeddingFunc turns text into a vector for indexing/search. Supplied by
// the caller (wraps whichever embedding provider is configured) so the
// hub itself stays provider-agnostic.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

func New(memory *MemoryStore, vectors *VectorStore, registry *ServerRegistry, embed EmbeddingFunc) *Hub {
	h := &Hub{
		memory:    memory,
		vectors:   vectors,
		registry:  registry,
		embed:     embed,
		mcpServer: server.NewMCPServer("noteforge-mcp-hub", "1.0.0"),
	}
	h.registerBuiltinTools()
	return h
}

// MCPServer exposes the underlying mcp-go server so the HTTP surface
// (internal/mcphub's httpserver.go) can mount it behind /sse/ and
// /messages/.
func (h *Hub) MCPServer() *server.MCPServer { return h.mcpServer }

func (h *Hub) registerBuiltinTools() {
	h.mcpServer.AddTool(
		mcp.NewTool("store_memory",
			mcp.WithDescription("Store a durable memory note for the current user"),
			mcp.WithString("content", mcp.Required(), mcp.Description("the text to remember")),
			mcp.WithString("category", mcp.Description("optional category label")),
			mcp.WithNumber("user_id", mcp.Required()),
		),
		h.handleStoreMemory,
	)
	h.mcpServer.AddTool(
		mcp.NewTool("retrieve_memory",
			mcp.WithDescription("Retrieve memory notes matching a query for the current user"),
			mcp.WithString("query", mcp.Description("substring to match against stored notes")),
			mcp.WithString("category", mcp.Description("optional category filter")),
			mcp.WithNumber("user_id", mcp.Required()),
		),
		h.handleRetrieveMemory,
	)
	h.mcpServer.AddTool(
		mcp.NewTool("list_categories",
			mcp.WithDescription("List memory categories recorded for the current user"),
			mcp.WithNumber("user_id", mcp.Required()),
		),
		h.handleListCategories,
	)
	h.mcpServer.AddTool(
		mcp.NewTool("vector_search",
			mcp.WithDescription("Semantic search over a knowledge base's indexed content"),
			mcp.WithString("query", mcp.Required()),
			mcp.WithString("kb_id", mcp.Required()),
			mcp.WithNumber("top_k"),
		),
		h.handleVectorSearch,
	)
	h.mcpServer.AddTool(
		mcp.NewTool("add_vector_document",
			mcp.WithDescription("Index one document's text under a knowledge base"),
			mcp.WithString("kb_id", mcp.Required()),
			mcp.WithString("path", mcp.Required()),
			mcp.WithString("text", mcp.Required()),
		),
		h.handleAddVectorDocument,
	)
	h.mcpServer.AddTool(
		mcp.NewTool("delete_vector_document",
			mcp.WithDescription("Remove one document from a knowledge base's vector index"),
			mcp.WithString("kb_id", mcp.Required()),
			mcp.WithString("path", mcp.Required()),
		),
		h.handleDeleteVectorDocument,
	)
	h.mcpServer.AddTool(
		mcp.NewTool("update_vector_document",
			mcp.WithDescription("Re-index one document's text, replacing its prior embedding"),
			mcp.WithString("kb_id", mcp.Required()),
			mcp.WithString("path", mcp.Required()),
			mcp.WithString("text", mcp.Required()),
		),
		h.handleAddVectorDocument, // update is delete+upsert by the same key; Upsert already replaces
	)
	h.mcpServer.AddTool(
		mcp.NewTool("reindex_vector_documents",
			mcp.WithDescription("Acknowledge a reindex request for a knowledge base; the index is not changed, documents are resubmitted via add_vector_document"),
			mcp.WithString("kb_id", mcp.Required()),
		),
		h.handleReindexVectorDocuments,
	)
}

func textResult(payload interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *Hub) handleStoreMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := int64(req.GetFloat("user_id", 0))
	content := req.GetString("content", "")
	if content == "" {
		return mcp.NewToolResultError("content is required"), nil
	}
	note, err := h.memory.Store(userID, content, req.GetString("category", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store memory: %v", err)), nil
	}
	return textResult(note)
}

func (h *Hub) handleRetrieveMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := int64(req.GetFloat("user_id", 0))
	notes, err := h.memory.Retrieve(userID, req.GetString("query", ""), req.GetString("category", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("retrieve memory: %v", err)), nil
	}
	return textResult(notes)
}

func (h *Hub) handleListCategories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := int64(req.GetFloat("user_id", 0))
	categories, err := h.memory.ListCategories(userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list categories: %v", err)), nil
	}
	return textResult(categories)
}

func (h *Hub) handleVectorSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	kbID := req.GetString("kb_id", "")
	if query == "" || kbID == "" {
		return mcp.NewToolResultError("query and kb_id are required"), nil
	}
	topK := int(req.GetFloat("top_k", 5))
	if h.vectors == nil || h.embed == nil {
		return mcp.NewToolResultError("vector search is not configured"), nil
	}
	vec, err := h.embed(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embed query: %v", err)), nil
	}
	hits, err := h.vectors.Search(ctx, kbID, vec, topK)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("vector search: %v", err)), nil
	}
	return textResult(hits)
}

func (h *Hub) handleAddVectorDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kbID := req.GetString("kb_id", "")
	path := req.GetString("path", "")
	text := req.GetString("text", "")
	if kbID == "" || path == "" || text == "" {
		return mcp.NewToolResultError("kb_id, path, and text are required"), nil
	}
	if h.vectors == nil || h.embed == nil {
		return mcp.NewToolResultError("vector indexing is not configured"), nil
	}
	vec, err := h.embed(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embed document: %v", err)), nil
	}
	if err := h.vectors.Upsert(ctx, kbID, path, vec, text); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("upsert document: %v", err)), nil
	}
	return mcp.NewToolResultText("indexed"), nil
}

func (h *Hub) handleDeleteVectorDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kbID := req.GetString("kb_id", "")
	path := req.GetString("path", "")
	if kbID == "" || path == "" {
		return mcp.NewToolResultError("kb_id and path are required"), nil
	}
	if h.vectors == nil {
		return mcp.NewToolResultError("vector indexing is not configured"), nil
	}
	if err := h.vectors.Delete(ctx, kbID, path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete document: %v", err)), nil
	}
	return mcp.NewToolResultText("deleted"), nil
}

func (h *Hub) handleReindexVectorDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Bulk reindexing is driven by the caller supplying fresh documents via
	// repeated add_vector_document calls; this handler only acknowledges
	// the request so callers have an explicit boundary marker in tool_trace.
	return mcp.NewToolResultText("reindex acknowledged; resubmit documents via add_vector_document"), nil
}

// CallTool implements toolbox.HubClient by dispatching directly to the
// hub's own handlers in-process, skipping the HTTP/SSE transport that
// exists for external MCP peers (the subprocess driver's CLI reaches the
// hub that way instead; see httpserver.go).
func (h *Hub) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
	switch name {
	case "store_memory":
		handler = h.handleStoreMemory
	case "retrieve_memory":
		handler = h.handleRetrieveMemory
	case "list_categories":
		handler = h.handleListCategories
	case "vector_search":
		handler = h.handleVectorSearch
	case "add_vector_document", "update_vector_document":
		handler = h.handleAddVectorDocument
	case "delete_vector_document":
		handler = h.handleDeleteVectorDocument
	case "reindex_vector_documents":
		handler = h.handleReindexVectorDocuments
	default:
		return nil, fmt.Errorf("unknown built-in tool %q", name)
	}

	result, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	return toolResultToJSON(result), nil
}

func toolResultToJSON(result *mcp.CallToolResult) json.RawMessage {
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return json.RawMessage(tc.Text)
		}
	}
	data, _ := json.Marshal(result)
	return data
}

var _ toolbox.HubClient = (*Hub)(nil)
