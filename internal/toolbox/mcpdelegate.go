package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// HubClient is the narrow surface toolbox needs from the MCP hub. It is
// defined here (rather than importing internal/mcphub) so the tool
// implementations stay decoupled from the hub's HTTP/SSE transport
// details; internal/mcphub's client type satisfies this interface
// structurally.
type HubClient interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

// KBVectorSearchTool delegates to the hub's vector_search built-in.
type KBVectorSearchTool struct {
	Hub  HubClient
	KBID string
}

func (KBVectorSearchTool) Name() string        { return "kb_vector_search" }
func (KBVectorSearchTool) Description() string { return "Semantic search over the knowledge base's indexed content" }
func (KBVectorSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"top_k": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"query"},
	}
}

func (t KBVectorSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := argString(args, "query")
	if query == "" {
		return Err("query is required")
	}
	topK := 5
	if v, ok := args["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}
	raw, err := t.Hub.CallTool(ctx, "vector_search", map[string]interface{}{
		"query": query,
		"top_k": topK,
		"kb_id": t.KBID,
		"user_id": UserIDFromCtx(ctx),
	})
	if err != nil {
		return Err(fmt.Sprintf("vector search unavailable: %v", err))
	}
	return Ok(string(raw))
}

// MCPMemoryStoreTool delegates to the hub's store_memory built-in,
// scoping the call to the current user.
type MCPMemoryStoreTool struct{ Hub HubClient }

func (MCPMemoryStoreTool) Name() string        { return "mcp_memory_store" }
func (MCPMemoryStoreTool) Description() string { return "Store a durable memory note, optionally categorized" }
func (MCPMemoryStoreTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content":  map[string]interface{}{"type": "string"},
			"category": map[string]interface{}{"type": "string"},
		},
		"required": []string{"content"},
	}
}

func (t MCPMemoryStoreTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content := argString(args, "content")
	if content == "" {
		return Err("content is required")
	}
	raw, err := t.Hub.CallTool(ctx, "store_memory", map[string]interface{}{
		"content":  content,
		"category": argString(args, "category"),
		"user_id":  UserIDFromCtx(ctx),
	})
	if err != nil {
		return Err(fmt.Sprintf("memory store unavailable: %v", err))
	}
	return Ok(string(raw))
}

// MCPMemoryRetrieveTool delegates to the hub's retrieve_memory built-in.
type MCPMemoryRetrieveTool struct{ Hub HubClient }

func (MCPMemoryRetrieveTool) Name() string        { return "mcp_memory_retrieve" }
func (MCPMemoryRetrieveTool) Description() string { return "Retrieve memories matching a query" }
func (MCPMemoryRetrieveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":    map[string]interface{}{"type": "string"},
			"category": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}

func (t MCPMemoryRetrieveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := argString(args, "query")
	if query == "" {
		return Err("query is required")
	}
	raw, err := t.Hub.CallTool(ctx, "retrieve_memory", map[string]interface{}{
		"query":    query,
		"category": argString(args, "category"),
		"user_id":  UserIDFromCtx(ctx),
	})
	if err != nil {
		return Err(fmt.Sprintf("memory retrieve unavailable: %v", err))
	}
	return Ok(string(raw))
}

// MCPMemoryListCategoriesTool delegates to the hub's list_categories built-in.
type MCPMemoryListCategoriesTool struct{ Hub HubClient }

func (MCPMemoryListCategoriesTool) Name() string        { return "mcp_memory_list_categories" }
func (MCPMemoryListCategoriesTool) Description() string { return "List memory categories for the current user" }
func (MCPMemoryListCategoriesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t MCPMemoryListCategoriesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, err := t.Hub.CallTool(ctx, "list_categories", map[string]interface{}{
		"user_id": UserIDFromCtx(ctx),
	})
	if err != nil {
		return Err(fmt.Sprintf("memory list unavailable: %v", err))
	}
	return Ok(string(raw))
}

// PlanTodoTool is advisory: its only side effect is calling OnPlan, if
// set, letting the model externalize a plan without the tool loop
// treating it as a mutation.
type PlanTodoTool struct {
	OnPlan func(items []string)
}

func (PlanTodoTool) Name() string        { return "plan_todo" }
func (PlanTodoTool) Description() string { return "Record a short plan of upcoming steps (advisory, no side effects)" }
func (PlanTodoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"items": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"items"},
	}
}

func (t PlanTodoTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["items"].([]interface{})
	items := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			items = append(items, s)
		}
	}
	if t.OnPlan != nil {
		t.OnPlan(items)
	}
	return Ok(fmt.Sprintf("noted %d step(s)", len(items)))
}
