// Package toolbox implements the agent tool registry: the concrete
// filesystem, Git, search, and MCP-delegated tools the agent driver
// exposes to the model, plus the mode-dependent whitelists and path
// safety validation described by the agent driver's contract. Grounded
// on a Tool interface, Result type,
// resolvePath's symlink/hardlink defenses, and per-group whitelisting).
package toolbox

import "context"

// Tool is the interface every registered capability implements, matching
// the shape the agent driver's function-calling loop expects to marshal
// model tool calls against.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Mode mirrors router.Mode without importing it, so toolbox does not
// depend on router.
type Mode string

const (
	ModeNote Mode = "note"
	ModeAsk  Mode = "ask"
	ModeTask Mode = "task"
)

// whitelists enumerates which tool names each mode may invoke, per the
// agent driver's mode-specific whitelist table.
var whitelists = map[Mode]map[string]bool{
	ModeNote: set(
		"file_create", "file_edit", "file_move",
		"folder_create", "folder_move",
		"kb_read", "kb_vector_search",
		"mcp_memory_store", "mcp_memory_retrieve", "mcp_memory_list_categories",
		"web_search",
	),
	ModeAsk: set(
		"kb_read", "kb_list", "kb_vector_search",
		"mcp_memory_retrieve", "web_search",
	),
	ModeTask: set(
		"file_create", "file_edit", "file_delete", "file_move",
		"folder_create", "folder_delete", "folder_move",
		"git_command", "github_api", "web_search",
		"kb_read", "kb_list", "kb_vector_search",
		"mcp_memory_store", "mcp_memory_retrieve", "mcp_memory_list_categories",
		"plan_todo",
	),
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Registry holds every known tool, keyed by name.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// ForMode returns the subset of registered tools permitted for mode, in
// registration order is not guaranteed (map iteration), which is fine
// since callers present these as a set to the model.
func (r *Registry) ForMode(mode Mode) []Tool {
	allowed := whitelists[mode]
	out := make([]Tool, 0, len(allowed))
	for name, t := range r.tools {
		if allowed[name] {
			out = append(out, t)
		}
	}
	return out
}

// Allowed reports whether name may be invoked under mode.
func (r *Registry) Allowed(mode Mode, name string) bool {
	return whitelists[mode][name]
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
