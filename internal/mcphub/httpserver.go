package mcphub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"
)

// HTTPServer mounts the hub's MCP server behind SSE, plus the registry
// CRUD and client-config surfaces: /health,
// /sse/, /messages/, /registry/servers, /config/client/{standard,
// lmstudio, openai}.
type HTTPServer struct {
	hub      *Hub
	sse      *server.SSEServer
	registry *ServerRegistry
	baseURL  string
}

func NewHTTPServer(hub *Hub, registry *ServerRegistry, baseURL string) *HTTPServer {
	return &HTTPServer{
		hub:      hub,
		sse:      server.NewSSEServer(hub.MCPServer(), server.WithBaseURL(baseURL)),
		registry: registry,
		baseURL:  baseURL,
	}
}

func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/sse/", h.sse.SSEHandler())
	mux.Handle("/messages/", h.sse.MessageHandler())
	mux.HandleFunc("/registry/servers", h.handleRegistryServers)
	mux.HandleFunc("/config/client/standard", h.handleClientConfig("standard"))
	mux.HandleFunc("/config/client/lmstudio", h.handleClientConfig("lmstudio"))
	mux.HandleFunc("/config/client/openai", h.handleClientConfig("openai"))
	return mux
}

// builtinToolNames lists the tool names registerBuiltinTools exposes on
// the hub's mcp-go server, kept in sync by hand since mcp-go's server type
// doesn't expose a public tool listing.
var builtinToolNames = []string{
	"store_memory",
	"retrieve_memory",
	"list_categories",
	"vector_search",
	"add_vector_document",
	"update_vector_document",
	"delete_vector_document",
	"reindex_vector_documents",
}

type registrySummary struct {
	SharedServers int `json:"shared_servers"`
	UserServers   int `json:"user_servers"`
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	shared, err := readSpecsFromDir(h.registry.sharedDir(), "shared")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	userServers := 0
	entries, err := os.ReadDir(filepath.Join(h.registry.baseDir, "mcp_servers"))
	if err == nil {
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), "user_") {
				specs, err := readSpecsFromDir(filepath.Join(h.registry.baseDir, "mcp_servers", e.Name()), "user")
				if err == nil {
					userServers += len(specs)
				}
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "ok",
		"builtin_tools": builtinToolNames,
		"registry": registrySummary{
			SharedServers: len(shared),
			UserServers:   userServers,
		},
	})
}

func (h *HTTPServer) handleRegistryServers(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)

	switch r.Method {
	case http.MethodGet:
		specs, err := h.registry.ListAccessible(userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(specs)

	case http.MethodPost:
		var spec ServerSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, "invalid server spec", http.StatusBadRequest)
			return
		}
		if err := h.registry.Add(userID, spec); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if err := h.registry.Remove(userID, name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleClientConfig emits the MCP client config snippet for a given
// client flavor, pointing at this hub's SSE endpoint, so users can paste
// it into whichever tool they run locally.
func (h *HTTPServer) handleClientConfig(flavor string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var cfg map[string]interface{}
		switch flavor {
		case "lmstudio":
			cfg = map[string]interface{}{
				"mcpServers": map[string]interface{}{
					"noteforge": map[string]interface{}{"url": h.baseURL + "/sse/"},
				},
			}
		case "openai":
			cfg = map[string]interface{}{
				"type": "mcp",
				"server_url": h.baseURL + "/sse/",
				"server_label": "noteforge",
			}
		default:
			cfg = map[string]interface{}{
				"mcpServers": map[string]interface{}{
					"noteforge": map[string]interface{}{
						"transport": "sse",
						"url":       h.baseURL + "/sse/",
					},
				},
			}
		}
		if err := json.NewEncoder(w).Encode(cfg); err != nil {
			http.Error(w, fmt.Sprintf("encode config: %v", err), http.StatusInternalServerError)
		}
	}
}
