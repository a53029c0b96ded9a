package config

import "strings"

// registry declares every per-user-overridable setting's metadata. This is
// held in code, not persisted: type/category/readonly/secret live
// alongside the code, not in the overlay file.
var registry = map[string]FieldSpec{
	"AGENT_TIMEOUT_SECONDS": {
		Name: "AGENT_TIMEOUT_SECONDS", Type: TypeInt, Category: "AGENT", Default: 300,
	},
	"AGENT_MAX_ITERATIONS": {
		Name: "AGENT_MAX_ITERATIONS", Type: TypeInt, Category: "AGENT", Default: 10,
	},
	"KB_TOPICS_ONLY": {
		Name: "KB_TOPICS_ONLY", Type: TypeBool, Category: "KB", Default: true,
	},
	"KB_MODE": {
		Name: "KB_MODE", Type: TypeEnum, Category: "KB", EnumVals: []string{"note", "ask", "task"}, Default: "note",
	},
	"RATE_LIMIT_PER_MINUTE": {
		Name: "RATE_LIMIT_PER_MINUTE", Type: TypeInt, Category: "RATE", Default: 20,
	},
	// ReadOnly: the gateway binds a single hub per deployment.
	"MCP_HUB_URL": {
		Name: "MCP_HUB_URL", Type: TypeString, Category: "MCP", ReadOnly: true,
	},
	// Secret: never echoed in any response.
	"CRED_GIT_TOKEN": {
		Name: "CRED_GIT_TOKEN", Type: TypeString, Category: "CRED", Secret: true,
	},
}

// FieldSpecs returns the metadata for every registered setting, optionally
// filtered by category (case-insensitive exact match on the setting's
// Category), for the /viewsettings [category] command.
func FieldSpecs(category string) []FieldSpec {
	var out []FieldSpec
	for _, spec := range registry {
		if category == "" || strings.EqualFold(spec.Category, category) {
			out = append(out, spec)
		}
	}
	return out
}

// Lookup returns the FieldSpec for name, or false if name is unregistered.
func Lookup(name string) (FieldSpec, bool) {
	spec, ok := registry[name]
	return spec, ok
}
