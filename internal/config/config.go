// Package config implements the Settings Store: typed global configuration
// loaded from env > overrides-file > yaml(json5) > defaults, plus a
// per-user overlay with validated, typed mutation.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// FieldType enumerates the declared type of a setting, used for
// introspection and for parsing string overrides from env or commands.
type FieldType string

const (
	TypeBool     FieldType = "bool"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeString   FieldType = "string"
	TypePath     FieldType = "path"
	TypeEnum     FieldType = "enum"
	TypeIntList  FieldType = "list<int>"
)

// FieldSpec describes one setting's metadata: its type, category (derived
// from its name prefix, e.g. "KB_", "AGENT_"), whether it can be
// overridden per user, whether it must never be surfaced to users/logs,
// and — for enums — the allowed values.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Category string
	ReadOnly bool
	Secret   bool
	EnumVals []string
	Default  interface{}
}

// Config is the root configuration for the NoteForge gateway. Field names
// mirror the env var suffix (e.g. MessageGroupTimeout <-> MESSAGE_GROUP_TIMEOUT).
type Config struct {
	MessageGroupTimeout time.Duration `json:"message_group_timeout"`
	KBLockTimeout       time.Duration `json:"kb_lock_timeout"`
	KBLockStaleAfter    time.Duration `json:"kb_lock_stale_after"`
	AgentTimeout        time.Duration `json:"agent_timeout"`
	AgentMaxIterations  int           `json:"agent_max_iterations"`
	HTTPTimeout         time.Duration `json:"http_timeout"`
	SSESessionTimeout   time.Duration `json:"sse_session_timeout"`
	KBTopicsOnly        bool          `json:"kb_topics_only"`
	RateLimitPerMinute  int           `json:"rate_limit_per_minute"`
	ProcessedLogTTLDays int           `json:"processed_log_ttl_days"`
	McpHubMode          string        `json:"mcp_hub_mode"` // "bundled" or "external"
	McpHubURL           string        `json:"mcp_hub_url"`
	McpHubPort          int           `json:"mcp_hub_port"`
	DataDir             string        `json:"data_dir"`
	KnowledgeBasesDir   string        `json:"knowledge_bases_dir"`
	LogDir              string        `json:"log_dir"`

	// AgentDriverMode selects the Agent Driver: "inprocess" (direct
	// OpenAI-compatible function-calling loop) or "subprocess" (external
	// CLI per invocation).
	AgentDriverMode        string   `json:"agent_driver_mode"`
	AgentModel             string   `json:"agent_model"`
	AgentSubprocessCommand string   `json:"agent_subprocess_command"`
	AgentSubprocessArgs    []string `json:"agent_subprocess_args"`

	QdrantHost string `json:"qdrant_host"`
	QdrantPort int    `json:"qdrant_port"`

	// Secrets — never read from the JSON5 file, only from env.
	CredentialMasterKey string `json:"-"`
	GitHubToken         string `json:"-"`
	BraveSearchAPIKey   string `json:"-"`
	OpenAIAPIKey        string `json:"-"`
	TelegramBotToken    string `json:"-"`

	mu sync.RWMutex
}

// Default returns a Config populated with sensible defaults, matching the
// timeouts used throughout the gateway.
func Default() *Config {
	return &Config{
		MessageGroupTimeout: 30 * time.Second,
		KBLockTimeout:       5 * time.Minute,
		KBLockStaleAfter:    10 * time.Minute,
		AgentTimeout:        300 * time.Second,
		AgentMaxIterations:  10,
		HTTPTimeout:         30 * time.Second,
		SSESessionTimeout:   10 * time.Second,
		KBTopicsOnly:        true,
		RateLimitPerMinute:  20,
		ProcessedLogTTLDays: 90,
		McpHubMode:          "bundled",
		McpHubPort:          8765,
		DataDir:             "data",
		KnowledgeBasesDir:   "knowledge_bases",
		LogDir:              "logs",
		AgentDriverMode:     "inprocess",
		AgentModel:          "gpt-4o-mini",
		QdrantHost:          "localhost",
		QdrantPort:          6334,
	}
}

// Load reads config from a JSON5 file, then overlays env vars (env wins).
// A missing file is not an error: defaults plus env overrides are
// returned, so a first-run gateway starts from pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	envDuration("NOTEFORGE_MESSAGE_GROUP_TIMEOUT", &c.MessageGroupTimeout)
	envDuration("NOTEFORGE_KB_LOCK_TIMEOUT", &c.KBLockTimeout)
	envDuration("NOTEFORGE_AGENT_TIMEOUT", &c.AgentTimeout)
	envInt("NOTEFORGE_AGENT_MAX_ITERATIONS", &c.AgentMaxIterations)
	envBool("NOTEFORGE_KB_TOPICS_ONLY", &c.KBTopicsOnly)
	envInt("NOTEFORGE_RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute)
	envString("NOTEFORGE_MCP_HUB_MODE", &c.McpHubMode)
	envString("NOTEFORGE_MCP_HUB_URL", &c.McpHubURL)
	envInt("NOTEFORGE_MCP_HUB_PORT", &c.McpHubPort)
	envString("NOTEFORGE_DATA_DIR", &c.DataDir)
	envString("NOTEFORGE_KNOWLEDGE_BASES_DIR", &c.KnowledgeBasesDir)
	envString("NOTEFORGE_AGENT_DRIVER_MODE", &c.AgentDriverMode)
	envString("NOTEFORGE_AGENT_MODEL", &c.AgentModel)
	envString("NOTEFORGE_QDRANT_HOST", &c.QdrantHost)
	envInt("NOTEFORGE_QDRANT_PORT", &c.QdrantPort)

	// Secrets: env-only, never persisted.
	envString("NOTEFORGE_CRED_MASTER_KEY", &c.CredentialMasterKey)
	envString("NOTEFORGE_GITHUB_TOKEN", &c.GitHubToken)
	envString("NOTEFORGE_BRAVE_API_KEY", &c.BraveSearchAPIKey)
	envString("NOTEFORGE_OPENAI_API_KEY", &c.OpenAIAPIKey)
	envString("NOTEFORGE_TELEGRAM_BOT_TOKEN", &c.TelegramBotToken)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := parseInt(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else if n, err := parseInt(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// ParseBool implements the explicit parser the Settings Store mutation
// API requires: "true"/"1"/"yes"/"on" (case-insensitive) parse to true;
// "false"/"0"/"no"/"off" parse to false; anything else is an error.
func ParseBool(s string) (bool, error) {
	switch lower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("config: %q is not a valid bool", s)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
