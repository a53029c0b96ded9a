// Package agent implements the Agent Driver contract: a single
// AgentInvocation/AgentResult shape consumed by two interchangeable
// drivers (an external-CLI subprocess and an in-process OpenAI-compatible
// function-calling loop, think/act/observe iteration with an iteration
// cap and per-round tool dispatch).
package agent

import (
	"context"
	"time"

	"github.com/noteforge/noteforge/internal/toolbox"
	"github.com/noteforge/noteforge/pkg/events"
)

// AgentInvocation is the input handed to a Driver by a kbservice
// specialization.
type AgentInvocation struct {
	Mode             toolbox.Mode
	WorkingDirectory string
	GroupedText      string
	Media            []events.MediaRef
	ToolWhitelist    []string
	KBStructureHint  string
	// Context is a bounded ring buffer of prior turns for ask/task modes;
	// empty for note mode, which has no conversational memory.
	Context  []ContextTurn
	Deadline time.Time
}

// ContextTurn is one prior exchange retained for ask/task continuity.
type ContextTurn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Relation records a wiki-style link the agent asserted between two KB
// documents, reported for downstream graph-building.
type Relation struct {
	Source string
	Target string
	Kind   string
}

// ToolTraceEntry records one tool dispatch for diagnostics.
type ToolTraceEntry struct {
	ToolName  string
	Args      map[string]interface{}
	ForModel  string
	IsError   bool
	StartedAt time.Time
	Duration  time.Duration
}

// ResultMetadata carries token/iteration accounting.
type ResultMetadata struct {
	Iterations       int
	PromptTokens     int
	CompletionTokens int
}

// AgentResult is the output of a Driver run.
type AgentResult struct {
	RenderedMarkdown string
	FilesCreated     []string
	FilesEdited      []string
	FilesDeleted     []string
	FoldersCreated   []string
	Relations        []Relation
	ToolTrace        []ToolTraceEntry
	Metadata         ResultMetadata
}

// Driver runs one agent invocation to completion.
type Driver interface {
	Run(ctx context.Context, inv AgentInvocation) (*AgentResult, error)
}

// applyEffect folds one toolbox.MutationEffect into an in-progress
// AgentResult, shared by both drivers' tool-dispatch loops.
func applyEffect(res *AgentResult, eff toolbox.MutationEffect) {
	switch eff.Kind {
	case toolbox.EffectFileCreated:
		res.FilesCreated = append(res.FilesCreated, eff.Path)
	case toolbox.EffectFileEdited:
		res.FilesEdited = append(res.FilesEdited, eff.Path)
	case toolbox.EffectFileDeleted:
		res.FilesDeleted = append(res.FilesDeleted, eff.Path)
	case toolbox.EffectFolderCreated:
		res.FoldersCreated = append(res.FoldersCreated, eff.Path)
	}
}
