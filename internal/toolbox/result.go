package toolbox

// Result is the unified return type every tool call produces, fed back
// into the model's conversation as a tool response.
type Result struct {
	ForModel string `json:"for_model"`
	IsError  bool   `json:"is_error"`
	// Mutated lists the kb-root-relative paths this call touched, used by
	// the agent driver to accumulate AgentResult.files_created etc.
	Mutated []MutationEffect `json:"-"`
}

// MutationEffect records one filesystem side effect for AgentResult
// accounting.
type MutationEffect struct {
	Kind EffectKind
	Path string
}

type EffectKind string

const (
	EffectFileCreated   EffectKind = "file_created"
	EffectFileEdited    EffectKind = "file_edited"
	EffectFileDeleted   EffectKind = "file_deleted"
	EffectFolderCreated EffectKind = "folder_created"
)

func Ok(forModel string) *Result { return &Result{ForModel: forModel} }

func Err(message string) *Result { return &Result{ForModel: message, IsError: true} }

func (r *Result) WithEffect(kind EffectKind, path string) *Result {
	r.Mutated = append(r.Mutated, MutationEffect{Kind: kind, Path: path})
	return r
}
