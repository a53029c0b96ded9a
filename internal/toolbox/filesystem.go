package toolbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// FileCreateTool creates a new file, rejecting a pre-existing one.
type FileCreateTool struct{}

func (FileCreateTool) Name() string        { return "file_create" }
func (FileCreateTool) Description() string { return "Create a new file under the knowledge base with the given content" }
func (FileCreateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (FileCreateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path")
	content := argString(args, "content")
	if path == "" {
		return Err("path is required")
	}
	resolved, err := resolvePath(path, WorkingDirFromCtx(ctx))
	if err != nil {
		return Err(err.Error())
	}
	if _, statErr := os.Stat(resolved); statErr == nil {
		return Err(fmt.Sprintf("file already exists: %s", path))
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Err(fmt.Sprintf("failed to create parent directories: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Err(fmt.Sprintf("failed to write file: %v", err))
	}
	return Ok(fmt.Sprintf("created %s", path)).WithEffect(EffectFileCreated, path)
}

// FileEditTool replaces an existing file's content in full.
type FileEditTool struct{}

func (FileEditTool) Name() string        { return "file_edit" }
func (FileEditTool) Description() string { return "Replace the content of an existing file" }
func (FileEditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (FileEditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path")
	content := argString(args, "content")
	if path == "" {
		return Err("path is required")
	}
	resolved, err := resolvePath(path, WorkingDirFromCtx(ctx))
	if err != nil {
		return Err(err.Error())
	}
	if _, statErr := os.Stat(resolved); statErr != nil {
		return Err(fmt.Sprintf("file does not exist: %s", path))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Err(fmt.Sprintf("failed to write file: %v", err))
	}
	return Ok(fmt.Sprintf("edited %s", path)).WithEffect(EffectFileEdited, path)
}

// FileDeleteTool deletes an existing file.
type FileDeleteTool struct{}

func (FileDeleteTool) Name() string        { return "file_delete" }
func (FileDeleteTool) Description() string { return "Delete an existing file" }
func (FileDeleteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (FileDeleteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path")
	if path == "" {
		return Err("path is required")
	}
	workingDir := WorkingDirFromCtx(ctx)
	if err := mustBeDescendant(path, workingDir); err != nil {
		return Err(err.Error())
	}
	resolved, _ := resolvePath(path, workingDir)
	if err := os.Remove(resolved); err != nil {
		return Err(fmt.Sprintf("failed to delete file: %v", err))
	}
	return Ok(fmt.Sprintf("deleted %s", path)).WithEffect(EffectFileDeleted, path)
}

// FileMoveTool moves/renames a file, auto-creating destination parents.
type FileMoveTool struct{}

func (FileMoveTool) Name() string        { return "file_move" }
func (FileMoveTool) Description() string { return "Move or rename a file" }
func (FileMoveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"src": map[string]interface{}{"type": "string"},
			"dst": map[string]interface{}{"type": "string"},
		},
		"required": []string{"src", "dst"},
	}
}

func (FileMoveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	src := argString(args, "src")
	dst := argString(args, "dst")
	if src == "" || dst == "" {
		return Err("src and dst are required")
	}
	workingDir := WorkingDirFromCtx(ctx)
	resolvedSrc, err := resolvePath(src, workingDir)
	if err != nil {
		return Err(err.Error())
	}
	resolvedDst, err := resolvePath(dst, workingDir)
	if err != nil {
		return Err(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0o755); err != nil {
		return Err(fmt.Sprintf("failed to create destination directory: %v", err))
	}
	if err := os.Rename(resolvedSrc, resolvedDst); err != nil {
		return Err(fmt.Sprintf("failed to move file: %v", err))
	}
	return Ok(fmt.Sprintf("moved %s to %s", src, dst)).
		WithEffect(EffectFileDeleted, src).
		WithEffect(EffectFileCreated, dst)
}

// FolderCreateTool creates a directory tree.
type FolderCreateTool struct{}

func (FolderCreateTool) Name() string        { return "folder_create" }
func (FolderCreateTool) Description() string { return "Create a folder, including any missing parents" }
func (FolderCreateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (FolderCreateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path")
	if path == "" {
		return Err("path is required")
	}
	resolved, err := resolvePath(path, WorkingDirFromCtx(ctx))
	if err != nil {
		return Err(err.Error())
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return Err(fmt.Sprintf("failed to create folder: %v", err))
	}
	return Ok(fmt.Sprintf("created folder %s", path)).WithEffect(EffectFolderCreated, path)
}

// FolderDeleteTool removes a directory tree. The kb root itself may never
// be deleted.
type FolderDeleteTool struct{}

func (FolderDeleteTool) Name() string        { return "folder_delete" }
func (FolderDeleteTool) Description() string { return "Recursively delete a folder (not the kb root)" }
func (FolderDeleteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (FolderDeleteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path")
	if path == "" {
		return Err("path is required")
	}
	workingDir := WorkingDirFromCtx(ctx)
	if err := mustBeDescendant(path, workingDir); err != nil {
		return Err(err.Error())
	}
	resolved, _ := resolvePath(path, workingDir)
	if err := os.RemoveAll(resolved); err != nil {
		return Err(fmt.Sprintf("failed to delete folder: %v", err))
	}
	return Ok(fmt.Sprintf("deleted folder %s", path))
}

// FolderMoveTool moves/renames a directory tree.
type FolderMoveTool struct{}

func (FolderMoveTool) Name() string        { return "folder_move" }
func (FolderMoveTool) Description() string { return "Move or rename a folder" }
func (FolderMoveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"src": map[string]interface{}{"type": "string"},
			"dst": map[string]interface{}{"type": "string"},
		},
		"required": []string{"src", "dst"},
	}
}

func (FolderMoveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	src := argString(args, "src")
	dst := argString(args, "dst")
	if src == "" || dst == "" {
		return Err("src and dst are required")
	}
	workingDir := WorkingDirFromCtx(ctx)
	if err := mustBeDescendant(src, workingDir); err != nil {
		return Err(err.Error())
	}
	resolvedSrc, _ := resolvePath(src, workingDir)
	resolvedDst, err := resolvePath(dst, workingDir)
	if err != nil {
		return Err(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0o755); err != nil {
		return Err(fmt.Sprintf("failed to create destination directory: %v", err))
	}
	if err := os.Rename(resolvedSrc, resolvedDst); err != nil {
		return Err(fmt.Sprintf("failed to move folder: %v", err))
	}
	return Ok(fmt.Sprintf("moved folder %s to %s", src, dst))
}

// KBReadTool reads a file's contents from the working tree.
type KBReadTool struct{}

func (KBReadTool) Name() string        { return "kb_read" }
func (KBReadTool) Description() string { return "Read a file's contents from the knowledge base" }
func (KBReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (KBReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path")
	if path == "" {
		return Err("path is required")
	}
	resolved, err := resolvePath(path, WorkingDirFromCtx(ctx))
	if err != nil {
		return Err(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Err(fmt.Sprintf("failed to read file: %v", err))
	}
	return Ok(string(data))
}

// KBListTool lists a directory's entries.
type KBListTool struct{}

func (KBListTool) Name() string        { return "kb_list" }
func (KBListTool) Description() string { return "List files and folders under a directory in the knowledge base" }
func (KBListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (KBListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path")
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(path, WorkingDirFromCtx(ctx))
	if err != nil {
		return Err(err.Error())
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Err(fmt.Sprintf("failed to list directory: %v", err))
	}
	var listing string
	for _, e := range entries {
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		listing += e.Name() + suffix + "\n"
	}
	return Ok(listing)
}
