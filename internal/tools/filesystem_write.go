package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomhq/loomgate/internal/sandbox"
)

// ============================================================
// write_file
// ============================================================

// WriteFileTool writes file contents, optionally through a sandbox container.
type WriteFileTool struct {
	workspace       string
	restrict        bool
	allowedPrefixes []string
	sandboxMgr      sandbox.Manager
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict}
}

func NewSandboxedWriteFileTool(workspace string, restrict bool, mgr sandbox.Manager) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict, sandboxMgr: mgr}
}

func (t *WriteFileTool) AllowPaths(prefixes ...string) {
	t.allowedPrefixes = append(t.allowedPrefixes, prefixes...)
}

func (t *WriteFileTool) SetSandboxKey(key string) {}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating it if it doesn't exist" }
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Path to the file to write"},
			"content": map[string]interface{}{"type": "string", "description": "Content to write to the file"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	sandboxKey := ToolSandboxKeyFromCtx(ctx)
	if t.sandboxMgr != nil && sandboxKey != "" {
		sb, err := t.sandboxMgr.Get(ctx, sandboxKey, t.workspace)
		if err != nil {
			return ErrorResult(fmt.Sprintf("sandbox error: %v", err))
		}
		bridge := sandbox.NewFsBridge(sb.ID(), "/workspace")
		if err := bridge.WriteFile(ctx, path, content); err != nil {
			return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
		}
		return SilentResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}
	resolved, err := resolvePathWithAllowed(path, workspace, t.restrict, t.allowedPrefixes)
	if err != nil {
		return ErrorResult(err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create parent directory: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return SilentResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// ============================================================
// list_files
// ============================================================

// ListFilesTool lists directory entries, optionally through a sandbox container.
type ListFilesTool struct {
	workspace  string
	restrict   bool
	sandboxMgr sandbox.Manager
}

func NewListFilesTool(workspace string, restrict bool) *ListFilesTool {
	return &ListFilesTool{workspace: workspace, restrict: restrict}
}

func NewSandboxedListFilesTool(workspace string, restrict bool, mgr sandbox.Manager) *ListFilesTool {
	return &ListFilesTool{workspace: workspace, restrict: restrict, sandboxMgr: mgr}
}

func (t *ListFilesTool) SetSandboxKey(key string) {}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List files and directories at a path" }
func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Directory to list (default: workspace root)"},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	sandboxKey := ToolSandboxKeyFromCtx(ctx)
	if t.sandboxMgr != nil && sandboxKey != "" {
		sb, err := t.sandboxMgr.Get(ctx, sandboxKey, t.workspace)
		if err != nil {
			return ErrorResult(fmt.Sprintf("sandbox error: %v", err))
		}
		bridge := sandbox.NewFsBridge(sb.ID(), "/workspace")
		names, err := bridge.ListFiles(ctx, path)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to list files: %v", err))
		}
		return SilentResult(strings.Join(names, "\n"))
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}
	resolved, err := resolvePath(path, workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to list directory: %v", err))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return SilentResult("(empty directory)")
	}
	return SilentResult(strings.Join(names, "\n"))
}

// ============================================================
// edit_file
// ============================================================

// EditTool performs an exact string replacement within a file, optionally
// through a sandbox container.
type EditTool struct {
	workspace  string
	restrict   bool
	sandboxMgr sandbox.Manager
}

func NewEditTool(workspace string, restrict bool) *EditTool {
	return &EditTool{workspace: workspace, restrict: restrict}
}

func NewSandboxedEditTool(workspace string, restrict bool, mgr sandbox.Manager) *EditTool {
	return &EditTool{workspace: workspace, restrict: restrict, sandboxMgr: mgr}
}

func (t *EditTool) SetSandboxKey(key string) {}

func (t *EditTool) Name() string        { return "edit_file" }
func (t *EditTool) Description() string { return "Replace an exact string occurrence in a file" }
func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":        map[string]interface{}{"type": "string", "description": "Path to the file to edit"},
			"old_string":  map[string]interface{}{"type": "string", "description": "Exact text to replace"},
			"new_string":  map[string]interface{}{"type": "string", "description": "Replacement text"},
			"replace_all": map[string]interface{}{"type": "boolean", "description": "Replace every occurrence (default: only one, erroring if not unique)"},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	if path == "" || oldStr == "" {
		return ErrorResult("path and old_string are required")
	}

	sandboxKey := ToolSandboxKeyFromCtx(ctx)
	if t.sandboxMgr != nil && sandboxKey != "" {
		sb, err := t.sandboxMgr.Get(ctx, sandboxKey, t.workspace)
		if err != nil {
			return ErrorResult(fmt.Sprintf("sandbox error: %v", err))
		}
		bridge := sandbox.NewFsBridge(sb.ID(), "/workspace")
		content, err := bridge.ReadFile(ctx, path)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
		}
		updated, errMsg := applyEdit(content, oldStr, newStr, replaceAll)
		if errMsg != "" {
			return ErrorResult(errMsg)
		}
		if err := bridge.WriteFile(ctx, path, updated); err != nil {
			return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
		}
		return SilentResult(fmt.Sprintf("edited %s", path))
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}
	resolved, err := resolvePath(path, workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	updated, errMsg := applyEdit(string(data), oldStr, newStr, replaceAll)
	if errMsg != "" {
		return ErrorResult(errMsg)
	}

	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return SilentResult(fmt.Sprintf("edited %s", path))
}

func applyEdit(content, oldStr, newStr string, replaceAll bool) (string, string) {
	count := strings.Count(content, oldStr)
	if count == 0 {
		return "", "old_string not found in file"
	}
	if !replaceAll && count > 1 {
		return "", fmt.Sprintf("old_string matches %d times; pass replace_all or include more context to make it unique", count)
	}
	if replaceAll {
		return strings.ReplaceAll(content, oldStr, newStr), ""
	}
	return strings.Replace(content, oldStr, newStr, 1), ""
}
