package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// FILESYSTEM TOOLS
// =============================================================================

// ReadFileTool reads a file inside the sandbox root.
func ReadFileTool() *Tool {
	return &Tool{
		Name:        "read-file",
		Description: "Read the contents of a file inside the workspace",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Path relative to the workspace root"},
			},
		},
		Run: runReadFile,
	}
}

func runReadFile(ctx context.Context, env *Env, args map[string]any) (string, error) {
	raw, _ := args["path"].(string)

	path, err := env.Policy.Resolve(raw)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", raw, err)
	}
	return string(data), nil
}

// WriteFileTool writes a file inside the sandbox root, creating parent
// directories as needed.
func WriteFileTool() *Tool {
	return &Tool{
		Name:        "write-file",
		Description: "Write content to a file inside the workspace, creating it if missing",
		Schema: Schema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "Path relative to the workspace root"},
				"content": {Type: "string", Description: "The content to write"},
			},
		},
		Run: runWriteFile,
	}
}

func runWriteFile(ctx context.Context, env *Env, args map[string]any) (string, error) {
	raw, _ := args["path"].(string)
	content, _ := args["content"].(string)

	path, err := env.Policy.Resolve(raw)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create directories for %s: %w", raw, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", raw, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), raw), nil
}

// ListDirectoryTool lists a directory inside the sandbox root.
func ListDirectoryTool() *Tool {
	return &Tool{
		Name:        "list-directory",
		Description: "List the entries of a directory inside the workspace",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Directory path relative to the workspace root"},
			},
		},
		Run: runListDirectory,
	}
}

func runListDirectory(ctx context.Context, env *Env, args map[string]any) (string, error) {
	raw, _ := args["path"].(string)
	if raw == "" {
		raw = "."
	}

	path, err := env.Policy.Resolve(raw)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", raw, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
