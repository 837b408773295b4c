package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/atelier-dev/atelier/internal/fs"
)

// maxListDepth bounds recursive listings
const maxListDepth = 3

// ignoredDirs are never descended into or listed
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"target":       true,
}

// ListDirTool lists directory contents, directories first
type ListDirTool struct {
	fs fs.FileSystem
}

// NewListDirTool creates a list_dir tool
func NewListDirTool(filesystem fs.FileSystem) *ListDirTool {
	return &ListDirTool{fs: filesystem}
}

func (t *ListDirTool) Name() string {
	return ToolNameListDir
}

func (t *ListDirTool) Description() string {
	return "List the contents of a directory. Pass recursive=true to descend up to three levels. Dependency and build directories are skipped."
}

func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list, relative to the workspace root",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Descend into subdirectories (depth limited)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", ".")
	recursive := GetBoolParam(params, "recursive", false)

	maxDepth := 1
	if recursive {
		maxDepth = maxListDepth
	}

	var lines []string
	count, err := t.list(ctx, path, "", 1, maxDepth, &lines)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrKindNotFound, "directory not found: %s", path)
		}
		return Errorf(ErrKindIO, "failed to list %s: %v", path, err)
	}

	return Ok(fmt.Sprintf("%d entries in %s", count, path), map[string]interface{}{
		"listing": strings.Join(lines, "\n"),
		"entries": count,
	})
}

func (t *ListDirTool) list(ctx context.Context, path, indent string, depth, maxDepth int, lines *[]string) (int, error) {
	entries, err := t.fs.ListDir(ctx, path)
	if err != nil {
		// Per-child failures below the top level are skipped, not fatal
		if depth > 1 {
			return 0, nil
		}
		return 0, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return filepath.Base(entries[i].Path) < filepath.Base(entries[j].Path)
	})

	count := 0
	for _, entry := range entries {
		name := filepath.Base(entry.Path)
		if entry.IsDir && ignoredDirs[name] {
			continue
		}
		count++
		if entry.IsDir {
			*lines = append(*lines, indent+name+"/")
			if depth < maxDepth {
				sub, err := t.list(ctx, entry.Path, indent+"  ", depth+1, maxDepth, lines)
				if err != nil {
					return count, err
				}
				count += sub
			}
		} else {
			*lines = append(*lines, fmt.Sprintf("%s%s (%d bytes)", indent, name, entry.Size))
		}
	}
	return count, nil
}
