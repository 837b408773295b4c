package tools

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atelier-dev/atelier/internal/fs"
)

const (
	maxSearchMatches  = 20
	maxSearchFileSize = 1 << 20 // 1 MiB; anything larger is skipped
)

// SearchTextTool searches workspace files for a literal substring
type SearchTextTool struct {
	fs fs.FileSystem
}

// NewSearchTextTool creates a search_text tool
func NewSearchTextTool(filesystem fs.FileSystem) *SearchTextTool {
	return &SearchTextTool{fs: filesystem}
}

func (t *SearchTextTool) Name() string {
	return ToolNameSearchText
}

func (t *SearchTextTool) Description() string {
	return "Search files under a directory for a text fragment. Returns up to 20 matches with file, line number and snippet. Optionally filter files with a glob pattern like *.go."
}

func (t *SearchTextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Text to search for (literal, case-sensitive)",
			},
			"directory": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search under, relative to the workspace root",
			},
			"file_pattern": map[string]interface{}{
				"type":        "string",
				"description": "Optional glob matched against file names, e.g. *.go",
			},
		},
		"required": []string{"query", "directory"},
	}
}

type searchMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

func (t *SearchTextTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	query := GetStringParam(params, "query", "")
	directory := GetStringParam(params, "directory", ".")
	pattern := GetStringParam(params, "file_pattern", "")

	var matches []searchMatch
	if err := t.walk(ctx, directory, pattern, query, &matches); err != nil {
		return Errorf(ErrKindIO, "search failed in %s: %v", directory, err)
	}

	capped := false
	if len(matches) > maxSearchMatches {
		matches = matches[:maxSearchMatches]
		capped = true
	}

	out := make([]map[string]interface{}, 0, len(matches))
	for _, m := range matches {
		out = append(out, map[string]interface{}{
			"file":    m.File,
			"line":    m.Line,
			"snippet": m.Snippet,
		})
	}

	message := fmt.Sprintf("%d match(es) for %q", len(matches), query)
	if capped {
		message += fmt.Sprintf(" (showing first %d)", maxSearchMatches)
	}
	return Ok(message, map[string]interface{}{
		"matches": out,
	})
}

func (t *SearchTextTool) walk(ctx context.Context, dir, pattern, query string, matches *[]searchMatch) error {
	if len(*matches) > maxSearchMatches {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := t.fs.ListDir(ctx, dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if len(*matches) > maxSearchMatches {
			return nil
		}
		name := filepath.Base(entry.Path)
		if entry.IsDir {
			if ignoredDirs[name] {
				continue
			}
			// Unreadable subdirectories are skipped
			_ = t.walk(ctx, entry.Path, pattern, query, matches)
			continue
		}
		if entry.Size > maxSearchFileSize {
			continue
		}
		if pattern != "" {
			if ok, err := filepath.Match(pattern, name); err != nil || !ok {
				continue
			}
		}
		t.searchFile(ctx, entry.Path, query, matches)
	}
	return nil
}

func (t *SearchTextTool) searchFile(ctx context.Context, path, query string, matches *[]searchMatch) {
	data, err := t.fs.ReadFile(ctx, path)
	if err != nil {
		return
	}
	if bytes.IndexByte(data, 0) >= 0 {
		// Binary file
		return
	}

	for i, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, query) {
			continue
		}
		snippet := strings.TrimSpace(line)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		*matches = append(*matches, searchMatch{File: path, Line: i + 1, Snippet: snippet})
		if len(*matches) > maxSearchMatches {
			return
		}
	}
}
