package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/session"
)

// WriteFileTool creates or fully overwrites a file
type WriteFileTool struct {
	fs      fs.FileSystem
	session *session.Session
}

// NewWriteFileTool creates a write_file tool
func NewWriteFileTool(filesystem fs.FileSystem, sess *session.Session) *WriteFileTool {
	return &WriteFileTool{fs: filesystem, session: sess}
}

func (t *WriteFileTool) Name() string {
	return ToolNameWriteFile
}

func (t *WriteFileTool) Description() string {
	return "Write content to a file, replacing it entirely. Parent directories are created as needed. Use edit_file for targeted changes to existing files."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to write, relative to the workspace root",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full new content of the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", "")
	content, ok := params["content"].(string)
	if !ok {
		return Errorf(ErrKindValidation, "content must be a string")
	}

	existed, err := t.fs.Exists(ctx, path)
	if err != nil {
		return Errorf(ErrKindIO, "failed to check %s: %v", path, err)
	}

	if err := t.fs.WriteFile(ctx, path, []byte(content)); err != nil {
		return Errorf(ErrKindIO, "failed to write %s: %v", path, err)
	}

	lineCount := strings.Count(content, "\n") + 1
	if content == "" {
		lineCount = 0
	}

	if t.session != nil {
		t.session.TrackFileModified(path)
		t.session.TrackFileRead(path, content)
		t.session.AddLinesWritten(lineCount)
	}

	verb := "updated"
	if !existed {
		verb = "created"
	}
	return Ok(fmt.Sprintf("%s %s (%d lines)", verb, path, lineCount), map[string]interface{}{
		"created": !existed,
		"lines":   lineCount,
	})
}
