package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/session"
)

// maxReadLines caps how much of a file a single read returns.
const maxReadLines = 2000

// ReadFileTool reads file contents, optionally restricted to a line range
type ReadFileTool struct {
	fs      fs.FileSystem
	session *session.Session
}

// NewReadFileTool creates a read_file tool
func NewReadFileTool(filesystem fs.FileSystem, sess *session.Session) *ReadFileTool {
	return &ReadFileTool{fs: filesystem, session: sess}
}

func (t *ReadFileTool) Name() string {
	return ToolNameReadFile
}

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Optionally pass from_line and to_line (1-indexed, inclusive) to read a range."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to read, relative to the workspace root",
			},
			"from_line": map[string]interface{}{
				"type":        "integer",
				"description": "First line to read (1-indexed)",
			},
			"to_line": map[string]interface{}{
				"type":        "integer",
				"description": "Last line to read (inclusive)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", "")
	fromLine := GetIntParam(params, "from_line", 0)
	toLine := GetIntParam(params, "to_line", 0)

	data, err := t.fs.ReadFile(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrKindNotFound, "file not found: %s", path)
		}
		return Errorf(ErrKindIO, "failed to read %s: %v", path, err)
	}

	content := string(data)
	if t.session != nil {
		t.session.TrackFileRead(path, content)
	}

	if fromLine > 0 {
		if toLine <= 0 {
			toLine = fromLine + maxReadLines - 1
		}
		lines, err := t.fs.ReadFileLines(ctx, path, fromLine, toLine)
		if err != nil {
			return Errorf(ErrKindValidation, "invalid range for %s: %v", path, err)
		}
		return Ok(fmt.Sprintf("read %s lines %d-%d", path, fromLine, fromLine+len(lines)-1), map[string]interface{}{
			"content":   strings.Join(lines, "\n"),
			"from_line": fromLine,
		})
	}

	lines := strings.Split(content, "\n")
	truncated := false
	if len(lines) > maxReadLines {
		lines = lines[:maxReadLines]
		truncated = true
	}

	payload := map[string]interface{}{
		"content": strings.Join(lines, "\n"),
	}
	message := fmt.Sprintf("read %s (%d lines)", path, len(lines))
	if truncated {
		payload["truncated"] = true
		message = fmt.Sprintf("read %s (first %d lines; pass from_line to read further)", path, maxReadLines)
	}
	return Ok(message, payload)
}
