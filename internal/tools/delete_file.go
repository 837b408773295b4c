package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/session"
)

// DeleteFileTool removes a file or directory tree from the workspace
type DeleteFileTool struct {
	fs      fs.FileSystem
	session *session.Session
}

// NewDeleteFileTool creates a delete_file tool
func NewDeleteFileTool(filesystem fs.FileSystem, sess *session.Session) *DeleteFileTool {
	return &DeleteFileTool{fs: filesystem, session: sess}
}

func (t *DeleteFileTool) Name() string {
	return ToolNameDeleteFile
}

func (t *DeleteFileTool) Description() string {
	return "Delete a file or directory (recursively) from the workspace."
}

func (t *DeleteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to delete, relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *DeleteFileTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", "")

	info, err := t.fs.Stat(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrKindNotFound, "not found: %s", path)
		}
		return Errorf(ErrKindIO, "failed to stat %s: %v", path, err)
	}

	if err := t.fs.Delete(ctx, path); err != nil {
		return Errorf(ErrKindIO, "failed to delete %s: %v", path, err)
	}

	if t.session != nil {
		t.session.TrackFileModified(path)
	}

	kind := "file"
	if info.IsDir {
		kind = "directory"
	}
	return Ok(fmt.Sprintf("deleted %s %s", kind, path), map[string]interface{}{
		"was_dir": info.IsDir,
	})
}
