package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/session"
)

// EditFileTool replaces one occurrence of a text fragment in an existing file.
// Only the first match is replaced; if the fragment is absent the file is left
// untouched.
type EditFileTool struct {
	fs      fs.FileSystem
	session *session.Session
}

// NewEditFileTool creates an edit_file tool
func NewEditFileTool(filesystem fs.FileSystem, sess *session.Session) *EditFileTool {
	return &EditFileTool{fs: filesystem, session: sess}
}

func (t *EditFileTool) Name() string {
	return ToolNameEditFile
}

func (t *EditFileTool) Description() string {
	return "Replace the first occurrence of old_text with new_text in an existing file. old_text must match the file content exactly, including whitespace."
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to edit, relative to the workspace root",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", "")
	oldText := GetStringParam(params, "old_text", "")
	newText, hasNew := params["new_text"].(string)
	if !hasNew {
		newText = ""
	}

	if t.session != nil && !t.session.WasFileRead(path) {
		return Errorf(ErrKindValidation, "file %s has not been read this session; read the file first so the edit matches its current content", path)
	}

	data, err := t.fs.ReadFile(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrKindNotFound, "file not found: %s", path)
		}
		return Errorf(ErrKindIO, "failed to read %s: %v", path, err)
	}

	content := string(data)
	if !strings.Contains(content, oldText) {
		return Errorf(ErrKindNotFound, "old_text not found in %s; read the file first and copy the text exactly", path)
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := t.fs.WriteFile(ctx, path, []byte(updated)); err != nil {
		return Errorf(ErrKindIO, "failed to write %s: %v", path, err)
	}

	if t.session != nil {
		t.session.TrackFileModified(path)
		t.session.TrackFileRead(path, updated)
		t.session.AddLinesWritten(strings.Count(newText, "\n") + 1)
	}

	remaining := strings.Count(updated, oldText)
	message := fmt.Sprintf("edited %s", path)
	payload := map[string]interface{}{}
	if remaining > 0 && oldText != "" {
		message = fmt.Sprintf("edited %s (first match; %d further occurrence(s) remain)", path, remaining)
		payload["remaining_matches"] = remaining
	}
	return Ok(message, payload)
}
