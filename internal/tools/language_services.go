package tools

import (
	"context"
	"fmt"
)

// Diagnostic is one compiler or linter finding for a file
type Diagnostic struct {
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// OutlineEntry is one symbol in a file's structural outline
type OutlineEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "func", "type", "method", ...
	Line int    `json:"line"`
}

// LanguageServices provides language-aware lookups. The host (typically the
// IDE side) supplies an implementation; without one the stub answers empty.
type LanguageServices interface {
	Diagnostics(ctx context.Context, path string) ([]Diagnostic, error)
	Outline(ctx context.Context, path string) ([]OutlineEntry, error)
}

// NoopLanguageServices returns empty results for every query
type NoopLanguageServices struct{}

func (NoopLanguageServices) Diagnostics(ctx context.Context, path string) ([]Diagnostic, error) {
	return nil, nil
}

func (NoopLanguageServices) Outline(ctx context.Context, path string) ([]OutlineEntry, error) {
	return nil, nil
}

// DiagnosticsTool exposes get_diagnostics over a LanguageServices backend
type DiagnosticsTool struct {
	services LanguageServices
}

// NewDiagnosticsTool creates a get_diagnostics tool
func NewDiagnosticsTool(services LanguageServices) *DiagnosticsTool {
	if services == nil {
		services = NoopLanguageServices{}
	}
	return &DiagnosticsTool{services: services}
}

func (t *DiagnosticsTool) Name() string {
	return ToolNameDiagnostics
}

func (t *DiagnosticsTool) Description() string {
	return "Get compiler and linter diagnostics for a file."
}

func (t *DiagnosticsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File to query, relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *DiagnosticsTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", "")

	diags, err := t.services.Diagnostics(ctx, path)
	if err != nil {
		return Errorf(ErrKindIO, "diagnostics unavailable for %s: %v", path, err)
	}

	out := make([]map[string]interface{}, 0, len(diags))
	for _, d := range diags {
		out = append(out, map[string]interface{}{
			"line":     d.Line,
			"severity": d.Severity,
			"message":  d.Message,
		})
	}
	return Ok(fmt.Sprintf("%d diagnostic(s) for %s", len(out), path), map[string]interface{}{
		"diagnostics": out,
	})
}

// OutlineTool exposes view_outline over a LanguageServices backend
type OutlineTool struct {
	services LanguageServices
}

// NewOutlineTool creates a view_outline tool
func NewOutlineTool(services LanguageServices) *OutlineTool {
	if services == nil {
		services = NoopLanguageServices{}
	}
	return &OutlineTool{services: services}
}

func (t *OutlineTool) Name() string {
	return ToolNameOutline
}

func (t *OutlineTool) Description() string {
	return "View the structural outline (functions, types, methods) of a file."
}

func (t *OutlineTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File to outline, relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *OutlineTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", "")

	entries, err := t.services.Outline(ctx, path)
	if err != nil {
		return Errorf(ErrKindIO, "outline unavailable for %s: %v", path, err)
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"name": e.Name,
			"kind": e.Kind,
			"line": e.Line,
		})
	}
	return Ok(fmt.Sprintf("%d symbol(s) in %s", len(out), path), map[string]interface{}{
		"outline": out,
	})
}
