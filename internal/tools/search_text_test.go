package tools

import (
	"context"
	"fmt"
	"testing"
)

func TestSearchTextFindsMatches(t *testing.T) {
	mockFS, _ := newTestEnv(t)
	ctx := context.Background()
	_ = mockFS.WriteFile(ctx, "a.go", []byte("package main\n\nfunc Handler() {}\n"))
	_ = mockFS.WriteFile(ctx, "sub/b.go", []byte("// Handler wires routes\nfunc helper() {}\n"))
	_ = mockFS.WriteFile(ctx, "c.txt", []byte("no match here\n"))

	tool := NewSearchTextTool(mockFS)
	result := tool.Execute(ctx, map[string]interface{}{
		"query": "Handler", "directory": ".",
	})
	if !result.Success {
		t.Fatalf("search failed: %s", result.Error)
	}

	matches := result.Payload["matches"].([]map[string]interface{})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(matches), matches)
	}
}

func TestSearchTextFilePattern(t *testing.T) {
	mockFS, _ := newTestEnv(t)
	ctx := context.Background()
	_ = mockFS.WriteFile(ctx, "a.go", []byte("needle\n"))
	_ = mockFS.WriteFile(ctx, "b.md", []byte("needle\n"))

	tool := NewSearchTextTool(mockFS)
	result := tool.Execute(ctx, map[string]interface{}{
		"query": "needle", "directory": ".", "file_pattern": "*.go",
	})
	matches := result.Payload["matches"].([]map[string]interface{})
	if len(matches) != 1 || matches[0]["file"] != "a.go" {
		t.Errorf("pattern filter failed: %v", matches)
	}
}

func TestSearchTextCapsMatches(t *testing.T) {
	mockFS, _ := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		_ = mockFS.WriteFile(ctx, fmt.Sprintf("f%02d.txt", i), []byte("needle\n"))
	}

	tool := NewSearchTextTool(mockFS)
	result := tool.Execute(ctx, map[string]interface{}{
		"query": "needle", "directory": ".",
	})
	matches := result.Payload["matches"].([]map[string]interface{})
	if len(matches) != maxSearchMatches {
		t.Errorf("expected cap of %d matches, got %d", maxSearchMatches, len(matches))
	}
}

func TestSearchTextSkipsBinaryAndIgnoredDirs(t *testing.T) {
	mockFS, _ := newTestEnv(t)
	ctx := context.Background()
	_ = mockFS.WriteFile(ctx, "bin.dat", []byte("needle\x00needle"))
	_ = mockFS.WriteFile(ctx, "node_modules/x.js", []byte("needle\n"))
	_ = mockFS.WriteFile(ctx, "ok.txt", []byte("needle\n"))

	tool := NewSearchTextTool(mockFS)
	result := tool.Execute(ctx, map[string]interface{}{
		"query": "needle", "directory": ".",
	})
	matches := result.Payload["matches"].([]map[string]interface{})
	if len(matches) != 1 || matches[0]["file"] != "ok.txt" {
		t.Errorf("expected only ok.txt, got %v", matches)
	}
}
