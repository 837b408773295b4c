package session

import (
	"testing"

	"github.com/atelier-dev/atelier/internal/llm"
)

func TestTranscriptToolMessagesReferencePrecedingAssistantCalls(t *testing.T) {
	sess := NewSession("", "/workspace")

	sess.AddMessage(&llm.Message{Role: "user", Content: "list files"})
	sess.AddMessage(&llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "list_dir", Arguments: `{"path":"."}`}},
		},
	})
	sess.AddMessage(&llm.Message{Role: "tool", ToolCallID: "call_1", Name: "list_dir", Content: "3 entries"})

	// Every tool message must reference a tool call id from a preceding
	// assistant message.
	known := map[string]bool{}
	for _, msg := range sess.Messages() {
		switch msg.Role {
		case "assistant":
			for _, tc := range msg.ToolCalls {
				known[tc.ID] = true
			}
		case "tool":
			if !known[msg.ToolCallID] {
				t.Errorf("tool message references unknown call id %q", msg.ToolCallID)
			}
		}
	}
}

func TestContextWindowTruncation(t *testing.T) {
	sess := NewSession("s", "/workspace")
	for i := 0; i < 25; i++ {
		sess.AddMessage(&llm.Message{Role: "user", Content: "msg"})
	}

	window := sess.ContextWindow(10)
	if len(window) != 10 {
		t.Errorf("expected 10 context messages, got %d", len(window))
	}
	if sess.MessageCount() != 25 {
		t.Errorf("full transcript must be retained, got %d", sess.MessageCount())
	}

	// Limit larger than transcript returns everything
	if got := len(sess.ContextWindow(100)); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
}

func TestStatsLifecycle(t *testing.T) {
	sess := NewSession("s", "/workspace")

	sess.TrackFileRead("main.go", "package main")
	sess.TrackFileModified("main.go")
	sess.AddLinesWritten(12)
	sess.RecordToolCall("write_file", "success", "wrote main.go")

	stats := sess.StatsSnapshot()
	if stats.LinesWritten != 12 {
		t.Errorf("expected 12 lines written, got %d", stats.LinesWritten)
	}
	if len(stats.FilesModified) != 1 || stats.FilesModified[0] != "main.go" {
		t.Errorf("unexpected modified files: %v", stats.FilesModified)
	}
	if len(stats.ToolCalls) != 1 || stats.ToolCalls[0].Status != "success" {
		t.Errorf("unexpected tool call log: %v", stats.ToolCalls)
	}

	sess.ResetStats()
	stats = sess.StatsSnapshot()
	if stats.LinesWritten != 0 || len(stats.FilesModified) != 0 || len(stats.ToolCalls) != 0 || len(stats.FilesRead) != 0 {
		t.Errorf("stats were not reset: %+v", stats)
	}
	// The read-before-edit check is session-scoped and survives the reset;
	// only the turn accounting is cleared.
	if !sess.WasFileRead("main.go") {
		t.Error("read tracking should survive stats reset")
	}
}

func TestFilesReadStatsAreTurnScoped(t *testing.T) {
	sess := NewSession("s", "/workspace")

	sess.TrackFileRead("turn1.go", "package one")
	stats := sess.StatsSnapshot()
	if len(stats.FilesRead) != 1 || stats.FilesRead[0] != "turn1.go" {
		t.Fatalf("unexpected first-turn reads: %v", stats.FilesRead)
	}

	sess.ResetStats()
	sess.TrackFileRead("turn2.go", "package two")

	stats = sess.StatsSnapshot()
	if len(stats.FilesRead) != 1 || stats.FilesRead[0] != "turn2.go" {
		t.Errorf("second turn must report only its own reads, got %v", stats.FilesRead)
	}
	if !sess.WasFileRead("turn1.go") {
		t.Error("edit permission for earlier reads must survive the new turn")
	}
}

func TestTitleDerivedFromFirstUserMessage(t *testing.T) {
	sess := NewSession("s", "/workspace")
	sess.AddMessage(&llm.Message{Role: "user", Content: "fix the flaky test\nplease"})
	if sess.Title != "fix the flaky test" {
		t.Errorf("unexpected title: %q", sess.Title)
	}
}
