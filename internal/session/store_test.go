package session

import (
	"path/filepath"
	"testing"

	"github.com/atelier-dev/atelier/internal/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSession(id string) *Session {
	sess := NewSession(id, "/workspace")
	sess.AddMessage(&llm.Message{Role: "user", Content: "hello"})
	sess.AddMessage(&llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "list_dir", Arguments: "{}"}},
		},
	})
	sess.AddMessage(&llm.Message{Role: "tool", ToolCallID: "call_1", Name: "list_dir", Content: "ok"})
	return sess
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession("s1")

	if err := store.Save(sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load("s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if loaded.MessageCount() != 3 {
		t.Errorf("expected 3 messages, got %d", loaded.MessageCount())
	}
	msgs := loaded.Messages()
	if msgs[1].ToolCalls[0].ID != "call_1" {
		t.Errorf("tool calls did not round trip: %+v", msgs[1])
	}
	if msgs[2].ToolCallID != "call_1" {
		t.Errorf("tool call id did not round trip: %+v", msgs[2])
	}
}

func TestSQLiteStoreListAndDelete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(seedSession("a")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(seedSession("b")); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(metas))
	}
	if metas[0].MessageCount != 3 {
		t.Errorf("expected message count 3, got %d", metas[0].MessageCount)
	}

	if err := store.Delete("a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	metas, _ = store.List()
	if len(metas) != 1 || metas[0].ID != "b" {
		t.Errorf("unexpected sessions after delete: %+v", metas)
	}

	if _, err := store.Load("a"); err == nil {
		t.Error("expected load of deleted session to fail")
	}
}

func TestSQLiteStoreSkipsUnchangedSaves(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession("s1")

	if err := store.Save(sess); err != nil {
		t.Fatal(err)
	}
	// Second save with identical transcript is a no-op; it must not error.
	if err := store.Save(sess); err != nil {
		t.Fatalf("unchanged save failed: %v", err)
	}

	sess.AddMessage(&llm.Message{Role: "assistant", Content: "done"})
	if err := store.Save(sess); err != nil {
		t.Fatalf("changed save failed: %v", err)
	}

	loaded, err := store.Load("s1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.MessageCount() != 4 {
		t.Errorf("expected 4 messages after resave, got %d", loaded.MessageCount())
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Save(seedSession("m1")); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load("m1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.MessageCount() != 3 {
		t.Errorf("expected 3 messages, got %d", loaded.MessageCount())
	}

	if err := store.Delete("m1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("m1"); err == nil {
		t.Error("expected load after delete to fail")
	}
}
