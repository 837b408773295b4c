package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFS(t *testing.T) (*WorkspaceFS, string) {
	t.Helper()
	root := t.TempDir()
	wfs := NewWorkspaceFS(root, 5*time.Second, 16)
	t.Cleanup(func() { _ = wfs.Close() })
	return wfs, root
}

func TestResolveContainment(t *testing.T) {
	wfs, root := newTestFS(t)

	abs, err := wfs.Resolve("sub/file.txt")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if abs != filepath.Join(root, "sub", "file.txt") {
		t.Errorf("unexpected resolved path: %s", abs)
	}

	for _, escape := range []string{"../outside.txt", "sub/../../etc/passwd", "/etc/passwd"} {
		if _, err := wfs.Resolve(escape); err == nil {
			t.Errorf("expected containment error for %q", escape)
		}
	}

	// The root itself is inside the workspace
	if _, err := wfs.Resolve("."); err != nil {
		t.Errorf("root must resolve: %v", err)
	}
}

func TestWriteCreatesParents(t *testing.T) {
	wfs, root := newTestFS(t)
	ctx := context.Background()

	if err := wfs.WriteFile(ctx, "a/b/c.txt", []byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "a", "b", "c.txt"))
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected content: %s", data)
	}
}

func TestReadFileLines(t *testing.T) {
	wfs, _ := newTestFS(t)
	ctx := context.Background()

	if err := wfs.WriteFile(ctx, "lines.txt", []byte("one\ntwo\nthree\nfour")); err != nil {
		t.Fatal(err)
	}

	lines, err := wfs.ReadFileLines(ctx, "lines.txt", 2, 3)
	if err != nil {
		t.Fatalf("read lines failed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "two" || lines[1] != "three" {
		t.Errorf("unexpected lines: %v", lines)
	}

	// Last line without trailing newline
	lines, err = wfs.ReadFileLines(ctx, "lines.txt", 4, 4)
	if err != nil {
		t.Fatalf("read last line failed: %v", err)
	}
	if len(lines) != 1 || lines[0] != "four" {
		t.Errorf("unexpected last line: %v", lines)
	}

	if _, err := wfs.ReadFileLines(ctx, "lines.txt", 10, 20); err == nil {
		t.Error("expected error for out-of-range start line")
	}
}

func TestDeleteRefusesRoot(t *testing.T) {
	wfs, _ := newTestFS(t)
	if err := wfs.Delete(context.Background(), "."); err == nil {
		t.Error("expected refusal to delete workspace root")
	}
}

func TestDeleteRecursive(t *testing.T) {
	wfs, root := newTestFS(t)
	ctx := context.Background()

	if err := wfs.WriteFile(ctx, "dir/one.txt", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := wfs.WriteFile(ctx, "dir/nested/two.txt", []byte("2")); err != nil {
		t.Fatal(err)
	}

	if err := wfs.Delete(ctx, "dir"); err != nil {
		t.Fatalf("recursive delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dir")); !os.IsNotExist(err) {
		t.Error("directory should be gone")
	}
}

func TestMockFSRoundTrip(t *testing.T) {
	m := NewMockFS()
	ctx := context.Background()

	if err := m.WriteFile(ctx, "src/main.go", []byte("package main")); err != nil {
		t.Fatal(err)
	}

	exists, err := m.Exists(ctx, "src/main.go")
	if err != nil || !exists {
		t.Fatalf("expected file to exist: %v", err)
	}

	entries, err := m.ListDir(ctx, "src")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 || filepath.Base(entries[0].Path) != "main.go" {
		t.Errorf("unexpected listing: %+v", entries)
	}

	if err := m.Delete(ctx, "src/main.go"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	exists, _ = m.Exists(ctx, "src/main.go")
	if exists {
		t.Error("file should be deleted")
	}
}
