package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockFS is an in-memory FileSystem for tests
type MockFS struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMockFS creates an empty in-memory filesystem
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string][]byte),
		dirs:  map[string]bool{".": true},
	}
}

func normalizeMockPath(path string) string {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	cleaned = strings.TrimPrefix(cleaned, "./")
	if cleaned == "" {
		return "."
	}
	return cleaned
}

func (m *MockFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[normalizeMockPath(path)]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MockFS) ReadFileLines(ctx context.Context, path string, from, to int) ([]string, error) {
	data, err := m.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return sliceLines(data, from, to)
}

func (m *MockFS) WriteFile(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeMockPath(path)
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[key] = stored

	// Materialize parent directories
	for dir := filepath.ToSlash(filepath.Dir(key)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
		m.dirs[dir] = true
	}
	return nil
}

func (m *MockFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := normalizeMockPath(path)
	if data, ok := m.files[key]; ok {
		return &FileInfo{Path: path, Size: int64(len(data)), ModTime: time.Now()}, nil
	}
	if m.dirs[key] {
		return &FileInfo{Path: path, IsDir: true, ModTime: time.Now()}, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFS) ListDir(ctx context.Context, path string) ([]*FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := normalizeMockPath(path)
	if !m.dirs[key] {
		return nil, os.ErrNotExist
	}

	prefix := key + "/"
	if key == "." {
		prefix = ""
	}

	seen := make(map[string]*FileInfo)
	for file, data := range m.files {
		if !strings.HasPrefix(file, prefix) {
			continue
		}
		rest := strings.TrimPrefix(file, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			// A child directory
			name := rest[:idx]
			seen[name] = &FileInfo{Path: filepath.Join(path, name), IsDir: true}
		} else {
			seen[rest] = &FileInfo{Path: filepath.Join(path, rest), Size: int64(len(data))}
		}
	}
	for dir := range m.dirs {
		if !strings.HasPrefix(dir, prefix) || dir == key {
			continue
		}
		rest := strings.TrimPrefix(dir, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			rest = rest[:idx]
		}
		if _, ok := seen[rest]; !ok {
			seen[rest] = &FileInfo{Path: filepath.Join(path, rest), IsDir: true}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]*FileInfo, 0, len(names))
	for _, name := range names {
		result = append(result, seen[name])
	}
	return result, nil
}

func (m *MockFS) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := normalizeMockPath(path)
	if _, ok := m.files[key]; ok {
		return true, nil
	}
	return m.dirs[key], nil
}

func (m *MockFS) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeMockPath(path)
	if _, ok := m.files[key]; ok {
		delete(m.files, key)
		return nil
	}
	if m.dirs[key] {
		prefix := key + "/"
		for file := range m.files {
			if strings.HasPrefix(file, prefix) {
				delete(m.files, file)
			}
		}
		for dir := range m.dirs {
			if dir == key || strings.HasPrefix(dir, prefix) {
				delete(m.dirs, dir)
			}
		}
		return nil
	}
	return os.ErrNotExist
}

func (m *MockFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeMockPath(path)
	for dir := key; dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
		m.dirs[dir] = true
	}
	return nil
}
