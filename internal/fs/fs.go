package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// FileInfo represents file metadata
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileSystem is an abstraction over filesystem operations. All paths are
// interpreted relative to the workspace root.
type FileSystem interface {
	// ReadFile reads the entire file
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// ReadFileLines reads the inclusive 1-indexed line range [from, to]
	ReadFileLines(ctx context.Context, path string, from, to int) ([]string, error)
	// WriteFile writes data to a file, creating parent directories as needed
	WriteFile(ctx context.Context, path string, data []byte) error
	// Stat returns file information
	Stat(ctx context.Context, path string) (*FileInfo, error)
	// ListDir lists directory contents
	ListDir(ctx context.Context, path string) ([]*FileInfo, error)
	// Exists checks if a file exists
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes a file or directory tree
	Delete(ctx context.Context, path string) error
	// MkdirAll creates a directory and all parent directories
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
}

// ErrOutsideWorkspace is returned when a path escapes the workspace root.
var ErrOutsideWorkspace = fmt.Errorf("path resolves outside the workspace")

// WorkspaceFS is a filesystem rooted at a workspace directory. Every path is
// resolved against the root and rejected if it escapes it. Directory listings
// are cached and invalidated by fsnotify events.
type WorkspaceFS struct {
	root       string
	dirCache   map[string]*dirCacheEntry
	cacheMu    sync.RWMutex
	cacheTTL   time.Duration
	maxEntries int
	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	closeOnce  sync.Once
}

type dirCacheEntry struct {
	entries   []*FileInfo
	timestamp time.Time
}

// NewWorkspaceFS creates a workspace-rooted filesystem with listing cache.
func NewWorkspaceFS(root string, cacheTTL time.Duration, maxEntries int) *WorkspaceFS {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Global().Warn("failed to create file watcher: %v", err)
	}

	wfs := &WorkspaceFS{
		root:       absRoot,
		dirCache:   make(map[string]*dirCacheEntry),
		cacheTTL:   cacheTTL,
		maxEntries: maxEntries,
		watcher:    watcher,
		stopWatch:  make(chan struct{}),
	}

	if watcher != nil {
		go wfs.watchFiles()
	}

	return wfs
}

// Root returns the absolute workspace root
func (wfs *WorkspaceFS) Root() string {
	return wfs.root
}

// Close stops the filesystem watcher
func (wfs *WorkspaceFS) Close() error {
	var err error
	wfs.closeOnce.Do(func() {
		close(wfs.stopWatch)
		if wfs.watcher != nil {
			err = wfs.watcher.Close()
		}
	})
	return err
}

func (wfs *WorkspaceFS) watchFiles() {
	for {
		select {
		case <-wfs.stopWatch:
			return
		case event, ok := <-wfs.watcher.Events:
			if !ok {
				return
			}
			dir := filepath.Dir(event.Name)
			wfs.cacheMu.Lock()
			delete(wfs.dirCache, dir)
			wfs.cacheMu.Unlock()
		case err, ok := <-wfs.watcher.Errors:
			if !ok {
				return
			}
			logger.Global().Error("filesystem watcher error: %v", err)
		}
	}
}

// Resolve maps a tool-supplied path to an absolute path inside the workspace.
// Absolute paths are accepted only when they already point into the root.
func (wfs *WorkspaceFS) Resolve(path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(wfs.root, abs)
	}
	abs = filepath.Clean(abs)

	if abs != wfs.root && !strings.HasPrefix(abs, wfs.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return abs, nil
}

func (wfs *WorkspaceFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	abs, err := wfs.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (wfs *WorkspaceFS) ReadFileLines(ctx context.Context, path string, from, to int) ([]string, error) {
	data, err := wfs.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return sliceLines(data, from, to)
}

func (wfs *WorkspaceFS) WriteFile(ctx context.Context, path string, data []byte) error {
	abs, err := wfs.Resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(abs, data, 0644); err != nil {
		return err
	}

	wfs.invalidate(dir)
	if wfs.watcher != nil {
		if err := wfs.watcher.Add(dir); err != nil {
			logger.Global().Warn("WorkspaceFS: failed to watch %s: %v", dir, err)
		}
	}

	return nil
}

func (wfs *WorkspaceFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	abs, err := wfs.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (wfs *WorkspaceFS) ListDir(ctx context.Context, path string) ([]*FileInfo, error) {
	abs, err := wfs.Resolve(path)
	if err != nil {
		return nil, err
	}

	wfs.cacheMu.RLock()
	if entry, ok := wfs.dirCache[abs]; ok {
		if time.Since(entry.timestamp) < wfs.cacheTTL {
			wfs.cacheMu.RUnlock()
			return entry.entries, nil
		}
	}
	wfs.cacheMu.RUnlock()

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	result := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Skip entries that disappear mid-listing
			continue
		}
		result = append(result, &FileInfo{
			Path:    filepath.Join(path, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}

	wfs.cacheMu.Lock()
	if len(wfs.dirCache) >= wfs.maxEntries {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range wfs.dirCache {
			if oldestKey == "" || v.timestamp.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.timestamp
			}
		}
		delete(wfs.dirCache, oldestKey)
	}
	wfs.dirCache[abs] = &dirCacheEntry{entries: result, timestamp: time.Now()}
	wfs.cacheMu.Unlock()

	if wfs.watcher != nil {
		if err := wfs.watcher.Add(abs); err != nil {
			logger.Global().Warn("WorkspaceFS: failed to watch %s: %v", abs, err)
		}
	}

	return result, nil
}

func (wfs *WorkspaceFS) Exists(ctx context.Context, path string) (bool, error) {
	abs, err := wfs.Resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (wfs *WorkspaceFS) Delete(ctx context.Context, path string) error {
	abs, err := wfs.Resolve(path)
	if err != nil {
		return err
	}
	if abs == wfs.root {
		return fmt.Errorf("refusing to delete the workspace root")
	}

	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return err
	}

	wfs.invalidate(filepath.Dir(abs))
	return nil
}

func (wfs *WorkspaceFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	abs, err := wfs.Resolve(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, perm)
}

func (wfs *WorkspaceFS) invalidate(absDir string) {
	wfs.cacheMu.Lock()
	defer wfs.cacheMu.Unlock()
	delete(wfs.dirCache, absDir)
}

// sliceLines returns the inclusive 1-indexed range [from, to] of lines in data.
func sliceLines(data []byte, from, to int) ([]string, error) {
	if from < 1 || to < from {
		return nil, fmt.Errorf("invalid line range %d-%d", from, to)
	}

	lines := make([]string, 0)
	currentLine := 1
	lineStart := 0

	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			if currentLine >= from && currentLine <= to {
				lines = append(lines, string(data[lineStart:i]))
			}
			currentLine++
			lineStart = i + 1
			if currentLine > to {
				break
			}
		}
	}

	if lineStart < len(data) && currentLine >= from && currentLine <= to {
		lines = append(lines, string(data[lineStart:]))
	}

	if from > currentLine {
		return nil, fmt.Errorf("from line %d exceeds file length %d", from, currentLine-1)
	}

	return lines, nil
}
