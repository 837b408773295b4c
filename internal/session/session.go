package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/llm"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ToolCallRecord is one entry in the per-turn tool call log
type ToolCallRecord struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "success", "error", "rejected"
	Message string `json:"message,omitempty"`
}

// Stats accumulates per-turn activity. It is reset at the start of each
// top-level user request and reported in the final done event.
type Stats struct {
	LinesWritten  int              `json:"lines_written"`
	FilesModified []string         `json:"files_modified"`
	FilesRead     []string         `json:"files_read"`
	ToolCalls     []ToolCallRecord `json:"tool_calls"`
}

// Session manages one conversation: the transcript, per-turn stats and the
// read/modified file tracking tools rely on.
type Session struct {
	ID           string
	Title        string
	WorkspaceDir string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	mu            sync.RWMutex
	messages      []*llm.Message
	filesRead     map[string]uint64 // path -> content hash at read time, session-scoped
	turnFilesRead map[string]bool   // files read this turn, reset with the stats
	filesModified map[string]bool
	linesWritten  int
	toolCalls     []ToolCallRecord
}

// NewSession creates an empty session for the given workspace
func NewSession(id, workspaceDir string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		ID:            id,
		WorkspaceDir:  workspaceDir,
		CreatedAt:     now,
		UpdatedAt:     now,
		filesRead:     make(map[string]uint64),
		turnFilesRead: make(map[string]bool),
		filesModified: make(map[string]bool),
	}
}

// AddMessage appends a message to the transcript. Messages are immutable once
// appended; corrections arrive as new messages.
func (s *Session) AddMessage(msg *llm.Message) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.UpdatedAt = time.Now()

	if s.Title == "" && msg.Role == "user" {
		s.Title = deriveTitle(msg.Content)
	}
}

// Messages returns a copy of the full transcript
func (s *Session) Messages() []*llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the transcript length
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ContextWindow returns the most recent limit messages used as model context.
// The full transcript is always retained for history and persistence.
func (s *Session) ContextWindow(limit int) []*llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || len(s.messages) <= limit {
		out := make([]*llm.Message, len(s.messages))
		copy(out, s.messages)
		return out
	}

	out := make([]*llm.Message, limit)
	copy(out, s.messages[len(s.messages)-limit:])
	return out
}

// TrackFileRead records that a file's content was read. The session-scoped
// map backs the read-before-edit check; the per-turn set feeds the stats.
func (s *Session) TrackFileRead(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesRead[path] = xxhash.Sum64String(content)
	s.turnFilesRead[path] = true
}

// WasFileRead reports whether a file was read this session
func (s *Session) WasFileRead(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.filesRead[path]
	return ok
}

// TrackFileModified records a file mutation
func (s *Session) TrackFileModified(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesModified[path] = true
}

// AddLinesWritten adds to the per-turn written line counter
func (s *Session) AddLinesWritten(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linesWritten += n
}

// RecordToolCall appends one entry to the per-turn tool call log
func (s *Session) RecordToolCall(name, status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = append(s.toolCalls, ToolCallRecord{Name: name, Status: status, Message: message})
}

// ResetStats clears the per-turn accumulators. Called at the start of each
// top-level user request; the transcript and the session-scoped read-tracking
// map are untouched.
func (s *Session) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnFilesRead = make(map[string]bool)
	s.filesModified = make(map[string]bool)
	s.linesWritten = 0
	s.toolCalls = nil
}

// StatsSnapshot returns a copy of the current per-turn stats
func (s *Session) StatsSnapshot() *Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Stats{
		LinesWritten:  s.linesWritten,
		FilesModified: sortedKeys(s.filesModified),
		FilesRead:     sortedKeys(s.turnFilesRead),
		ToolCalls:     append([]ToolCallRecord(nil), s.toolCalls...),
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > 64 {
		title = title[:64]
	}
	return title
}
