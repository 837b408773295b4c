package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/llm"
	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
)

// Metadata contains lightweight session information for listing
type Metadata struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	WorkspaceDir string    `json:"workspace_dir"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store persists conversations. Persistence is best effort: callers log
// failures but never block the agent loop on them.
type Store interface {
	Save(s *Session) error
	Load(id string) (*Session, error)
	List() ([]*Metadata, error)
	Delete(id string) error
	Close() error
}

// SQLiteStore keeps sessions in a local SQLite database
type SQLiteStore struct {
	db *sql.DB

	mu         sync.Mutex
	lastHashes map[string]uint64 // session id -> hash of last saved payload
}

// NewSQLiteStore opens (and migrates) the session database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	store := &SQLiteStore{db: db, lastHashes: make(map[string]uint64)}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		workspace_dir TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		messages TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts the session. Unchanged transcripts are skipped via a content
// hash to avoid rewriting rows on every round.
func (s *SQLiteStore) Save(sess *Session) error {
	messages := sess.Messages()
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	hash := xxhash.Sum64(payload)
	s.mu.Lock()
	if prev, ok := s.lastHashes[sess.ID]; ok && prev == hash {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, title, workspace_dir, created_at, updated_at, message_count, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			messages = excluded.messages`,
		sess.ID, sess.Title, sess.WorkspaceDir, sess.CreatedAt, time.Now(), len(messages), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	s.lastHashes[sess.ID] = hash
	s.mu.Unlock()

	logger.Debug("store: saved session %s (%d messages)", sess.ID, len(messages))
	return nil
}

// Load restores a session by id
func (s *SQLiteStore) Load(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, title, workspace_dir, created_at, updated_at, messages FROM sessions WHERE id = ?`, id)

	var (
		sessionID, title, workspaceDir, payload string
		createdAt, updatedAt                    time.Time
	)
	if err := row.Scan(&sessionID, &title, &workspaceDir, &createdAt, &updatedAt, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var messages []*llm.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}

	sess := NewSession(sessionID, workspaceDir)
	sess.Title = title
	sess.CreatedAt = createdAt
	sess.UpdatedAt = updatedAt
	for _, msg := range messages {
		sess.AddMessage(msg)
	}
	sess.Title = title // AddMessage may re-derive; keep the stored one

	return sess, nil
}

// List returns metadata for all sessions, most recently updated first
func (s *SQLiteStore) List() ([]*Metadata, error) {
	rows, err := s.db.Query(
		`SELECT id, title, workspace_dir, created_at, updated_at, message_count FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var result []*Metadata
	for rows.Next() {
		meta := &Metadata{}
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.WorkspaceDir, &meta.CreatedAt, &meta.UpdatedAt, &meta.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		result = append(result, meta)
	}
	return result, rows.Err()
}

// Delete removes a session
func (s *SQLiteStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.mu.Lock()
	delete(s.lastHashes, id)
	s.mu.Unlock()
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-memory Store for tests and ephemeral runs
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*storedSession
}

type storedSession struct {
	meta     Metadata
	messages []*llm.Message
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*storedSession)}
}

func (m *MemoryStore) Save(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := sess.Messages()
	m.sessions[sess.ID] = &storedSession{
		meta: Metadata{
			ID:           sess.ID,
			Title:        sess.Title,
			WorkspaceDir: sess.WorkspaceDir,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    time.Now(),
			MessageCount: len(messages),
		},
		messages: messages,
	}
	return nil
}

func (m *MemoryStore) Load(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}

	sess := NewSession(id, stored.meta.WorkspaceDir)
	for _, msg := range stored.messages {
		sess.AddMessage(msg)
	}
	sess.Title = stored.meta.Title
	sess.CreatedAt = stored.meta.CreatedAt
	return sess, nil
}

func (m *MemoryStore) List() ([]*Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Metadata, 0, len(m.sessions))
	for _, stored := range m.sessions {
		meta := stored.meta
		result = append(result, &meta)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
