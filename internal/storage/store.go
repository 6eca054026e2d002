// Package storage is the client's durable local store: whole-document JSON
// blobs keyed by name, backed by a per-client SQLite file. There is no
// concurrent writer (the session event loop serializes mutations), so the
// store only guards against accidental cross-goroutine use.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// Document keys used by the client.
const (
	DocSession      = "session"
	DocMessages     = "messages"
	DocSentMessages = "sent_messages"
	DocTeacherInbox = "teacher_inbox"
)

// Store holds one client's documents.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// Open creates or opens the store at path. ":memory:" is accepted for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection: the documents table is tiny and single-owner.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveDocument overwrites the full document under key. The write completes
// before return so the in-memory state and the stored state never diverge.
func (s *Store) SaveDocument(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", key, err)
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO documents (key, value) VALUES (?, ?)`, key, blob,
	); err != nil {
		return fmt.Errorf("save document %q: %w", key, err)
	}
	return nil
}

// LoadDocument reads the document under key into out. Reports false when no
// document exists.
func (s *Store) LoadDocument(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	var blob []byte
	err := s.db.QueryRow(`SELECT value FROM documents WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load document %q: %w", key, err)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("unmarshal document %q: %w", key, err)
	}
	return true, nil
}

// DeleteDocument removes the document under key. Deleting a missing
// document is not an error.
func (s *Store) DeleteDocument(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(`DELETE FROM documents WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete document %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
